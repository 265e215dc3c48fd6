package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecorder() (chan []string, FlushFunc) {
	ch := make(chan []string, 8)
	return ch, func(_ context.Context, keys []string) { ch <- keys }
}

func receive(t *testing.T, ch chan []string) []string {
	t.Helper()
	select {
	case keys := <-ch:
		return keys
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for flush")
		return nil
	}
}

func assertNoFlush(t *testing.T, ch chan []string) {
	t.Helper()
	select {
	case keys := <-ch:
		t.Fatalf("unexpected flush: %v", keys)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBatcher_CoalescesDuplicatesInWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	flushed, fn := newRecorder()
	b := NewBatcher(Options{Window: 300 * time.Millisecond, Clock: clock}, fn)

	assert.True(t, b.Enqueue("x"))
	assert.False(t, b.Enqueue("x"))
	assert.False(t, b.Enqueue("x"))

	clock.Advance(299 * time.Millisecond)
	assertNoFlush(t, flushed)

	clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"x"}, receive(t, flushed))

	b.Wait()
	assertNoFlush(t, flushed)
	assert.Empty(t, b.Pending())
}

func TestBatcher_UnionOfKeysInOneFlush(t *testing.T) {
	clock := clockwork.NewFakeClock()
	flushed, fn := newRecorder()
	b := NewBatcher(Options{Window: 300 * time.Millisecond, Clock: clock}, fn)

	b.Enqueue("n1")
	clock.Advance(100 * time.Millisecond)
	b.Enqueue("n2")
	b.Enqueue("n1")
	clock.Advance(200 * time.Millisecond)

	assert.Equal(t, []string{"n1", "n2"}, receive(t, flushed))
}

func TestBatcher_NewWindowAfterFlush(t *testing.T) {
	clock := clockwork.NewFakeClock()
	flushed, fn := newRecorder()
	b := NewBatcher(Options{Window: 300 * time.Millisecond, Clock: clock}, fn)

	b.Enqueue("a")
	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, []string{"a"}, receive(t, flushed))
	b.Wait()

	assert.True(t, b.Enqueue("a"))
	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, []string{"a"}, receive(t, flushed))
}

func TestBatcher_ThresholdFlushesEarly(t *testing.T) {
	clock := clockwork.NewFakeClock()
	flushed, fn := newRecorder()
	b := NewBatcher(Options{Window: time.Minute, MaxSize: 2, Clock: clock}, fn)

	b.Enqueue("a")
	b.Enqueue("b")

	assert.Equal(t, []string{"a", "b"}, receive(t, flushed))
	clock.Advance(time.Minute)
	b.Wait()
	assertNoFlush(t, flushed)
}

func TestBatcher_RemovingLastKeyCancelsTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	flushed, fn := newRecorder()
	b := NewBatcher(Options{Window: 300 * time.Millisecond, Clock: clock}, fn)

	b.Enqueue("a")
	b.Enqueue("b")
	assert.True(t, b.Remove("a"))
	assert.True(t, b.Remove("b"))
	assert.False(t, b.Remove("b"))

	clock.Advance(time.Second)
	assertNoFlush(t, flushed)
	assert.Empty(t, b.Pending())
}

func TestBatcher_FlushIsSynchronous(t *testing.T) {
	var got []string
	b := NewBatcher(Options{Window: time.Hour}, func(_ context.Context, keys []string) { got = keys })

	b.Enqueue("a")
	b.Flush()
	assert.Equal(t, []string{"a"}, got)

	got = nil
	b.Flush()
	assert.Nil(t, got)
}

func TestBatcher_Remove(t *testing.T) {
	clock := clockwork.NewFakeClock()
	flushed, fn := newRecorder()
	b := NewBatcher(Options{Window: 300 * time.Millisecond, Clock: clock}, fn)

	b.Enqueue("a")
	b.Enqueue("b")
	require.True(t, b.Remove("a"))
	assert.False(t, b.Remove("zzz"))

	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, []string{"b"}, receive(t, flushed))
}

func TestBatcher_CloseFlushesAndRejects(t *testing.T) {
	flushed, fn := newRecorder()
	b := NewBatcher(Options{Window: time.Hour}, fn)

	b.Enqueue("a")
	b.Close()
	assert.Equal(t, []string{"a"}, receive(t, flushed))
	assert.False(t, b.Enqueue("b"))
}
