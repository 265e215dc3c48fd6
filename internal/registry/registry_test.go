package registry

import (
	"testing"

	"gigsync/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendControl(action transport.Action, topic string) error {
	args := m.Called(action, topic)
	return args.Error(0)
}

// sent returns the control messages recorded since the last call.
func (m *mockSender) sent() []string {
	var out []string
	for _, c := range m.Calls {
		out = append(out, string(c.Arguments.Get(0).(transport.Action))+" "+c.Arguments.String(1))
	}
	m.Calls = nil
	return out
}

func newConnected(t *testing.T) (*Registry, *mockSender) {
	t.Helper()
	s := &mockSender{}
	s.On("SendControl", mock.Anything, mock.Anything).Return(nil)
	r := New(s, nil)
	r.Connected()
	return r, s
}

func ackAll(r *Registry, msgs []string) {
	for _, m := range msgs {
		switch {
		case len(m) > 10 && m[:10] == "subscribe ":
			r.Acknowledged(transport.ActionSubscribe, m[10:])
		case len(m) > 12 && m[:12] == "unsubscribe ":
			r.Acknowledged(transport.ActionUnsubscribe, m[12:])
		}
	}
}

func TestRegistry_DiffSendsOnlyChanges(t *testing.T) {
	r, s := newConnected(t)
	r.SetGroups([]string{"A", "B"})
	ackAll(r, s.sent())

	r.SetGroups([]string{"B", "C"})
	msgs := s.sent()
	assert.Equal(t, []string{"subscribe group:C", "unsubscribe group:A"}, msgs)
	for _, m := range msgs {
		assert.NotContains(t, m, "group:B")
	}
}

func TestRegistry_UserAndGroupTopics(t *testing.T) {
	r, s := newConnected(t)
	r.SetUser("42")
	r.SetGroups([]string{"7"})

	assert.Equal(t, []string{"subscribe user:42", "subscribe group:7"}, s.sent())
	assert.Equal(t, []string{"group:7", "user:42"}, r.Desired())
	assert.Equal(t, []Subscription{
		{Topic: "group:7", State: StatePending},
		{Topic: "user:42", State: StatePending},
	}, r.Snapshot())

	r.Acknowledged(transport.ActionSubscribe, "user:42")
	assert.Equal(t, StateActive, r.Snapshot()[1].State)
}

func TestRegistry_NeverResubscribesTrackedTopic(t *testing.T) {
	r, s := newConnected(t)
	r.SetUser("42")
	r.SetGroups([]string{"7"})
	msgs := s.sent()
	assert.Len(t, msgs, 2)

	// Still pending: nothing is resent.
	r.SetGroups([]string{"7"})
	assert.Empty(t, s.sent())

	ackAll(r, msgs)
	r.SetGroups([]string{"7"})
	r.SetUser("42")
	assert.Empty(t, s.sent())
}

func TestRegistry_ReconnectResubscribesEverything(t *testing.T) {
	r, s := newConnected(t)
	r.SetUser("42")
	r.SetGroups([]string{"7"})
	ackAll(r, s.sent())

	r.Disconnected()
	assert.Empty(t, r.Snapshot())

	r.Connected()
	assert.ElementsMatch(t, []string{"subscribe user:42", "subscribe group:7"}, s.sent())
}

func TestRegistry_OfflineChangesWaitForConnect(t *testing.T) {
	s := &mockSender{}
	s.On("SendControl", mock.Anything, mock.Anything).Return(nil)
	r := New(s, nil)

	r.SetUser("42")
	r.SetGroups([]string{"1", "2"})
	r.SetGroups([]string{"2"})
	s.AssertNotCalled(t, "SendControl", mock.Anything, mock.Anything)

	r.Connected()
	assert.Equal(t, []string{"subscribe group:2", "subscribe user:42"}, s.sent())
}

func TestRegistry_UnsubscribeOfPendingTopicWaitsForAck(t *testing.T) {
	r, s := newConnected(t)
	r.SetGroups([]string{"7"})
	assert.Equal(t, []string{"subscribe group:7"}, s.sent())

	r.SetGroups(nil)
	assert.Empty(t, s.sent())

	r.Acknowledged(transport.ActionSubscribe, "group:7")
	assert.Equal(t, []string{"unsubscribe group:7"}, s.sent())
	assert.Equal(t, []Subscription{{Topic: "group:7", State: StateClosing}}, r.Snapshot())

	r.Acknowledged(transport.ActionUnsubscribe, "group:7")
	assert.Empty(t, r.Snapshot())
	assert.Empty(t, s.sent())
}

func TestRegistry_ReaddWhilePendingCancelsUnsubscribe(t *testing.T) {
	r, s := newConnected(t)
	r.SetGroups([]string{"7"})
	r.SetGroups(nil)
	r.SetGroups([]string{"7"})
	assert.Equal(t, []string{"subscribe group:7"}, s.sent())

	r.Acknowledged(transport.ActionSubscribe, "group:7")
	assert.Empty(t, s.sent())
	assert.Equal(t, []Subscription{{Topic: "group:7", State: StateActive}}, r.Snapshot())
}

func TestRegistry_ReaddWhileClosingResubscribesAfterAck(t *testing.T) {
	r, s := newConnected(t)
	r.SetGroups([]string{"7"})
	ackAll(r, s.sent())

	r.SetGroups(nil)
	assert.Equal(t, []string{"unsubscribe group:7"}, s.sent())
	r.SetGroups([]string{"7"})
	assert.Empty(t, s.sent())

	r.Acknowledged(transport.ActionUnsubscribe, "group:7")
	assert.Equal(t, []string{"subscribe group:7"}, s.sent())
	assert.Equal(t, StatePending, r.Snapshot()[0].State)
}

func TestRegistry_FailedSendLeavesTopicUntracked(t *testing.T) {
	s := &mockSender{}
	s.On("SendControl", transport.ActionSubscribe, "group:7").Return(transport.ErrNotConnected)
	s.On("SendControl", mock.Anything, mock.Anything).Return(nil)
	r := New(s, nil)
	r.Connected()

	r.SetGroups([]string{"7"})
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, []string{"group:7"}, r.Desired())
}

func TestRegistry_IgnoresStrayAcks(t *testing.T) {
	r, s := newConnected(t)
	r.Acknowledged(transport.ActionSubscribe, "group:99")
	r.Acknowledged(transport.ActionUnsubscribe, "group:99")
	assert.Empty(t, r.Snapshot())
	assert.Empty(t, s.sent())
}
