package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gigsync/internal/common"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingServer answers every request with {"n": <hit number>}.
func countingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"n":` + itoa(n) + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func itoa(n int32) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestClient(baseURL string, clock clockwork.Clock) *Client {
	return New(Options{BaseURL: baseURL, Token: "tok", Clock: clock, Timeout: 2 * time.Second})
}

func TestGet_CachedWithinTTL_OneNetworkCall(t *testing.T) {
	srv, hits := countingServer(t)
	clock := clockwork.NewFakeClock()
	c := newTestClient(srv.URL, clock)
	ctx := context.Background()

	first, err := c.Get(ctx, "/api/notifications?page=1&limit=20", true)
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	second, err := c.Get(ctx, "/api/notifications?page=1&limit=20", true)
	require.NoError(t, err)

	c.Wait()
	assert.Equal(t, int32(1), hits.Load())
	assert.JSONEq(t, string(first), string(second))
}

func TestGet_StaleServedImmediatelyWithOneBackgroundRefresh(t *testing.T) {
	srv, hits := countingServer(t)
	clock := clockwork.NewFakeClock()
	c := newTestClient(srv.URL, clock)
	ctx := context.Background()
	endpoint := "/api/notifications?page=1&limit=20"

	_, err := c.Get(ctx, endpoint, true)
	require.NoError(t, err)

	clock.Advance(DefaultTTL + time.Second)

	stale, err := c.Get(ctx, endpoint, true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(stale))

	again, err := c.Get(ctx, endpoint, true)
	require.NoError(t, err)
	assert.NotEmpty(t, again)

	c.Wait()
	assert.Equal(t, int32(2), hits.Load())

	fresh, err := c.Get(ctx, endpoint, true)
	require.NoError(t, err)
	c.Wait()
	assert.JSONEq(t, `{"n":2}`, string(fresh))
	assert.Equal(t, int32(2), hits.Load())
}

func TestGet_WithoutCacheAlwaysFetchesAndRefreshesEntry(t *testing.T) {
	srv, hits := countingServer(t)
	c := newTestClient(srv.URL, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := c.Get(ctx, "/x", true)
	require.NoError(t, err)
	_, err = c.Get(ctx, "/x", false)
	require.NoError(t, err)

	cached, err := c.Get(ctx, "/x", true)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(cached))
	assert.Equal(t, int32(2), hits.Load())
}

func TestMutations_NeverTouchCache(t *testing.T) {
	srv, hits := countingServer(t)
	cache := NewMemoryCache()
	c := New(Options{BaseURL: srv.URL, Cache: cache, Clock: clockwork.NewFakeClock()})
	ctx := context.Background()

	_, err := c.Put(ctx, "/api/notifications/n1/read", nil)
	require.NoError(t, err)
	_, err = c.Post(ctx, "/api/notifications", map[string]string{"a": "b"})
	require.NoError(t, err)
	_, err = c.Patch(ctx, "/api/notifications/n1", map[string]bool{"isRead": true})
	require.NoError(t, err)
	_, err = c.Delete(ctx, "/api/notifications/n1", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, int32(4), hits.Load())
}

func TestRequest_SendsAuthAndRequestID(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, clockwork.NewFakeClock())
	_, err := c.Put(context.Background(), "/api/notifications/read-all", nil)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.NotEmpty(t, got.Get("X-Request-ID"))
}

func TestRequest_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Get(context.Background(), "/slow", false)

	require.Error(t, err)
	assert.Equal(t, common.KindTimeout, common.KindOf(err))
}

func TestRequest_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Options{BaseURL: url})
	_, err := c.Get(context.Background(), "/gone", false)

	require.Error(t, err)
	assert.Equal(t, common.KindNetwork, common.KindOf(err))
}

func TestRequest_StructuredServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"statusCode":409,"error":"Conflict","message":"already read","details":{"id":"n1"}}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	_, err := c.Put(context.Background(), "/api/notifications/n1/read", nil)

	var reqErr *common.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, common.KindServer, reqErr.Kind)
	assert.Equal(t, http.StatusConflict, reqErr.StatusCode)
	assert.Equal(t, "Conflict", reqErr.Code)
	assert.Equal(t, "already read", reqErr.Message)
	assert.Equal(t, map[string]any{"id": "n1"}, reqErr.Details)
}

func TestRequest_MalformedErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	_, err := c.Get(context.Background(), "/x", false)

	var reqErr *common.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, common.KindUnknown, reqErr.Kind)
	assert.Equal(t, http.StatusBadGateway, reqErr.StatusCode)
}

func TestRequest_ErrorsAreNotCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	_, err := c.Get(context.Background(), "/x", true)
	require.Error(t, err)
	_, err = c.Get(context.Background(), "/x", true)
	require.Error(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClearCache_Pattern(t *testing.T) {
	srv, _ := countingServer(t)
	cache := NewMemoryCache()
	c := New(Options{BaseURL: srv.URL, Cache: cache})
	ctx := context.Background()

	for _, ep := range []string{"/api/notifications?page=1", "/api/notifications?page=2", "/api/gigs"} {
		_, err := c.Get(ctx, ep, true)
		require.NoError(t, err)
	}
	require.Equal(t, 3, cache.Len())

	require.NoError(t, c.ClearCache(ctx, `^/api/notifications`))
	assert.Equal(t, 1, cache.Len())

	require.NoError(t, c.ClearCache(ctx, ""))
	assert.Equal(t, 0, cache.Len())

	err := c.ClearCache(ctx, "([")
	var validation *common.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestDecode_ParseError(t *testing.T) {
	_, err := Decode[map[string]int](json.RawMessage(`{"n":`))
	assert.Equal(t, common.KindParse, common.KindOf(err))

	v, err := Decode[map[string]int](json.RawMessage(`{"n":3}`))
	require.NoError(t, err)
	assert.Equal(t, 3, v["n"])
}

func TestUploadFile_ProgressAndResult(t *testing.T) {
	var gotName string
	var gotSize int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("avatar")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		gotName, gotSize = header.Filename, len(data)
		_, _ = w.Write([]byte(`{"url":"https://cdn.example.test/a.png"}`))
	}))
	defer srv.Close()

	var mu sync.Mutex
	var progress []int
	c := New(Options{BaseURL: srv.URL})
	raw, err := c.UploadFile(context.Background(), "/api/uploads", "avatar", "a.png",
		strings.NewReader(strings.Repeat("x", 64<<10)),
		func(p int) {
			mu.Lock()
			progress = append(progress, p)
			mu.Unlock()
		})
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://cdn.example.test/a.png"}`, string(raw))
	assert.Equal(t, "a.png", gotName)
	assert.Equal(t, 64<<10, gotSize)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progress)
	assert.Equal(t, 0, progress[0])
	assert.Equal(t, 100, progress[len(progress)-1])
	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i], progress[i-1])
	}
}

func TestUploadFile_RejectsOnStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = w.Write([]byte(`{"statusCode":413,"error":"Payload Too Large","message":"file too big"}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	_, err := c.UploadFile(context.Background(), "/api/uploads", "f", "f.bin", strings.NewReader("abc"), nil)

	var reqErr *common.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, common.KindServer, reqErr.Kind)
	assert.Equal(t, http.StatusRequestEntityTooLarge, reqErr.StatusCode)
}
