package solverr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okEnvelope = `{"status": "ok", "message": "Challenge solved!", "startTimestamp": 1700000000000, "endTimestamp": 1700000001000, "version": "3.3.21"}`

// solverStub is a minimal /v1 endpoint that counts requests and records
// the last decoded envelope.
type solverStub struct {
	requests atomic.Int64
	lastBody atomic.Value // map[string]any
	handler  atomic.Value // func(w http.ResponseWriter)
	server   *httptest.Server
}

func newSolverStub(t *testing.T) *solverStub {
	t.Helper()
	stub := &solverStub{}
	stub.respondWith(func(w http.ResponseWriter) {
		w.Write([]byte(okEnvelope))
	})
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.requests.Add(1)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			stub.lastBody.Store(body)
		}
		stub.handler.Load().(func(http.ResponseWriter))(w)
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *solverStub) respondWith(fn func(w http.ResponseWriter)) {
	s.handler.Store(fn)
}

func (s *solverStub) body() map[string]any {
	body, _ := s.lastBody.Load().(map[string]any)
	return body
}

func TestNewSession_Validation(t *testing.T) {
	client := NewClient("http://localhost:0")

	_, err := NewSession(nil, "s", SessionOptions{})
	assert.Error(t, err, "nil client must be rejected")

	_, err = NewSession(client, "", SessionOptions{})
	assert.Error(t, err, "empty id must be rejected")

	_, err = NewSession(client, "s", SessionOptions{TTL: -time.Minute})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestSession_ZeroTTLNeverExpires(t *testing.T) {
	mock := clock.NewMock()
	client := NewClient("http://localhost:0")

	sess, err := NewSession(client, "persistent", SessionOptions{TTL: 0, Clock: mock})
	require.NoError(t, err)

	mock.Add(1000 * time.Hour)
	assert.False(t, sess.Destroyed(), "session without TTL must never auto-expire")
}

func TestSession_ExpiresAfterIdleTTL(t *testing.T) {
	mock := clock.NewMock()
	stub := newSolverStub(t)
	client := NewClient(stub.server.URL)

	sess, err := NewSession(client, "idle", SessionOptions{TTL: time.Minute, Clock: mock})
	require.NoError(t, err)

	var order []string
	sess.OnDestroy(func() { order = append(order, "first") })
	sess.OnDestroy(func() { order = append(order, "second") })

	mock.Add(59 * time.Second)
	assert.False(t, sess.Destroyed())

	mock.Add(time.Second)
	assert.True(t, sess.Destroyed(), "session must expire once the TTL elapses idle")
	assert.Equal(t, []string{"first", "second"}, order, "hooks run once, in registration order")
	assert.EqualValues(t, 0, stub.requests.Load(), "timer-driven expiry issues no remote call")

	// Expiry is terminal and idempotent: nothing fires twice.
	mock.Add(time.Minute)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestSession_ActivityExtendsExpiry(t *testing.T) {
	mock := clock.NewMock()
	stub := newSolverStub(t)
	client := NewClient(stub.server.URL)

	sess, err := NewSession(client, "busy", SessionOptions{TTL: 2 * time.Minute, Clock: mock})
	require.NoError(t, err)

	mock.Add(90 * time.Second)
	_, err = sess.Get(context.Background(), RequestParams{URL: "https://example.com"})
	require.NoError(t, err)

	// Original horizon was 2m; activity at 1.5m pushed it to 3.5m.
	mock.Add(30 * time.Second)
	assert.False(t, sess.Destroyed(), "session must survive the original horizon after activity")

	mock.Add(89 * time.Second)
	assert.False(t, sess.Destroyed())

	mock.Add(time.Second)
	assert.True(t, sess.Destroyed(), "session must expire TTL after the last activity")
}

func TestSession_RepeatedActivityPreventsExpiry(t *testing.T) {
	mock := clock.NewMock()
	stub := newSolverStub(t)
	client := NewClient(stub.server.URL)

	sess, err := NewSession(client, "steady", SessionOptions{TTL: time.Minute, Clock: mock})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		mock.Add(45 * time.Second)
		_, err := sess.Get(context.Background(), RequestParams{URL: "https://example.com"})
		require.NoError(t, err)
	}
	assert.False(t, sess.Destroyed(), "calls at sub-TTL intervals must keep the session alive")
}

func TestSession_FailedRequestDoesNotExtend(t *testing.T) {
	mock := clock.NewMock()
	stub := newSolverStub(t)
	stub.respondWith(func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status": "error", "message": "Timeout occurred", "startTimestamp": 0, "endTimestamp": 0, "version": "3.3.21"}`))
	})
	client := NewClient(stub.server.URL)

	sess, err := NewSession(client, "failing", SessionOptions{TTL: 2 * time.Minute, Clock: mock})
	require.NoError(t, err)

	mock.Add(time.Minute)
	_, err = sess.Get(context.Background(), RequestParams{URL: "https://example.com"})
	require.Error(t, err)

	mock.Add(time.Minute)
	assert.True(t, sess.Destroyed(), "failed calls must not push the expiry horizon")
}

func TestSession_DestroyedRejectsFurtherCalls(t *testing.T) {
	stub := newSolverStub(t)
	stub.respondWith(func(w http.ResponseWriter) {
		w.Write([]byte(`{"status": "ok", "message": "The session has been removed.", "startTimestamp": 0, "endTimestamp": 0, "version": "3.3.21"}`))
	})
	client := NewClient(stub.server.URL)

	sess, err := NewSession(client, "doomed", SessionOptions{})
	require.NoError(t, err)

	resp, err := sess.Destroy(context.Background())
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "removed")
	assert.True(t, sess.Destroyed())

	before := stub.requests.Load()

	_, err = sess.Get(context.Background(), RequestParams{URL: "https://example.com"})
	assert.ErrorIs(t, err, ErrSessionDestroyed)

	_, err = sess.Post(context.Background(), RequestParams{URL: "https://example.com"})
	assert.ErrorIs(t, err, ErrSessionDestroyed)

	_, err = sess.Destroy(context.Background())
	assert.ErrorIs(t, err, ErrSessionDestroyed)

	assert.Equal(t, before, stub.requests.Load(), "calls after destroy must not reach the server")
}

func TestSession_DestroyFailureKeepsSessionActive(t *testing.T) {
	stub := newSolverStub(t)
	stub.respondWith(func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status": "error", "message": "boom", "startTimestamp": 0, "endTimestamp": 0, "version": "3.3.21"}`))
	})
	client := NewClient(stub.server.URL)

	sess, err := NewSession(client, "sticky", SessionOptions{})
	require.NoError(t, err)

	_, err = sess.Destroy(context.Background())
	require.Error(t, err)
	assert.False(t, sess.Destroyed(), "a failed remote destroy must leave the session active")

	// The caller may retry once the server recovers.
	stub.respondWith(func(w http.ResponseWriter) {
		w.Write([]byte(okEnvelope))
	})
	_, err = sess.Destroy(context.Background())
	require.NoError(t, err)
	assert.True(t, sess.Destroyed())
}

func TestSession_DestroyCancelsIdleTimer(t *testing.T) {
	mock := clock.NewMock()
	stub := newSolverStub(t)
	client := NewClient(stub.server.URL)

	sess, err := NewSession(client, "timed", SessionOptions{TTL: time.Minute, Clock: mock})
	require.NoError(t, err)

	var fired int
	sess.OnDestroy(func() { fired++ })

	_, err = sess.Destroy(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	mock.Add(time.Hour)
	assert.Equal(t, 1, fired, "the cancelled timer must not fire hooks again")
}

func TestSession_RemovedHookNotInvoked(t *testing.T) {
	mock := clock.NewMock()
	client := NewClient("http://localhost:0")

	sess, err := NewSession(client, "hooked", SessionOptions{TTL: time.Minute, Clock: mock})
	require.NoError(t, err)

	var kept, removed int
	sess.OnDestroy(func() { kept++ })
	remove := sess.OnDestroy(func() { removed++ })
	remove()
	remove() // double removal is safe

	mock.Add(time.Minute)
	assert.Equal(t, 1, kept)
	assert.Equal(t, 0, removed, "a removed hook must never fire")
}

func TestSession_HookAfterDestroyIsNoop(t *testing.T) {
	mock := clock.NewMock()
	client := NewClient("http://localhost:0")

	sess, err := NewSession(client, "late", SessionOptions{TTL: time.Minute, Clock: mock})
	require.NoError(t, err)

	mock.Add(time.Minute)
	require.True(t, sess.Destroyed())

	var fired int
	remove := sess.OnDestroy(func() { fired++ })
	remove()

	mock.Add(time.Hour)
	assert.Equal(t, 0, fired, "hooks registered after destruction are never invoked")
}

func TestSession_StaleTouchCannotRearmExpiredSession(t *testing.T) {
	mock := clock.NewMock()
	client := NewClient("http://localhost:0")

	sess, err := NewSession(client, "raced", SessionOptions{TTL: time.Minute, Clock: mock})
	require.NoError(t, err)

	mock.Add(time.Minute)
	require.True(t, sess.Destroyed())

	// Models an in-flight request resolving after the timer already
	// expired the session: the debounce must be a no-op.
	sess.touch()
	assert.True(t, sess.Destroyed())
	assert.Nil(t, sess.timer)
}

func TestSession_InjectsIdentifierAndKeepAlive(t *testing.T) {
	mock := clock.NewMock()
	stub := newSolverStub(t)
	client := NewClient(stub.server.URL)

	sess, err := NewSession(client, "scoped", SessionOptions{TTL: 90 * time.Second, Clock: mock})
	require.NoError(t, err)

	_, err = sess.Get(context.Background(), RequestParams{URL: "https://example.com"})
	require.NoError(t, err)

	body := stub.body()
	require.NotNil(t, body)
	assert.Equal(t, "request.get", body["cmd"])
	assert.Equal(t, "scoped", body["session"])
	assert.EqualValues(t, 2, body["session_ttl_minutes"], "sub-minute TTL remainder rounds up on the wire")
	assert.NotContains(t, body, "postData")
}

func TestOpenSession(t *testing.T) {
	stub := newSolverStub(t)
	stub.respondWith(func(w http.ResponseWriter) {
		w.Write([]byte(`{"status": "ok", "message": "Session created successfully.", "startTimestamp": 0, "endTimestamp": 0, "version": "3.3.21", "session": "assigned-id"}`))
	})
	client := NewClient(stub.server.URL)

	sess, resp, err := client.OpenSession(context.Background(), SessionCreateParams{}, SessionOptions{TTL: 5 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "assigned-id", sess.ID())
	assert.Contains(t, resp.Message, "created")

	body := stub.body()
	require.NotNil(t, body)
	assert.Equal(t, "sessions.create", body["cmd"])
	assert.EqualValues(t, 5, body["session_ttl_minutes"], "opts TTL fills the server hint when params leave it unset")
}

func TestOpenSession_ValidatesBeforeRemoteCall(t *testing.T) {
	stub := newSolverStub(t)
	client := NewClient(stub.server.URL)

	_, _, err := client.OpenSession(context.Background(), SessionCreateParams{}, SessionOptions{TTL: -time.Second})
	require.ErrorIs(t, err, ErrInvalidTTL)
	assert.EqualValues(t, 0, stub.requests.Load(), "validation failures must precede any remote interaction")
}

func TestTTLMinutes(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int
	}{
		{30 * time.Second, 1},
		{time.Minute, 1},
		{90 * time.Second, 2},
		{10 * time.Minute, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ttlMinutes(tt.ttl), "ttl %s", tt.ttl)
	}
}
