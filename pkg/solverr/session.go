package solverr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DestroyHook is invoked once when a session transitions to destroyed,
// whether explicitly or by idle-TTL expiry.
type DestroyHook func()

// SessionOptions configures a session handle.
type SessionOptions struct {
	// TTL is the idle timeout: with no successful scoped call for TTL,
	// the handle destroys itself locally and runs its hooks. Zero
	// disables auto-expiry entirely; negative values are rejected at
	// construction. The TTL is also forwarded to the server (rounded up
	// to whole minutes) as a keep-alive hint on every scoped call.
	TTL time.Duration

	// Clock drives the idle timer. Nil selects the wall clock; tests
	// inject a mock.
	Clock clock.Clock
}

type sessionHook struct {
	id int
	fn DestroyHook
}

// Session owns the client-side lifetime of one server-side browser
// session. All scoped calls go through it: it injects the identifier,
// counts successful calls as activity for the idle timer, and refuses
// everything once destroyed. The destroyed state is terminal.
//
// The zero-value Session is not usable; construct via NewSession or
// Client.OpenSession.
type Session struct {
	id     string
	client *Client
	ttl    time.Duration
	clock  clock.Clock

	mu         sync.Mutex
	destroyed  bool
	timer      *clock.Timer
	hooks      []sessionHook
	nextHookID int
}

// NewSession wraps an existing server-side session identifier in a
// lifecycle handle. The client is shared, not owned. With a positive
// opts.TTL the idle timer is armed immediately.
func NewSession(client *Client, id string, opts SessionOptions) (*Session, error) {
	if client == nil {
		return nil, fmt.Errorf("client required")
	}
	if id == "" {
		return nil, fmt.Errorf("session id required")
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTTL, opts.TTL)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	s := &Session{
		id:     id,
		client: client,
		ttl:    opts.TTL,
		clock:  clk,
	}
	if s.ttl > 0 {
		s.timer = clk.AfterFunc(s.ttl, s.expire)
	}

	metricSessionsActive.Inc()
	return s, nil
}

// OpenSession creates a server-side session and returns a lifecycle
// handle for it, along with the create envelope (whose Message reports
// whether a caller-supplied identifier already existed). Options are
// validated before the remote call; opts.TTL fills params.TTLMinutes when
// the caller left it unset so both sides agree on the expiry horizon.
func (c *Client) OpenSession(ctx context.Context, params SessionCreateParams, opts SessionOptions) (*Session, *Response, error) {
	if opts.TTL < 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidTTL, opts.TTL)
	}
	if params.TTLMinutes == 0 && opts.TTL > 0 {
		params.TTLMinutes = ttlMinutes(opts.TTL)
	}

	resp, err := c.CreateSession(ctx, params)
	if err != nil {
		return nil, nil, err
	}

	id := resp.Session
	if id == "" {
		id = params.Session
	}
	sess, err := NewSession(c, id, opts)
	if err != nil {
		return nil, resp, err
	}
	return sess, resp, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// TTL returns the configured idle timeout (zero when disabled).
func (s *Session) TTL() time.Duration { return s.ttl }

// Destroyed reports whether the session has transitioned to destroyed.
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Get navigates through this session. A successful call counts as
// activity and pushes the idle expiry horizon to now+TTL.
func (s *Session) Get(ctx context.Context, params RequestParams) (*Response, error) {
	params.PostData = ""
	return s.request(ctx, CmdRequestGet, params)
}

// Post submits a form through this session. Activity rules match Get.
func (s *Session) Post(ctx context.Context, params RequestParams) (*Response, error) {
	return s.request(ctx, CmdRequestPost, params)
}

func (s *Session) request(ctx context.Context, cmd Command, params RequestParams) (*Response, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s %s: %w", cmd, s.id, ErrSessionDestroyed)
	}
	s.mu.Unlock()

	params.Session = s.id
	if s.ttl > 0 {
		params.SessionTTLMinutes = ttlMinutes(s.ttl)
	}

	resp, err := s.client.Execute(ctx, cmd, params)
	if err != nil {
		// Failed calls do not extend the session's lifetime.
		return nil, err
	}
	s.touch()
	return resp, nil
}

// touch debounces the idle timer. The destroyed flag is re-checked under
// the lock: a request that was in flight when the timer fired must not
// re-arm expiry on a session that is already gone.
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.timer == nil {
		return
	}
	s.timer.Reset(s.ttl)
}

// Destroy removes the server-side session and transitions the handle to
// destroyed, cancelling the idle timer and running every registered hook
// once in registration order. If the remote call fails the handle stays
// active and the failure propagates, so the caller may retry.
func (s *Session) Destroy(ctx context.Context) (*Response, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, fmt.Errorf("destroy %s: %w", s.id, ErrSessionDestroyed)
	}
	s.mu.Unlock()

	resp, err := s.client.DestroySession(ctx, s.id)
	if err != nil {
		return nil, err
	}

	s.finish(false)
	return resp, nil
}

// expire is the idle-timer callback. It only flips the local state and
// notifies hooks: the server received the TTL as a keep-alive hint on
// every call and expires its side on its own schedule, so no remote
// destroy is issued here.
func (s *Session) expire() {
	s.finish(true)
}

// finish performs the single active→destroyed transition. Hooks run
// outside the lock, after the flag is set and the timer is cancelled.
func (s *Session) finish(expired bool) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	hooks := make([]DestroyHook, len(s.hooks))
	for i, h := range s.hooks {
		hooks[i] = h.fn
	}
	s.hooks = nil
	s.mu.Unlock()

	metricSessionsActive.Dec()
	if expired {
		metricSessionsExpired.Inc()
	}
	for _, fn := range hooks {
		fn()
	}
}

// OnDestroy registers fn to run when the session is destroyed and returns
// a function that unregisters it. Removal is keyed by the registration,
// so the same func value may be registered more than once and removed
// individually. Registering on an already-destroyed session is a no-op:
// fn will never be invoked and the returned remove does nothing.
func (s *Session) OnDestroy(fn DestroyHook) (remove func()) {
	noop := func() {}
	if fn == nil {
		return noop
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return noop
	}

	s.nextHookID++
	id := s.nextHookID
	s.hooks = append(s.hooks, sessionHook{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, h := range s.hooks {
			if h.id == id {
				s.hooks = append(s.hooks[:i], s.hooks[i+1:]...)
				return
			}
		}
	}
}

// ttlMinutes converts the idle TTL to the whole-minute wire hint, rounding
// sub-minute TTLs up so the server never expires before the client.
func ttlMinutes(d time.Duration) int {
	m := int((d + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}
