package solverr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL     = "http://localhost:8191"
	defaultMaxTimeout  = 60 * time.Second
	defaultHTTPTimeout = 3 * time.Minute
)

// DefaultTransport returns an http.Transport with tuned connection pool
// settings. Solver calls are long-lived (a challenge solve can take the
// full maxTimeout), so the pool is kept small but the idle window generous.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// Client dispatches commands to a solver service. It is safe for use by
// any number of sessions: it holds no per-session state, performs exactly
// one transport attempt per call, and leaves retry policy to the caller.
type Client struct {
	baseURL     string
	maxTimeout  time.Duration
	httpClient  *http.Client
	transport   *LoggingTransport
	rateLimiter *rate.Limiter
}

// ClientOptions tunes optional client behavior. The zero value is valid.
type ClientOptions struct {
	// MaxTimeout is the default command timeout sent as maxTimeout on
	// every /v1 envelope. Individual params may override it per call.
	MaxTimeout time.Duration

	// HTTPTimeout bounds the whole HTTP exchange. It should comfortably
	// exceed MaxTimeout so the server, not the socket, decides timeouts.
	HTTPTimeout time.Duration

	// NetworkLogsEnabled captures every request/response pair as JSONL
	// under NetworkLogDir.
	NetworkLogsEnabled bool
	NetworkLogDir      string

	// RateLimit throttles outgoing commands when > 0. Off by default;
	// the client never retries, so pacing is purely proactive.
	RateLimit rate.Limit
	RateBurst int
}

// NewClient creates a client for the solver at baseURL. An empty baseURL
// selects the conventional local deployment.
func NewClient(baseURL string) *Client {
	return NewClientWithOptions(baseURL, ClientOptions{})
}

// NewClientWithOptions creates a client with explicit options.
func NewClientWithOptions(baseURL string, opts ClientOptions) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	maxTimeout := opts.MaxTimeout
	if maxTimeout <= 0 {
		maxTimeout = defaultMaxTimeout
	}
	httpTimeout := opts.HTTPTimeout
	if httpTimeout <= 0 {
		httpTimeout = defaultHTTPTimeout
	}

	transport := NewLoggingTransport(DefaultTransport(), LoggingTransportOptions{
		Enabled: opts.NetworkLogsEnabled,
		Dir:     opts.NetworkLogDir,
	})

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.RateLimit, burst)
	}

	return &Client{
		baseURL:    baseURL,
		maxTimeout: maxTimeout,
		transport:  transport,
		httpClient: &http.Client{
			Timeout:   httpTimeout,
			Transport: transport,
		},
		rateLimiter: limiter,
	}
}

// BaseURL returns the solver endpoint this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// MaxTimeout returns the default per-command timeout.
func (c *Client) MaxTimeout() time.Duration { return c.maxTimeout }

// Close releases client resources (the network log file, if any).
func (c *Client) Close() error {
	if c.transport != nil {
		return c.transport.Close()
	}
	return nil
}

// Execute sends one tagged command to /v1 and decodes the envelope.
//
// A response the server produced is always returned as data, including
// envelopes with status "error" on an HTTP 200: the remote outcome marker
// is the caller's to inspect. Only transport-level failures become errors:
// a non-200 answer is normalized into *CommandError (carrying the remote
// envelope's base fields when one was parseable), and network failures are
// wrapped. Execute never retries and never returns (nil, nil).
func (c *Client) Execute(ctx context.Context, cmd Command, params any) (*Response, error) {
	body, err := c.envelope(cmd, params)
	if err != nil {
		return nil, err
	}

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", cmd, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metricCommandDuration.WithLabelValues(string(cmd)).Observe(time.Since(start).Seconds())
	if err != nil {
		metricCommandsTotal.WithLabelValues(string(cmd), outcomeTransportError).Inc()
		return nil, fmt.Errorf("executing %s: %w", cmd, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metricCommandsTotal.WithLabelValues(string(cmd), outcomeRejected).Inc()
		return nil, c.parseError(resp)
	}

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		metricCommandsTotal.WithLabelValues(string(cmd), outcomeTransportError).Inc()
		return nil, fmt.Errorf("decoding %s response: %w", cmd, err)
	}

	metricCommandsTotal.WithLabelValues(string(cmd), envelope.Status).Inc()
	return &envelope, nil
}

// envelope merges the command tag, the effective maxTimeout and the params
// fields into one wire object.
func (c *Client) envelope(cmd Command, params any) ([]byte, error) {
	fields := map[string]any{}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s params: %w", cmd, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("marshaling %s params: %w", cmd, err)
		}
	}

	timeout := c.maxTimeout
	if tc, ok := params.(timeoutCarrier); ok && tc.timeoutOverride() > 0 {
		timeout = tc.timeoutOverride()
	}

	fields["cmd"] = string(cmd)
	fields["maxTimeout"] = timeout.Milliseconds()
	return json.Marshal(fields)
}

// CreateSession asks the server to allocate a browser session. The
// returned envelope's Session field holds the effective identifier and
// Message distinguishes a fresh session from a pre-existing one.
func (c *Client) CreateSession(ctx context.Context, params SessionCreateParams) (*Response, error) {
	return c.Execute(ctx, CmdSessionsCreate, params)
}

// ListSessions returns the identifiers of all live server-side sessions.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	resp, err := c.Execute(ctx, CmdSessionsList, nil)
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// DestroySession removes a server-side session.
func (c *Client) DestroySession(ctx context.Context, session string) (*Response, error) {
	if session == "" {
		return nil, fmt.Errorf("session id required")
	}
	return c.Execute(ctx, CmdSessionsDestroy, SessionDestroyParams{Session: session})
}

// Get navigates to params.URL through the solver.
func (c *Client) Get(ctx context.Context, params RequestParams) (*Response, error) {
	if params.URL == "" {
		return nil, fmt.Errorf("url required")
	}
	params.PostData = ""
	return c.Execute(ctx, CmdRequestGet, params)
}

// Post submits params.PostData (urlencoded, see EncodeForm) to params.URL
// through the solver.
func (c *Client) Post(ctx context.Context, params RequestParams) (*Response, error) {
	if params.URL == "" {
		return nil, fmt.Errorf("url required")
	}
	return c.Execute(ctx, CmdRequestPost, params)
}

// Health checks the GET /health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Index fetches the GET / service description (version and user agent).
func (c *Client) Index(ctx context.Context) (*ServiceInfo, error) {
	var out ServiceInfo
	if err := c.getJSON(ctx, "/", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// parseError normalizes a non-200 answer. A parseable error envelope keeps
// its outcome marker, message, processing bounds and server version; raw
// bodies are truncated into the message so the caller still sees what the
// server said.
func (c *Client) parseError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return &CommandError{
			HTTPStatus: resp.StatusCode,
			Message:    resp.Status,
		}
	}

	var envelope Response
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Status == "" {
		rawBody := string(body)
		if len(rawBody) > 500 {
			rawBody = rawBody[:500] + "..."
		}
		message := resp.Status
		if rawBody != "" {
			message = fmt.Sprintf("%s (raw: %s)", resp.Status, rawBody)
		}
		return &CommandError{
			HTTPStatus: resp.StatusCode,
			Message:    message,
		}
	}

	return &CommandError{
		HTTPStatus: resp.StatusCode,
		Status:     envelope.Status,
		Message:    envelope.Message,
		StartedAt:  envelope.StartedAt(),
		EndedAt:    envelope.EndedAt(),
		Version:    envelope.Version,
	}
}
