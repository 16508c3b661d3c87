package solverr

import (
	"net/url"
	"time"
)

// Command identifies a solver operation in the /v1 envelope. The command
// value determines which payload fields the server reads and which fields
// the response carries.
type Command string

const (
	CmdSessionsCreate  Command = "sessions.create"
	CmdSessionsList    Command = "sessions.list"
	CmdSessionsDestroy Command = "sessions.destroy"
	CmdRequestGet      Command = "request.get"
	CmdRequestPost     Command = "request.post"
)

// Response status markers.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Proxy configures an upstream proxy for the solver's browser.
type Proxy struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Cookie mirrors the browser cookie shape returned in solutions and
// accepted on requests.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Solution is the navigation result for request.get and request.post:
// the final URL after any challenge was solved, the HTTP status, and the
// page state the browser ended up with.
type Solution struct {
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers,omitempty"`
	Response  string            `json:"response,omitempty"`
	Cookies   []Cookie          `json:"cookies,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
}

// Response is the envelope every /v1 command answers with. Status carries
// the outcome marker; the remaining base fields are present on both
// success and error. Operation payloads (Session, Sessions, Solution) are
// only set for the commands that produce them.
//
// The server keeps its exact wording in Message. In particular,
// sessions.create answers differently for a freshly created session and
// for a caller-supplied ID that already existed; callers that care can
// inspect Message rather than Status.
type Response struct {
	Status         string    `json:"status"`
	Message        string    `json:"message"`
	StartTimestamp int64     `json:"startTimestamp"`
	EndTimestamp   int64     `json:"endTimestamp"`
	Version        string    `json:"version"`
	Session        string    `json:"session,omitempty"`
	Sessions       []string  `json:"sessions,omitempty"`
	Solution       *Solution `json:"solution,omitempty"`
}

// OK reports whether the server marked the command successful.
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusOK
}

// StartedAt returns the server-side processing start time.
func (r *Response) StartedAt() time.Time {
	return time.UnixMilli(r.StartTimestamp)
}

// EndedAt returns the server-side processing end time.
func (r *Response) EndedAt() time.Time {
	return time.UnixMilli(r.EndTimestamp)
}

// SessionCreateParams is the payload for sessions.create. Leave Session
// empty to let the server assign an identifier, or supply one (see
// GenerateSessionID). TTLMinutes asks the server to expire the session
// after that many minutes of inactivity; zero leaves the server default.
type SessionCreateParams struct {
	Session    string `json:"session,omitempty"`
	TTLMinutes int    `json:"session_ttl_minutes,omitempty"`
	Proxy      *Proxy `json:"proxy,omitempty"`

	// MaxTimeout overrides the client-wide command timeout for this call.
	MaxTimeout time.Duration `json:"-"`
}

func (p SessionCreateParams) timeoutOverride() time.Duration { return p.MaxTimeout }

// SessionDestroyParams is the payload for sessions.destroy.
type SessionDestroyParams struct {
	Session string `json:"session"`

	MaxTimeout time.Duration `json:"-"`
}

func (p SessionDestroyParams) timeoutOverride() time.Duration { return p.MaxTimeout }

// RequestParams is the payload for request.get and request.post.
// PostData is ignored for request.get; for request.post it must be an
// application/x-www-form-urlencoded string (see EncodeForm).
type RequestParams struct {
	URL               string   `json:"url"`
	Session           string   `json:"session,omitempty"`
	SessionTTLMinutes int      `json:"session_ttl_minutes,omitempty"`
	Cookies           []Cookie `json:"cookies,omitempty"`
	Proxy             *Proxy   `json:"proxy,omitempty"`
	PostData          string   `json:"postData,omitempty"`
	ReturnOnlyCookies bool     `json:"returnOnlyCookies,omitempty"`

	MaxTimeout time.Duration `json:"-"`
}

func (p RequestParams) timeoutOverride() time.Duration { return p.MaxTimeout }

// timeoutCarrier lets Execute pick up a per-call maxTimeout override from
// any params struct that declares one.
type timeoutCarrier interface {
	timeoutOverride() time.Duration
}

// EncodeForm renders name/value pairs as the urlencoded string
// request.post expects in PostData.
func EncodeForm(values url.Values) string {
	return values.Encode()
}

// Health is the GET /health payload.
type Health struct {
	Status string `json:"status"`
}

// ServiceInfo is the GET / payload describing the running solver.
type ServiceInfo struct {
	Msg       string `json:"msg"`
	Version   string `json:"version"`
	UserAgent string `json:"userAgent"`
}
