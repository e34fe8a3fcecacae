package panini

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ResponseError is an error that short-circuits request handling with a
// specific HTTP status. It carries:
//   - The HTTP status code that should be used in the response.
//   - The client-facing message. When empty, the standard description of the
//     status is used, e.g. "Nothing matches the given URI" for a 404.
//   - Internal debugging detail: a log message and the underlying error that
//     should end up in the server logs.
//
// Note that Cause may be nil.
type ResponseError struct {
	Code      int
	ClientMsg string
	LogMsg    string
	Cause     error
}

// NewResponseError builds a ResponseError for code. The optional msg
// replaces the default client message.
func NewResponseError(code int, msg ...string) *ResponseError {
	e := &ResponseError{Code: code}
	if len(msg) > 0 {
		e.ClientMsg = msg[0]
	}
	return e
}

func (e *ResponseError) Error() string {
	msg := fmt.Sprintf("[%d] %s", e.status(), e.message())
	if e.LogMsg != "" {
		msg += ": " + e.LogMsg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResponseError) Unwrap() error { return e.Cause }

func (e *ResponseError) status() int {
	if e.Code == 0 {
		return http.StatusInternalServerError
	}
	return e.Code
}

func (e *ResponseError) message() string {
	if e.ClientMsg != "" {
		return e.ClientMsg
	}
	return StatusDescription(e.status())
}

// Response renders the error as a plain text response.
func (e *ResponseError) Response() *Response {
	r := Text(e.message())
	r.Status = e.status()
	return r
}

// Done is a sentinel error value that a handler returns after it has already
// written its output directly to the gateway. Nothing else is sent for the
// request and the error is neither translated nor logged.
var Done = errors.New("<done>")

// ErrClientDisconnected is returned from body reads and websocket receives
// once the gateway reports that the client went away.
var ErrClientDisconnected = errors.New("panini: client disconnected")

// UsageError reports misuse of the API. Usage errors are never converted into
// HTTP responses: they propagate out of Serve.
type UsageError struct{ msg string }

func (e *UsageError) Error() string { return "panini: " + e.msg }

var (
	ErrNoReceive     = &UsageError{"request has no receive channel"}
	ErrNoSend        = &UsageError{"request has no send channel"}
	ErrHeadersFrozen = &UsageError{"headers cannot change after the response has started"}
	ErrResponseSent  = &UsageError{"response has already been sent"}
)

// StateError is returned by websocket operations attempted in the wrong
// state.
type StateError struct {
	Op    string
	State WebSocketState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("panini: websocket %s not allowed in state %s", e.Op, e.State)
}

// HandlerFailure wraps an error returned by an error handler. Such errors are
// never handled again: they propagate out of Serve.
type HandlerFailure struct{ Err error }

func (e *HandlerFailure) Error() string { return "panini: error handler failed: " + e.Err.Error() }
func (e *HandlerFailure) Unwrap() error { return e.Err }

func isFatal(err error) bool {
	var usage *UsageError
	var state *StateError
	var failure *HandlerFailure
	return errors.As(err, &usage) || errors.As(err, &state) || errors.As(err, &failure)
}

// DecodeErrorKind says which representation of a request body failed.
type DecodeErrorKind int

const (
	InvalidEncoding DecodeErrorKind = iota + 1
	InvalidJSON
	InvalidForm
)

func (k DecodeErrorKind) String() string {
	switch k {
	case InvalidEncoding:
		return "Invalid Encoding"
	case InvalidJSON:
		return "Invalid JSON"
	case InvalidForm:
		return "Invalid Form Data"
	}
	return "Invalid Data"
}

// DecodeError is returned when a request body cannot be interpreted as the
// requested representation.
type DecodeError struct {
	Kind DecodeErrorKind
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// decoding runs fn and maps any failure into a DecodeError of the given kind.
// Errors that did not come from the parser (body read failures, usage errors)
// pass through untouched.
func decoding[T any](kind DecodeErrorKind, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil {
		return v, nil
	}
	var de *DecodeError
	if errors.As(err, &de) || isFatal(err) || errors.Is(err, ErrClientDisconnected) {
		return v, err
	}
	var parse *parseFailure
	if errors.As(err, &parse) {
		return v, &DecodeError{Kind: kind, Err: parse.err}
	}
	return v, err
}

// parseFailure marks an error as coming from a body parser.
type parseFailure struct{ err error }

func (p *parseFailure) Error() string { return p.err.Error() }
func (p *parseFailure) Unwrap() error { return p.err }

func parseFailed(err error) error {
	if err == nil {
		return nil
	}
	return &parseFailure{err}
}

// PanicError is the error produced when a handler or middleware panics. It
// includes the panic'd value (Val) and the raw Go stack trace (RawStack).
type PanicError struct {
	Val      any
	RawStack string
}

func newPanicError(x any) PanicError {
	var stack [8192]byte
	n := runtime.Stack(stack[:], false)
	return PanicError{Val: x, RawStack: string(stack[:n])}
}

// FilteredStack returns the stack trace without the runtime's own panic
// frames, since these are generally just noise.
func (p PanicError) FilteredStack() []string {
	lines := strings.Split(p.RawStack, "\n")
	var filtered []string
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "panic(") || strings.HasPrefix(line, "runtime/debug.") ||
			strings.HasPrefix(line, "runtime.Stack(") || strings.HasPrefix(line, "github.com/augustoroman/panini.newPanicError(") {
			i++
			continue
		}
		filtered = append(filtered, line)
	}
	return filtered
}

func (p PanicError) Error() string {
	return fmt.Sprintf("Panic executing handler: %v\n  Filtered call stack:\n    %s",
		p.Val, strings.Join(p.FilteredStack(), "\n    "))
}

var statusDescriptions = map[int]string{
	100: "Request received, please continue",
	101: "Switching to new protocol; obey Upgrade header",
	200: "Request fulfilled, document follows",
	201: "Document created, URL follows",
	202: "Request accepted, processing continues off-line",
	203: "Request fulfilled from cache",
	204: "Request fulfilled, nothing follows",
	205: "Clear input form for further input",
	206: "Partial content follows",
	300: "Object has several resources -- see URI list",
	301: "Object moved permanently -- see URI list",
	302: "Object moved temporarily -- see URI list",
	303: "Object moved -- see Method and URL list",
	304: "Document has not changed since given time",
	305: "You must use proxy specified in Location to access this resource",
	307: "Object moved temporarily -- see URI list",
	308: "Object moved permanently -- see URI list",
	400: "Bad request syntax or unsupported method",
	401: "No permission -- see authorization schemes",
	402: "No payment -- see charging schemes",
	403: "Request forbidden -- authorization will not help",
	404: "Nothing matches the given URI",
	405: "Specified method is invalid for this resource",
	406: "URI not available in preferred format",
	407: "You must authenticate with this proxy before proceeding",
	408: "Request timed out; try again later",
	409: "Request conflict",
	410: "URI no longer exists and has been permanently removed",
	411: "Client must specify Content-Length",
	412: "Precondition in headers is false",
	413: "Entity is too large",
	414: "URI is too long",
	415: "Entity body in unsupported format",
	416: "Cannot satisfy request range",
	417: "Expect condition could not be satisfied",
	428: "The origin server requires the request to be conditional",
	429: "The user has sent too many requests in a given amount of time",
	431: "The server refused this request because the request header fields are too large",
	500: "Server got itself in trouble",
	501: "Server does not support this operation",
	502: "Invalid responses from another server/proxy",
	503: "The server cannot process the request due to a high load",
	504: "The gateway server did not receive a timely response",
	505: "Cannot fulfill request",
	511: "The client needs to authenticate to gain network access",
}

// StatusDescription returns the long-form description of an HTTP status,
// falling back to the status text.
func StatusDescription(code int) string {
	if d, ok := statusDescriptions[code]; ok {
		return d
	}
	return http.StatusText(code)
}
