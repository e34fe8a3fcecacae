package panini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Injected for testing
var time_Now = time.Now
var os_Stderr io.Writer = os.Stderr

const logEntryKey = "panini.log_entry"

// LogEntry is the information tracked on a per-request basis by the
// LogRequests middleware. All fields other than Note are automatically filled
// in. The Note field is a generic key-value string map for adding additional
// per-request metadata to the logs, see Note.
type LogEntry struct {
	RemoteIp     string
	Start        time.Time
	Method       string
	URI          string
	StatusCode   int
	ResponseSize int
	Elapsed      time.Duration
	Error        error
	Note         map[string]string
	// set to true to suppress logging this request
	Quiet bool
}

// LogRequests is a middleware that creates a log entry for each request and
// commits it once the rest of the chain has produced a response. Streaming
// responses are committed when the stream ends.
var LogRequests Middleware = RequestMiddleware(logRequest)

func logRequest(ctx context.Context, req *Request, next Handler) (resp *Response, err error) {
	entry := NewLogEntry(req)
	req.Scope.SetExtension(logEntryKey, entry)
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, newPanicError(r)
		}
		if resp != nil && resp.Stream != nil && err == nil {
			resp.Stream = entry.countStream(resp.Status, resp.Stream)
			return
		}
		entry.Commit(resp, err)
	}()
	return next.Handle(ctx, req)
}

// NewLogEntry creates a *LogEntry and initializes it with basic request
// information.
func NewLogEntry(req *Request) *LogEntry {
	uri := req.Scope.RootPath + req.Path()
	if len(req.Scope.QueryString) > 0 {
		uri += "?" + string(req.Scope.QueryString)
	}
	return &LogEntry{
		RemoteIp: remoteIp(req),
		Start:    time_Now(),
		Method:   req.Method(),
		URI:      uri,
		Note:     map[string]string{},
	}
}

// Entry returns the log entry of the current request, or nil if the request
// is not being logged.
func Entry(req *Request) *LogEntry {
	if v, ok := req.Scope.Extension(logEntryKey); ok {
		return v.(*LogEntry)
	}
	return nil
}

// NoLog suppresses log output for this request. For example:
//
//	// suppress logging of the favicon request to reduce log spam.
//	app.Get("/favicon.ico", func(ctx context.Context, req *panini.Request) (any, error) {
//	    panini.NoLog(req)
//	    return favicon, nil
//	})
//
// This depends on WriteLog respecting the Quiet flag, which the default
// implementation does.
func NoLog(req *Request) {
	if e := Entry(req); e != nil {
		e.Quiet = true
	}
}

// Note attaches a key-value pair to the request's log line. For example:
//
//	user, err := decodeAuthCookie(req)
//	if user != nil {
//	    panini.Note(req, "user", user.Id())  // indicate which user is auth'd
//	}
func Note(req *Request, key, value string) {
	if e := Entry(req); e != nil {
		e.Note[key] = value
	}
}

// Commit fills in the remaining *LogEntry fields and writes the entry out.
func (entry *LogEntry) Commit(resp *Response, err error) {
	entry.Elapsed = time_Now().Sub(entry.Start)
	if errors.Is(err, Done) {
		err = nil
	}
	entry.Error = err
	switch {
	case err != nil:
		entry.StatusCode = errorStatus(err)
	case resp != nil && !resp.IsCommitted():
		entry.StatusCode = resp.Status
		entry.ResponseSize += len(resp.Body)
	}
	WriteLog(*entry)
}

func (entry *LogEntry) countStream(status int, fn StreamFunc) StreamFunc {
	return func(ctx context.Context, write func([]byte) error) error {
		err := fn(ctx, func(chunk []byte) error {
			entry.ResponseSize += len(chunk)
			return write(chunk)
		})
		entry.Elapsed = time_Now().Sub(entry.Start)
		entry.StatusCode = status
		entry.Error = err
		WriteLog(*entry)
		return err
	}
}

// errorStatus predicts the status of the response an error will turn into
// when no error handler claims it.
func errorStatus(err error) int {
	var re *ResponseError
	switch {
	case errors.As(err, &re):
		return re.status()
	case errors.Is(err, Done), errors.Is(err, ErrClientDisconnected):
		return 0
	}
	return http.StatusInternalServerError
}

// Some nice escape codes
const (
	_GREEN  = "\033[32m"
	_YELLOW = "\033[33m"
	_RESET  = "\033[0m"
	_RED    = "\033[91m"
)

// WriteLog is called to actually write a LogEntry out to the log. By default,
// it writes to stderr and colors normal requests green, slow requests yellow,
// and errors red. You can replace the function to adjust the formatting or use
// whatever logging library you like.
var WriteLog = func(e LogEntry) {
	if e.Quiet {
		return
	}
	col, reset := logColors(e)
	fmt.Fprintf(os_Stderr, "%s%s %s \"%s %s\" (%d %s %s) %s%s\n",
		col,
		e.Start.Format(time.RFC3339), e.RemoteIp,
		e.Method, e.URI,
		e.StatusCode, humanize.Bytes(uint64(e.ResponseSize)), e.Elapsed,
		e.NotesAndError(),
		reset)
}

// NotesAndError formats the Note values and error (if any) for logging.
func (l LogEntry) NotesAndError() string {
	pairs := make([]string, 0, len(l.Note))
	for k, v := range l.Note {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, v))
	}
	sort.Strings(pairs)
	msg := strings.Join(pairs, " ")
	if l.Error != nil {
		msg += "\n  ERROR: " + l.Error.Error()
	}
	return msg
}

func logColors(e LogEntry) (start, reset string) {
	col, reset := _GREEN, _RESET
	if e.Elapsed > 30*time.Millisecond {
		col = _YELLOW
	}
	if e.StatusCode >= 400 || e.Error != nil {
		col, reset = _RED, _RESET // high-intensity red + reset
	}
	return col, reset
}

// remoteIp extracts the remote IP from the request. Proxy headers take
// precedence over the address reported by the transport.
func remoteIp(req *Request) string {
	h := req.Headers()
	if addr := h.Get("X-Real-IP"); addr != "" {
		return addr
	} else if addr := h.Get("X-Forwarded-For"); addr != "" {
		return addr
	}
	return req.Client().String()
}
