package panini

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// StreamFunc produces a response body incrementally. Each call to write sends
// one body frame to the client.
type StreamFunc func(ctx context.Context, write func([]byte) error) error

// Response is an outgoing HTTP response. It is mutable until Send is called,
// after which its headers are frozen.
//
// A Response is either buffered (Body), streaming (Stream) or committed: a
// committed response was already written to the gateway by someone else and
// Send emits nothing.
type Response struct {
	Status  int
	Header  Headers
	Cookies CookieJar
	Body    []byte
	Stream  StreamFunc

	committed bool
	sent      bool
}

// NewResponse builds a buffered response. An empty contentType leaves the
// content-type header unset.
func NewResponse(body []byte, contentType string) *Response {
	r := &Response{Status: http.StatusOK, Body: body}
	if contentType != "" {
		r.Header.Set("content-type", withCharset(contentType))
	}
	return r
}

// HTML builds a text/html response.
func HTML(s string) *Response { return NewResponse([]byte(s), "text/html") }

// Text builds a text/plain response.
func Text(s string) *Response { return NewResponse([]byte(s), "text/plain") }

// JSON serializes v into an application/json response.
func JSON(v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return NewResponse(body, "application/json"), nil
}

// Redirect builds an empty response pointing the client at location. The
// status defaults to 307 Temporary Redirect.
func Redirect(location string, status ...int) *Response {
	r := &Response{Status: http.StatusTemporaryRedirect}
	if len(status) > 0 {
		r.Status = status[0]
	}
	r.Header.Set("location", location)
	return r
}

// NewStream builds a streaming response. The total length is never known in
// advance, so no content-length header is sent.
func NewStream(fn StreamFunc, contentType string) *Response {
	r := &Response{Status: http.StatusOK, Stream: fn}
	if contentType != "" {
		r.Header.Set("content-type", withCharset(contentType))
	}
	return r
}

// Committed returns a response for output that has already been written
// directly to the gateway.
func Committed() *Response { return &Response{committed: true} }

// IsCommitted reports whether the response was already written elsewhere.
func (r *Response) IsCommitted() bool { return r.committed }

// Sent reports whether Send has been called.
func (r *Response) Sent() bool { return r.sent }

func withCharset(ct string) string {
	if strings.HasPrefix(ct, "text/") && !strings.Contains(ct, "charset") {
		return ct + "; charset=utf-8"
	}
	return ct
}

// RawHeaders materializes the headers sent with the start frame: the stored
// headers in order followed by one set-cookie line per cookie.
func (r *Response) RawHeaders() []RawHeader {
	raw := r.Header.Raw()
	for _, c := range r.Cookies.All() {
		if v := c.String(); v != "" {
			raw = append(raw, H("set-cookie", v))
		}
	}
	return raw
}

// Send drives the response frames into send. A response can only be sent
// once.
func (r *Response) Send(ctx context.Context, send Send) error {
	if r.committed {
		return nil
	}
	if r.sent {
		return ErrResponseSent
	}
	if send == nil {
		return ErrNoSend
	}
	r.sent = true
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}

	if r.Stream == nil {
		if !r.Header.Has("content-length") {
			r.Header.Add("content-length", strconv.Itoa(len(r.Body)))
		}
		r.Header.freeze()
		err := send(ctx, Message{Type: TypeHTTPResponseStart, Status: status, Headers: r.RawHeaders()})
		if err != nil {
			return err
		}
		return send(ctx, Message{Type: TypeHTTPResponseBody, Body: r.Body})
	}

	r.Header.freeze()
	err := send(ctx, Message{Type: TypeHTTPResponseStart, Status: status, Headers: r.RawHeaders()})
	if err != nil {
		return err
	}
	err = r.Stream(ctx, func(chunk []byte) error {
		return send(ctx, Message{Type: TypeHTTPResponseBody, Body: chunk, MoreBody: true})
	})
	if err != nil {
		return err
	}
	return send(ctx, Message{Type: TypeHTTPResponseBody})
}

// Result is a handler return value naming the status explicitly, optionally
// with a body and extra headers. The body goes through ParseResponse.
type Result struct {
	Status int
	Body   any
	Header map[string]string
}

// Status is shorthand for a Result with an optional body.
func Status(code int, body ...any) Result {
	r := Result{Status: code}
	if len(body) > 0 {
		r.Body = body[0]
	}
	return r
}

// ParseResponse converts a handler return value into a Response:
//
//   - *Response is used as is; *ResponseError renders itself.
//   - Result sets the status (and headers) of its parsed body.
//   - string becomes text/plain, []byte an untyped body.
//   - StreamFunc, <-chan []byte and <-chan string become streaming responses.
//   - nil becomes an empty 200.
//   - Anything else is serialized as JSON.
func ParseResponse(v any) (*Response, error) {
	switch v := v.(type) {
	case *Response:
		if v == nil {
			return NewResponse(nil, ""), nil
		}
		return v, nil
	case *ResponseError:
		return v.Response(), nil
	case Result:
		r, err := ParseResponse(v.Body)
		if err != nil {
			return nil, err
		}
		if v.Status != 0 {
			r.Status = v.Status
		}
		names := make([]string, 0, len(v.Header))
		for name := range v.Header {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r.Header.Set(name, v.Header[name])
		}
		return r, nil
	case string:
		return Text(v), nil
	case []byte:
		return NewResponse(v, ""), nil
	case StreamFunc:
		return NewStream(v, ""), nil
	case func(context.Context, func([]byte) error) error:
		return NewStream(v, ""), nil
	case <-chan []byte:
		return NewStream(fromChan(v, func(b []byte) []byte { return b }), ""), nil
	case <-chan string:
		return NewStream(fromChan(v, func(s string) []byte { return []byte(s) }), ""), nil
	case nil:
		return NewResponse(nil, ""), nil
	}
	return JSON(v)
}

func fromChan[T any](ch <-chan T, conv func(T) []byte) StreamFunc {
	return func(ctx context.Context, write func([]byte) error) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case v, ok := <-ch:
				if !ok {
					return nil
				}
				if err := write(conv(v)); err != nil {
					return err
				}
			}
		}
	}
}
