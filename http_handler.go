package panini

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sort"
)

// HTTPHandler runs a standard net/http handler as an endpoint. The handler's
// output is recorded and converted into a buffered Response, so it flows
// through the app's middleware like any other response. For example:
//
//	app.Get("/metrics", panini.HTTPHandler(promhttp.Handler()))
func HTTPHandler(h http.Handler) Endpoint {
	return func(ctx context.Context, req *Request) (any, error) {
		r, err := req.HTTPRequest(ctx)
		if err != nil {
			return nil, err
		}
		w := NewResponseWriter()
		h.ServeHTTP(w, r)
		return w.Response(), nil
	}
}

// HTTPRequest converts the request into a *http.Request carrying the whole
// body. Synthetic requests without a receive channel get an empty body.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	u, err := r.URL()
	if err != nil {
		return nil, err
	}
	body, err := r.Body(ctx)
	if err != nil && !errors.Is(err, ErrNoReceive) {
		return nil, err
	}
	hr, err := http.NewRequestWithContext(ctx, r.Method(), u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for _, f := range r.Headers().Fields() {
		hr.Header.Add(f.Name, f.Value)
	}
	if host := r.Headers().Get("host"); host != "" {
		hr.Host = host
	}
	hr.RequestURI = u.RequestURI()
	hr.RemoteAddr = r.Client().String()
	return hr, nil
}

// ResponseWriter is an http.ResponseWriter that records the response in
// memory, tracking the response size and response code.
type ResponseWriter struct {
	header http.Header
	body   bytes.Buffer
	Size   int // The size of the response written so far, in bytes.
	Code   int // The status code of the response, or 0 if not written yet.
}

// NewResponseWriter returns an empty recording writer.
func NewResponseWriter() *ResponseWriter {
	return &ResponseWriter{header: http.Header{}}
}

func (w *ResponseWriter) Header() http.Header { return w.header }

// Flush is a no-op: the recorded response is only sent once complete.
func (w *ResponseWriter) Flush() {}

func (w *ResponseWriter) WriteHeader(code int) {
	if w.Code == 0 {
		w.Code = code
	}
}

func (w *ResponseWriter) Write(p []byte) (int, error) {
	if w.Code == 0 {
		w.Code = 200
	}
	n, err := w.body.Write(p)
	w.Size += n
	return n, err
}

// Response converts the recording into a buffered Response. Headers are
// added in name order.
func (w *ResponseWriter) Response() *Response {
	resp := NewResponse(w.body.Bytes(), "")
	resp.Status = w.Code
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	names := make([]string, 0, len(w.header))
	for name := range w.header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range w.header[name] {
			resp.Header.Add(name, v)
		}
	}
	return resp
}
