package panini

import (
	"context"
	"errors"
)

// Handler produces the response for a request. Handlers are what the router
// dispatches to and what middleware wraps.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandleFunc adapts a function to the Handler interface.
type HandleFunc func(ctx context.Context, req *Request) (*Response, error)

func (f HandleFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Endpoint is the signature of user request handlers. The returned value is
// converted with ParseResponse, so an endpoint may return a *Response, a
// string, a Result, a stream or any JSON-serializable value.
type Endpoint func(ctx context.Context, req *Request) (any, error)

// Handle implements Handler.
func (e Endpoint) Handle(ctx context.Context, req *Request) (*Response, error) {
	v, err := e(ctx, req)
	if err != nil {
		return nil, err
	}
	if v == nil && req.Type() == ScopeWebSocket {
		// The session was driven through a WebSocket.
		return Committed(), nil
	}
	return ParseResponse(v)
}

// Middleware wraps a handler with additional behavior. Middleware may
// inspect or replace the request before delegating, inspect or replace the
// response afterwards, or translate errors returned by next.
type Middleware interface {
	Wrap(next Handler) Handler
}

// MiddlewareFunc adapts a function to the Middleware interface.
type MiddlewareFunc func(next Handler) Handler

func (f MiddlewareFunc) Wrap(next Handler) Handler { return f(next) }

// RequestMiddleware builds a middleware from a function that receives the
// request and the next handler. This is the most convenient style:
//
//	timing := panini.RequestMiddleware(func(ctx context.Context, req *panini.Request, next panini.Handler) (*panini.Response, error) {
//	    start := time.Now()
//	    resp, err := next.Handle(ctx, req)
//	    if resp != nil {
//	        resp.Header.Set("x-elapsed", time.Since(start).String())
//	    }
//	    return resp, err
//	})
func RequestMiddleware(fn func(ctx context.Context, req *Request, next Handler) (*Response, error)) Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
			return fn(ctx, req, next)
		})
	})
}

// ClassicMiddleware builds a middleware from a function that wraps a raw
// gateway Application. The wrapped application sees the request's scope and
// gateway channels and may intercept either of them.
//
// For HTTP requests the frames the classic application sends are recorded
// into a Response, so middleware further out still sees an ordinary response
// it can inspect or replace. A streaming body is recorded whole. Websocket
// sessions talk to the gateway directly and yield a committed response.
//
// Errors from the inner chain propagate out of the classic application
// unchanged, so they still reach the application's error handlers.
func ClassicMiddleware(fn func(next Application) Application) Middleware {
	return MiddlewareFunc(func(next Handler) Handler {
		return HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
			// The inner chain may swap the request's channels; the outer chain
			// and the final delivery use the originals.
			receive, send := req.receive, req.send
			defer func() { req.receive, req.send = receive, send }()

			inner := ApplicationFunc(func(ctx context.Context, scope *Scope, receive Receive, send Send) error {
				r := req
				if scope != req.Scope {
					r = NewRequest(scope, receive, send)
				} else {
					r.receive, r.send = receive, send
				}
				resp, err := next.Handle(ctx, r)
				if err != nil {
					return err
				}
				if resp == nil {
					resp = NewResponse(nil, "")
				}
				return resp.Send(ctx, send)
			})

			if req.Type() != ScopeHTTP {
				if req.send == nil {
					return nil, ErrNoSend
				}
				if err := fn(inner).Serve(ctx, req.Scope, req.receive, req.send); err != nil {
					return nil, err
				}
				return Committed(), nil
			}

			var rec responseRecorder
			err := fn(inner).Serve(ctx, req.Scope, req.receive, rec.send)
			if err != nil && !(errors.Is(err, Done) && rec.resp != nil) {
				return nil, err
			}
			if rec.resp == nil {
				// The classic application answered nothing.
				return Committed(), nil
			}
			return rec.resp, nil
		})
	})
}

// responseRecorder collects http.response frames into a buffered Response.
type responseRecorder struct {
	resp     *Response
	finished bool
}

func (rec *responseRecorder) send(ctx context.Context, m Message) error {
	switch m.Type {
	case TypeHTTPResponseStart:
		if rec.resp != nil {
			return ErrResponseSent
		}
		rec.resp = &Response{Status: m.Status}
		for _, h := range m.Headers {
			rec.resp.Header.Add(latin1(h.Name), latin1(h.Value))
		}
	case TypeHTTPResponseBody:
		if rec.resp == nil || rec.finished {
			return ErrResponseSent
		}
		rec.resp.Body = append(rec.resp.Body, m.Body...)
		rec.finished = !m.MoreBody
	default:
		return &UsageError{"unexpected " + m.Type + " message for an http request"}
	}
	return nil
}

// Chain wraps h with mws. The first middleware is the outermost: on entry the
// middleware run in the order given and on exit in reverse.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i].Wrap(h)
	}
	return h
}
