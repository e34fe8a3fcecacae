// Package panini is a toolkit for writing web applications against a
// gateway message protocol, in the style of ASGI.
//
// A gateway (the net/http adapter in this package, or fasthttp_panini) turns
// each connection into a Scope describing it, plus a pair of functions for
// exchanging Messages with the client:
//   - receive yields request body chunks, websocket frames or lifespan
//     events.
//   - send accepts response start/body frames, websocket frames or lifespan
//     acknowledgements.
//
// Any value implementing Application can serve those connections. The App type
// is the batteries-included Application: a router wrapped in middleware, with
// pluggable error handlers and lifespan callbacks.
//
// # Example
//
// Here's a simple complete program using panini:
//
//	package main
//
//	import (
//	    "context"
//	    "log"
//	    "net/http"
//
//	    "github.com/augustoroman/panini"
//	)
//
//	func main() {
//	    app := panini.TheUsual()
//	    app.Get("/", func(ctx context.Context, req *panini.Request) (any, error) {
//	        return "Hello world!", nil
//	    })
//	    if err := http.ListenAndServe(":6060", app); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Endpoints
//
// Endpoints receive the *Request and return any value. The value is converted
// into a *Response by ParseResponse: strings become text/plain, structs and
// maps become JSON, Result sets an explicit status, and StreamFunc or channels
// produce streaming responses. Returning an error aborts the request and hands
// the error to the error handlers.
//
// The request exposes lazily decoded views of the connection: Headers,
// Cookies, URL, Query, PathParams and the content type. The body can be read
// once, either as a stream or buffered, and then decoded as Text, JSON, Form
// or Data. Decoded views are cached, so every handler in the chain may ask for
// them.
//
// # Middleware
//
// Middleware wraps the handler that follows it. The most convenient style is
// RequestMiddleware, which sees the request and the response:
//
//	app.Use(panini.RequestMiddleware(func(ctx context.Context, req *panini.Request, next panini.Handler) (*panini.Response, error) {
//	    if req.Headers().Get("x-api-key") == "" {
//	        return nil, panini.NewResponseError(http.StatusUnauthorized)
//	    }
//	    return next.Handle(ctx, req)
//	}))
//
// ClassicMiddleware adapts middleware written against the raw gateway
// protocol. Both styles can be mixed freely; the first middleware installed is
// the outermost.
//
// The package ships LogRequests, Gzip, RateLimit, Metrics and StaticFiles.
//
// # Error Handlers
//
// When an error escapes the middleware chain, the App looks for a handler in
// this order:
//   - OnStatus handlers, for a ResponseError with the matching status.
//   - OnErrorIs and OnError handlers, walking the error chain from the
//     outermost error inwards and matching by identity or by type.
//   - The OnErr fallback.
//
// Without a handler, ResponseErrors render themselves and any other error,
// DecodeErrors included, is logged and answered with 500. Register
// OnError(&DecodeError{}, ...) to answer malformed bodies with a 400. In Debug mode those other
// errors propagate out of Serve instead. API misuse (UsageError, StateError)
// always propagates.
//
// # WebSockets
//
// Router.WebSocket registers a websocket endpoint. The session starts in the
// CONNECTING state and the endpoint decides whether to Accept it:
//
//	app.WebSocket("/echo", func(ctx context.Context, ws *panini.WebSocket) error {
//	    if err := ws.Accept(ctx); err != nil {
//	        return err
//	    }
//	    for {
//	        msg, err := ws.Receive(ctx)
//	        if err != nil {
//	            return err
//	        }
//	        if err := ws.Send(ctx, msg); err != nil {
//	            return err
//	        }
//	    }
//	})
//
// # Mounting
//
// Mount delegates a path prefix to another Application. A mounted *App keeps
// its own middleware and error handlers; its responses still flow back
// through the parent's middleware.
package panini
