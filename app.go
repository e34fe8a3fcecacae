package panini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrorHandler produces a response for an error that escaped the middleware
// chain. The returned value goes through ParseResponse. An error returned by
// an ErrorHandler is never handled again: it propagates out of Serve.
type ErrorHandler func(ctx context.Context, req *Request, err error) (any, error)

// App is a gateway Application: a Router wrapped by middleware, with error
// handlers and lifespan callbacks.
//
// An App is configured before it starts serving; registering routes,
// middleware or handlers concurrently with serving is not supported.
type App struct {
	*Router

	// Debug makes unhandled errors propagate out of Serve instead of being
	// logged and turned into 500 responses.
	Debug bool
	// Logger receives unhandled errors and lifespan failures.
	Logger *zap.Logger

	middleware []Middleware
	handler    Handler

	statusHandlers map[int]ErrorHandler
	sentinels      []sentinelHandler
	typeHandlers   map[reflect.Type]ErrorHandler
	fallback       ErrorHandler

	startup  []func(context.Context) error
	shutdown []func(context.Context) error
	state    atomic.Int32
}

type sentinelHandler struct {
	target error
	h      ErrorHandler
}

// New builds an App from cfg. Static folders in cfg are served under the
// static URL prefix.
func New(cfg Config) *App {
	a := &App{
		Router: &Router{TrimLastSlash: cfg.TrimLastSlash},
		Debug:  cfg.Debug,
		Logger: cfg.Logger,
	}
	if a.Logger == nil {
		a.Logger = NewLogger()
	}
	a.handler = a.Router
	if len(cfg.StaticFolders) > 0 {
		prefix := cfg.StaticURLPrefix
		if prefix == "" {
			prefix = DefaultStaticURLPrefix
		}
		a.Use(StaticFiles(prefix, Folders(cfg.StaticFolders...)))
	}
	return a
}

// BuildYourOwn returns an App with no middleware installed.
func BuildYourOwn() *App { return New(DefaultConfig()) }

// TheUsual returns an App with request logging installed.
func TheUsual() *App {
	a := BuildYourOwn()
	a.Use(LogRequests)
	return a
}

// Use appends middleware. Middleware added first is outermost.
func (a *App) Use(mws ...Middleware) {
	a.middleware = append(a.middleware, mws...)
	a.handler = Chain(a.Router, a.middleware...)
}

// UseFirst installs mw as the new outermost middleware.
func (a *App) UseFirst(mw Middleware) {
	a.middleware = append([]Middleware{mw}, a.middleware...)
	a.handler = Chain(a.Router, a.middleware...)
}

// OnStatus handles ResponseErrors carrying the given status code.
func (a *App) OnStatus(code int, h ErrorHandler) {
	if a.statusHandlers == nil {
		a.statusHandlers = map[int]ErrorHandler{}
	}
	a.statusHandlers[code] = h
}

// OnErrorIs handles errors whose chain contains target, compared by
// identity.
func (a *App) OnErrorIs(target error, h ErrorHandler) {
	if !reflect.TypeOf(target).Comparable() {
		panic(fmt.Sprintf("OnErrorIs: %T is not comparable", target))
	}
	a.sentinels = append(a.sentinels, sentinelHandler{target, h})
}

// OnError handles errors whose chain contains an error of the same dynamic
// type as sample. For example:
//
//	app.OnError(&panini.DecodeError{}, badRequest)
//	app.OnError(&panini.ResponseError{}, renderErrorPage)
func (a *App) OnError(sample error, h ErrorHandler) {
	if a.typeHandlers == nil {
		a.typeHandlers = map[reflect.Type]ErrorHandler{}
	}
	a.typeHandlers[reflect.TypeOf(sample)] = h
}

// OnErr handles every error not claimed by a more specific handler.
func (a *App) OnErr(h ErrorHandler) { a.fallback = h }

// Serve implements Application.
func (a *App) Serve(ctx context.Context, scope *Scope, receive Receive, send Send) error {
	switch scope.Type {
	case ScopeLifespan:
		return a.serveLifespan(ctx, receive, send)
	case ScopeHTTP, ScopeWebSocket:
	default:
		return &UsageError{"unsupported scope type " + scope.Type}
	}
	req := NewRequest(scope, receive, send)
	resp, err := a.respond(ctx, req)
	if err != nil {
		return err
	}
	return a.deliver(ctx, req, resp)
}

// Handler returns an Application that runs h through the app's middleware
// and error handling without routing. It is used to attach single endpoints
// to foreign routers.
func (a *App) Handler(h Handler) Application {
	return ApplicationFunc(func(ctx context.Context, scope *Scope, receive Receive, send Send) error {
		req := NewRequest(scope, receive, send)
		resp, err := a.respondWith(ctx, Chain(h, a.middleware...), req)
		if err != nil {
			return err
		}
		return a.deliver(ctx, req, resp)
	})
}

// ServeHTTP makes the App usable as a net/http handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := ServeHTTP(w, r, a, nil); err != nil {
		a.Logger.Error("request failed", zap.Error(err),
			zap.String("method", r.Method), zap.String("path", r.URL.Path))
	}
}

func (a *App) respond(ctx context.Context, req *Request) (*Response, error) {
	return a.respondWith(ctx, a.handler, req)
}

func (a *App) respondWith(ctx context.Context, h Handler, req *Request) (*Response, error) {
	resp, err := safeHandle(ctx, h, req)
	if err != nil {
		return a.handleError(ctx, req, err)
	}
	if resp == nil {
		resp = NewResponse(nil, "")
	}
	return resp, nil
}

// deliver sends resp to the client. On a websocket connection a plain
// response cannot be sent, so the connection is closed instead.
func (a *App) deliver(ctx context.Context, req *Request, resp *Response) error {
	if req.Type() == ScopeWebSocket && !resp.IsCommitted() {
		code := CloseNormal
		if resp.Status >= 500 {
			code = 1011
		}
		return req.RawSend(ctx, Message{Type: TypeWebSocketClose, Code: code})
	}
	return resp.Send(ctx, req.send)
}

func safeHandle(ctx context.Context, h Handler, req *Request) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			if usage, ok := r.(*UsageError); ok {
				err = usage
				return
			}
			err = newPanicError(r)
		}
	}()
	return h.Handle(ctx, req)
}

func (a *App) handleError(ctx context.Context, req *Request, err error) (*Response, error) {
	if errors.Is(err, Done) || errors.Is(err, ErrClientDisconnected) {
		return Committed(), nil
	}
	if isFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if h := a.findErrorHandler(err); h != nil {
		v, herr := h(ctx, req, err)
		if herr != nil {
			return nil, &HandlerFailure{herr}
		}
		resp, perr := ParseResponse(v)
		if perr != nil {
			return nil, &HandlerFailure{perr}
		}
		return resp, nil
	}

	var re *ResponseError
	if errors.As(err, &re) {
		return re.Response(), nil
	}
	if a.Debug {
		return nil, err
	}
	a.Logger.Error("unhandled error", zap.Error(err),
		zap.String("method", req.Method()), zap.String("path", req.Path()))
	return NewResponseError(http.StatusInternalServerError).Response(), nil
}

func (a *App) findErrorHandler(err error) ErrorHandler {
	var re *ResponseError
	if errors.As(err, &re) {
		if h := a.statusHandlers[re.status()]; h != nil {
			return h
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if reflect.TypeOf(e).Comparable() {
			for _, s := range a.sentinels {
				if e == s.target {
					return s.h
				}
			}
		}
		if h := a.typeHandlers[reflect.TypeOf(e)]; h != nil {
			return h
		}
	}
	return a.fallback
}
