package panini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Router dispatches requests to handlers by method and path.
//
// Patterns are made of '/'-separated segments. A segment is either static
// text, a named parameter `{name}` matching exactly one path segment, or a
// greedy parameter `{name*}` matching one or more segments. At each level
// static segments take priority over named parameters, which take priority
// over greedy ones. Matched parameters are stored in Scope.PathParams.
//
// Routes are registered during setup; a Router must not be modified once it
// starts serving.
type Router struct {
	// TrimLastSlash makes "/path" and "/path/" equivalent, both for registered
	// patterns and for request paths. The root path "/" is never trimmed. It
	// must be set before any route is registered.
	TrimLastSlash bool

	mounts    map[string]Application
	byMethod  map[string]*mux
	anyMethod *mux
}

// Methods recognized by View.
var viewMethods = []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

// Route registers endpoint for path and the given methods. Without methods
// the route accepts any method, although routes registered for a specific
// method always take precedence.
func (r *Router) Route(path string, endpoint Endpoint, methods ...string) {
	if len(methods) == 0 {
		methods = []string{"*"}
	}
	for _, method := range methods {
		r.On(method, path, endpoint)
	}
}

func (r *Router) Get(path string, endpoint Endpoint)     { r.On("GET", path, endpoint) }
func (r *Router) Head(path string, endpoint Endpoint)    { r.On("HEAD", path, endpoint) }
func (r *Router) Post(path string, endpoint Endpoint)    { r.On("POST", path, endpoint) }
func (r *Router) Put(path string, endpoint Endpoint)     { r.On("PUT", path, endpoint) }
func (r *Router) Patch(path string, endpoint Endpoint)   { r.On("PATCH", path, endpoint) }
func (r *Router) Delete(path string, endpoint Endpoint)  { r.On("DELETE", path, endpoint) }
func (r *Router) Options(path string, endpoint Endpoint) { r.On("OPTIONS", path, endpoint) }

// Any registers endpoint for every method. It is always superseded by
// dedicated method registrations for the same path.
func (r *Router) Any(path string, endpoint Endpoint) { r.On("*", path, endpoint) }

// WebSocket registers a websocket endpoint. The session is created in the
// CONNECTING state; fn is expected to Accept it.
func (r *Router) WebSocket(path string, fn func(ctx context.Context, ws *WebSocket) error) {
	r.On("GET", path, HandleFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if err := fn(ctx, NewWebSocket(req)); err != nil {
			return nil, err
		}
		return Committed(), nil
	}))
}

// On registers h for method and path. The method "*" matches any method. It
// panics if the pattern is malformed or conflicts with an existing
// registration.
func (r *Router) On(method, path string, h Handler) {
	method = strings.ToUpper(method)
	if r.TrimLastSlash {
		path = trimLastSlash(path)
	}
	m := r.getOrAllocateMux(method)
	if err := m.Register(path, h); err != nil {
		panic(fmt.Errorf("Cannot register route: %v", err))
	}
}

// View registers each method that v implements: a Get method with the
// Endpoint signature handles GET, a Post method handles POST and so on. Other
// methods on the path respond 405.
func (r *Router) View(path string, v any) {
	registered := 0
	for _, method := range viewMethods {
		if ep := viewEndpoint(v, method); ep != nil {
			r.On(method, path, ep)
			registered++
		}
	}
	if registered == 0 {
		panic(fmt.Errorf("Cannot register view %T at %#q: no handler methods", v, path))
	}
}

type (
	viewGetter  interface{ Get(context.Context, *Request) (any, error) }
	viewHeader  interface{ Head(context.Context, *Request) (any, error) }
	viewPoster  interface{ Post(context.Context, *Request) (any, error) }
	viewPutter  interface{ Put(context.Context, *Request) (any, error) }
	viewPatcher interface{ Patch(context.Context, *Request) (any, error) }
	viewDeleter interface{ Delete(context.Context, *Request) (any, error) }
	viewOptions interface{ Options(context.Context, *Request) (any, error) }
)

func viewEndpoint(v any, method string) Endpoint {
	switch method {
	case "GET":
		if h, ok := v.(viewGetter); ok {
			return h.Get
		}
	case "HEAD":
		if h, ok := v.(viewHeader); ok {
			return h.Head
		}
	case "POST":
		if h, ok := v.(viewPoster); ok {
			return h.Post
		}
	case "PUT":
		if h, ok := v.(viewPutter); ok {
			return h.Put
		}
	case "PATCH":
		if h, ok := v.(viewPatcher); ok {
			return h.Patch
		}
	case "DELETE":
		if h, ok := v.(viewDeleter); ok {
			return h.Delete
		}
	case "OPTIONS":
		if h, ok := v.(viewOptions); ok {
			return h.Options
		}
	}
	return nil
}

// Mount delegates every request under prefix to app. The prefix is removed
// from the request path and appended to the root path. Mounted prefixes are
// checked before any route and must not overlap each other.
//
// A mounted *App applies its own middleware and error handlers and its
// response flows back through the parent's middleware. Any other Application
// writes directly to the gateway.
func (r *Router) Mount(prefix string, app Application) {
	if r.mounts == nil {
		r.mounts = map[string]Application{}
	}
	prefix = strings.TrimRight(prefix, "/")
	for existing := range r.mounts {
		if existing == prefix || strings.HasPrefix(existing+"/", prefix+"/") || strings.HasPrefix(prefix+"/", existing+"/") {
			panic(fmt.Sprintf(
				"Mount with prefix %#q conflicts with existing mount with prefix %#q",
				prefix, existing,
			))
		}
	}
	r.mounts[prefix] = app
}

// Handle implements Handler: it finds the handler for req and runs it.
// Requests that match no route fail with a 404 ResponseError, requests whose
// path matches only for other methods with a 405.
func (r *Router) Handle(ctx context.Context, req *Request) (*Response, error) {
	path := req.Path()
	for prefix, app := range r.mounts {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return r.dispatchMount(ctx, req, prefix, app)
		}
	}
	if r.TrimLastSlash {
		path = trimLastSlash(path)
	}
	method := req.Method()
	h, params := r.match(method, path)
	if h == nil {
		if r.allowsOtherMethod(method, path) {
			return nil, &ResponseError{Code: http.StatusMethodNotAllowed, LogMsg: method + " " + path}
		}
		return nil, &ResponseError{Code: http.StatusNotFound, LogMsg: path}
	}
	for k, v := range params {
		req.PathParams()[k] = v
	}
	return h.Handle(ctx, req)
}

func (r *Router) match(method, path string) (Handler, map[string]string) {
	params := map[string]string{}
	if h := r.byMethod[method].Match(path, params); h != nil {
		return h, params
	}
	params = map[string]string{}
	return r.anyMethod.Match(path, params), params
}

func (r *Router) allowsOtherMethod(method, path string) bool {
	for m, routes := range r.byMethod {
		if m != method && routes.Match(path, map[string]string{}) != nil {
			return true
		}
	}
	return false
}

// responder is implemented by applications that can produce a response for
// the parent's middleware instead of writing to the gateway themselves.
type responder interface {
	respond(ctx context.Context, req *Request) (*Response, error)
}

func (r *Router) dispatchMount(ctx context.Context, req *Request, prefix string, app Application) (*Response, error) {
	scope := req.Scope.Clone()
	scope.Path = strings.TrimPrefix(req.Scope.Path, prefix)
	if scope.Path == "" {
		scope.Path = "/"
	}
	scope.RootPath = req.Scope.RootPath + prefix
	if sub, ok := app.(responder); ok {
		return sub.respond(ctx, req.withScope(scope))
	}
	if scope.Type == ScopeHTTP {
		var rec responseRecorder
		if err := app.Serve(ctx, scope, req.receive, rec.send); err != nil {
			return nil, err
		}
		if rec.resp == nil {
			return Committed(), nil
		}
		return rec.resp, nil
	}
	if req.send == nil {
		return nil, ErrNoSend
	}
	if err := app.Serve(ctx, scope, req.receive, req.send); err != nil {
		return nil, err
	}
	return Committed(), nil
}

func (r *Router) getOrAllocateMux(method string) *mux {
	if method == "*" {
		if r.anyMethod == nil {
			r.anyMethod = &mux{}
		}
		return r.anyMethod
	}
	if r.byMethod == nil {
		r.byMethod = map[string]*mux{}
	}
	m := r.byMethod[method]
	if m == nil {
		m = &mux{}
		r.byMethod[method] = m
	}
	return m
}

func trimLastSlash(path string) string {
	if len(path) > 1 {
		return strings.TrimSuffix(path, "/")
	}
	return path
}

type mux struct {
	static  map[string]*mux
	params  []muxParam
	handler Handler
}

type muxParam struct {
	paramName string
	greedy    bool
	mux       *mux
}

func (m *mux) Register(pattern string, h Handler) error {
	if !strings.HasPrefix(pattern, "/") {
		return errors.New("patterns must begin with /")
	}
	segments := strings.Split(pattern[1:], "/")
	reg := registerInfo{
		seenParams: map[string]bool{},
		seenGreedy: false,
	}
	if m.static == nil {
		m.static = map[string]*mux{}
	}
	if err := reg.registerSegments(m, segments, h); err != nil {
		return fmt.Errorf("%#q: bad pattern: %w", pattern, err)
	}
	return nil
}

type registerInfo struct {
	seenParams map[string]bool
	seenGreedy bool
}

func (r *registerInfo) registerSegments(m *mux, segments []string, h Handler) error {
	if len(segments) == 0 {
		if m.handler != nil {
			return fmt.Errorf("repeated entry")
		}
		m.handler = h
		return nil
	}
	next, remaining := segments[0], segments[1:]
	static, isStatic, name, greedy := entryToInfo(next)
	if isStatic {
		return r.registerStatic(m, static, remaining, h)
	}
	if name == "" {
		return fmt.Errorf("empty param name in %#q", next)
	}
	return r.registerParam(m, name, greedy, remaining, h)
}

func (r *registerInfo) registerStatic(m *mux, path string, remaining []string, h Handler) error {
	sub := m.static[path]
	if sub == nil {
		sub = &mux{
			static: map[string]*mux{},
		}
	}
	err := r.registerSegments(sub, remaining, h)
	if err == nil {
		m.static[path] = sub
	}
	return err
}

func (r *registerInfo) registerParam(m *mux, name string, greedy bool, remaining []string, h Handler) error {
	if greedy && r.seenGreedy {
		return fmt.Errorf("only one greedy param allowed per pattern: %#q", name)
	} else if r.seenParams[name] {
		return fmt.Errorf("param used twice: %#q", name)
	}
	// Check to see if the param already exists. E.g. we've already registered
	// param at this level via:
	//    /root/{param}/path1 --> h1
	// and now we're registering:
	//    /root/{param}/path2 --> h2
	for _, p := range m.params {
		if p.paramName == name {
			if p.greedy != greedy {
				return fmt.Errorf("param %#q is sometimes greedy and sometimes not", name)
			}
			r.seenParams[name] = true
			r.seenGreedy = r.seenGreedy || greedy
			return r.registerSegments(p.mux, remaining, h)
		}
		// Otherwise avoid ambiguous registrations such as:
		//   /root/{p1}/path
		//   /root/{p2}/path
		if err := p.mux.checkAmbiguous(remaining); err != nil {
			return fmt.Errorf("ambiguous route: %w", err)
		}
	}
	sub := &mux{
		static: map[string]*mux{},
	}
	r.seenParams[name] = true
	r.seenGreedy = r.seenGreedy || greedy
	err := r.registerSegments(sub, remaining, h)
	if err == nil {
		m.params = append(m.params, muxParam{
			paramName: name,
			greedy:    greedy,
			mux:       sub,
		})
	}
	return err
}

func (m *mux) checkAmbiguous(segments []string) error {
	if len(segments) == 0 {
		if m.handler != nil {
			return fmt.Errorf("ambiguous route")
		}
		return nil
	}
	static, isStatic, _, _ := entryToInfo(segments[0])
	if isStatic {
		if child := m.static[static]; child != nil {
			return child.checkAmbiguous(segments[1:])
		}
		return nil
	}
	for _, p := range m.params {
		if err := p.mux.checkAmbiguous(segments[1:]); err != nil {
			return err
		}
	}
	return nil
}

func entryToInfo(entry string) (static string, isStatic bool, paramName string, greedy bool) {
	if len(entry) < 2 || entry[0] != '{' || entry[len(entry)-1] != '}' {
		return entry, true, "", false
	}
	inner := entry[1 : len(entry)-1]
	paramName = strings.TrimSuffix(inner, "*")
	greedy = strings.HasSuffix(inner, "*")
	return "", false, paramName, greedy
}

func (m *mux) Match(uri string, params map[string]string) Handler {
	if m == nil {
		return nil
	}
	uri = strings.TrimPrefix(uri, "/")
	segments := strings.Split(uri, "/")
	return m.matchPrefix(segments, params)
}

func (m *mux) matchPrefix(segments []string, params map[string]string) Handler {
	if m == nil {
		return nil
	}
	if len(segments) == 0 {
		return m.handler
	}
	path, remaining := segments[0], segments[1:]
	if sub := m.static[path]; sub != nil {
		match := sub.matchPrefix(remaining, params)
		if match != nil {
			return match
		}
	}
	for _, param := range m.params {
		if !param.greedy {
			if path == "" {
				continue
			}
			matched := param.mux.matchPrefix(remaining, params)
			if matched != nil {
				params[param.paramName] = path
				return matched
			}
		} else {
			matched, used := param.mux.matchSuffix(remaining, params)
			if matched != nil {
				N := len(segments)
				params[param.paramName] = strings.Join(segments[:N-used], "/")
				return matched
			}
		}
	}
	return nil
}

func (m *mux) matchSuffix(segments []string, params map[string]string) (h Handler, depth int) {
	N := len(segments)
	if N == 0 {
		return m.handler, 0
	}
	for staticPath, sub := range m.static {
		match, d := sub.matchSuffix(segments, params)
		if match == nil {
			continue
		}
		depth = d + 1
		if depth > N || segments[N-depth] != staticPath {
			continue
		}
		return match, depth
	}
	for _, param := range m.params {
		match, d := param.mux.matchSuffix(segments, params)
		if match == nil {
			continue
		}
		depth = d + 1
		if depth > N || segments[N-depth] == "" {
			continue
		}
		params[param.paramName] = segments[N-depth]
		return match, depth
	}
	return m.handler, 0
}
