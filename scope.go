package panini

import (
	"context"
	"strconv"
)

// Scope types.
const (
	ScopeHTTP      = "http"
	ScopeWebSocket = "websocket"
	ScopeLifespan  = "lifespan"
)

// Message types exchanged over the receive and send channels.
const (
	TypeHTTPRequest       = "http.request"
	TypeHTTPDisconnect    = "http.disconnect"
	TypeHTTPResponseStart = "http.response.start"
	TypeHTTPResponseBody  = "http.response.body"

	TypeWebSocketConnect    = "websocket.connect"
	TypeWebSocketAccept     = "websocket.accept"
	TypeWebSocketReceive    = "websocket.receive"
	TypeWebSocketSend       = "websocket.send"
	TypeWebSocketDisconnect = "websocket.disconnect"
	TypeWebSocketClose      = "websocket.close"

	TypeLifespanStartup          = "lifespan.startup"
	TypeLifespanStartupComplete  = "lifespan.startup.complete"
	TypeLifespanStartupFailed    = "lifespan.startup.failed"
	TypeLifespanShutdown         = "lifespan.shutdown"
	TypeLifespanShutdownComplete = "lifespan.shutdown.complete"
	TypeLifespanShutdownFailed   = "lifespan.shutdown.failed"
)

// RawHeader is a single header as it travels over the gateway: undecoded
// name and value bytes.
type RawHeader struct {
	Name, Value []byte
}

// H is shorthand for building a RawHeader from strings.
func H(name, value string) RawHeader {
	return RawHeader{[]byte(name), []byte(value)}
}

// Addr is a host/port pair as reported by the transport.
type Addr struct {
	Host string
	Port int
}

func (a *Addr) String() string {
	if a == nil {
		return ""
	}
	if a.Port == 0 {
		return a.Host
	}
	return a.Host + ":" + strconv.Itoa(a.Port)
}

// Scope is the per-connection metadata supplied by the gateway. Everything
// except PathParams and Extensions should be treated as read-only.
type Scope struct {
	Type         string
	HTTPVersion  string
	Method       string
	Scheme       string
	Path         string
	RawPath      []byte
	RootPath     string
	QueryString  []byte
	Headers      []RawHeader
	Client       *Addr
	Server       *Addr
	Subprotocols []string

	// PathParams holds the parameters extracted by the router.
	PathParams map[string]string
	// Extensions holds gateway or middleware specific values.
	Extensions map[string]any
}

// Extension returns the extension value stored under key, if any.
func (s *Scope) Extension(key string) (any, bool) {
	v, ok := s.Extensions[key]
	return v, ok
}

// SetExtension stores an extension value under key.
func (s *Scope) SetExtension(key string, val any) {
	if s.Extensions == nil {
		s.Extensions = map[string]any{}
	}
	s.Extensions[key] = val
}

// Clone returns a shallow copy of the scope with its own PathParams and
// Extensions maps.
func (s *Scope) Clone() *Scope {
	c := *s
	c.PathParams = make(map[string]string, len(s.PathParams))
	for k, v := range s.PathParams {
		c.PathParams[k] = v
	}
	c.Extensions = make(map[string]any, len(s.Extensions))
	for k, v := range s.Extensions {
		c.Extensions[k] = v
	}
	return &c
}

// Message is one frame on the receive or send channel. Which fields are
// meaningful depends on Type.
type Message struct {
	Type string

	// http.response.start
	Status  int
	Headers []RawHeader

	// http.request, http.response.body
	Body     []byte
	MoreBody bool

	// websocket.receive, websocket.send: Bytes is used for binary frames,
	// Text otherwise.
	Text  string
	Bytes []byte

	// websocket.close, websocket.disconnect
	Code int

	// websocket.accept
	Subprotocol string

	// lifespan.*.failed
	Reason string
}

// Receive pulls the next inbound message from the gateway.
type Receive func(ctx context.Context) (Message, error)

// Send pushes an outbound message to the gateway.
type Send func(ctx context.Context, m Message) error

// Application is anything that can serve a gateway connection.
type Application interface {
	Serve(ctx context.Context, scope *Scope, receive Receive, send Send) error
}

// ApplicationFunc adapts a function to the Application interface.
type ApplicationFunc func(ctx context.Context, scope *Scope, receive Receive, send Send) error

func (f ApplicationFunc) Serve(ctx context.Context, scope *Scope, receive Receive, send Send) error {
	return f(ctx, scope, receive, send)
}
