package panini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/websocket"
)

// ServeHTTP runs app for a net/http request. params seed Scope.PathParams,
// which lets foreign routers pass their path parameters along.
//
// Requests asking for a websocket upgrade get a websocket scope; the upgrade
// happens when the application accepts the connection.
func ServeHTTP(w http.ResponseWriter, r *http.Request, app Application, params map[string]string) error {
	scope := ScopeFromHTTP(r)
	for k, v := range params {
		scope.PathParams[k] = v
	}
	if scope.Type == ScopeWebSocket {
		g := &wsGateway{w: w, r: r}
		err := app.Serve(r.Context(), scope, g.receive, g.send)
		g.finish()
		return err
	}
	g := &httpGateway{w: w, r: r}
	return app.Serve(r.Context(), scope, g.receive, g.send)
}

// ScopeFromHTTP builds the scope of a net/http request.
func ScopeFromHTTP(r *http.Request) *Scope {
	scope := &Scope{
		Type:        ScopeHTTP,
		HTTPVersion: fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		Method:      r.Method,
		Scheme:      "http",
		Path:        r.URL.Path,
		RawPath:     []byte(r.URL.EscapedPath()),
		QueryString: []byte(r.URL.RawQuery),
		Client:      parseAddr(r.RemoteAddr),
		PathParams:  map[string]string{},
		Extensions:  map[string]any{},
	}
	if r.TLS != nil {
		scope.Scheme = "https"
	}
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		scope.Server = parseAddr(addr.String())
	}
	if r.Host != "" {
		scope.Headers = append(scope.Headers, H("host", r.Host))
	}
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range r.Header[name] {
			scope.Headers = append(scope.Headers, H(strings.ToLower(name), v))
		}
	}
	if isWebSocketUpgrade(r) {
		scope.Type = ScopeWebSocket
		scope.Scheme = "ws"
		if r.TLS != nil {
			scope.Scheme = "wss"
		}
		for _, p := range strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",") {
			if p = strings.TrimSpace(p); p != "" {
				scope.Subprotocols = append(scope.Subprotocols, p)
			}
		}
	}
	return scope
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func parseAddr(hostport string) *Addr {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		if hostport == "" {
			return nil
		}
		return &Addr{Host: hostport}
	}
	p, _ := strconv.Atoi(port)
	return &Addr{Host: host, Port: p}
}

const bodyChunkSize = 64 * 1024

type httpGateway struct {
	w        http.ResponseWriter
	r        *http.Request
	bodyDone bool
	started  bool
	finished bool
}

func (g *httpGateway) receive(ctx context.Context) (Message, error) {
	if !g.bodyDone {
		if g.r.Body == nil || g.r.Body == http.NoBody {
			g.bodyDone = true
			return Message{Type: TypeHTTPRequest}, nil
		}
		buf := make([]byte, bodyChunkSize)
		n, err := g.r.Body.Read(buf)
		switch {
		case err == io.EOF:
			g.bodyDone = true
			return Message{Type: TypeHTTPRequest, Body: buf[:n]}, nil
		case err != nil:
			g.bodyDone = true
			return Message{Type: TypeHTTPDisconnect}, nil
		}
		return Message{Type: TypeHTTPRequest, Body: buf[:n], MoreBody: true}, nil
	}
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-g.r.Context().Done():
		return Message{Type: TypeHTTPDisconnect}, nil
	}
}

func (g *httpGateway) send(ctx context.Context, m Message) error {
	switch m.Type {
	case TypeHTTPResponseStart:
		if g.started {
			return &UsageError{"response already started"}
		}
		g.started = true
		h := g.w.Header()
		for _, raw := range m.Headers {
			h.Add(string(raw.Name), string(raw.Value))
		}
		g.w.WriteHeader(m.Status)
	case TypeHTTPResponseBody:
		if !g.started || g.finished {
			return &UsageError{"response body sent outside of a response"}
		}
		if len(m.Body) > 0 {
			if _, err := g.w.Write(m.Body); err != nil {
				return err
			}
		}
		if !m.MoreBody {
			g.finished = true
		} else if f, ok := g.w.(http.Flusher); ok {
			f.Flush()
		}
	default:
		return &UsageError{"unexpected message " + m.Type + " on an http connection"}
	}
	return nil
}

// wsFrame is one websocket message as seen by frameCodec.
type wsFrame struct {
	data   []byte
	binary bool
	err    error
}

var frameCodec = websocket.Codec{
	Marshal: func(v any) ([]byte, byte, error) {
		f := v.(wsFrame)
		if f.binary {
			return f.data, websocket.BinaryFrame, nil
		}
		return f.data, websocket.TextFrame, nil
	},
	Unmarshal: func(data []byte, payloadType byte, v any) error {
		f := v.(*wsFrame)
		f.data = data
		f.binary = payloadType == websocket.BinaryFrame
		return nil
	},
}

// wsGateway adapts a net/http request to the websocket message flow. The
// handshake runs on its own goroutine once the application accepts; the
// connection stays open until the application returns.
type wsGateway struct {
	w http.ResponseWriter
	r *http.Request

	connected bool
	accepted  bool
	closed    bool

	conn    *websocket.Conn
	frames  chan wsFrame
	release chan struct{}
	served  chan struct{}
}

func (g *wsGateway) receive(ctx context.Context) (Message, error) {
	if !g.connected {
		g.connected = true
		return Message{Type: TypeWebSocketConnect}, nil
	}
	if !g.accepted || g.closed {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-g.r.Context().Done():
		}
		return Message{Type: TypeWebSocketDisconnect, Code: 1006}, nil
	}
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case f := <-g.frames:
		if f.err != nil {
			g.closed = true
			code := 1006
			if errors.Is(f.err, io.EOF) {
				code = CloseNormal
			}
			return Message{Type: TypeWebSocketDisconnect, Code: code}, nil
		}
		if f.binary {
			return Message{Type: TypeWebSocketReceive, Bytes: f.data}, nil
		}
		return Message{Type: TypeWebSocketReceive, Text: string(f.data)}, nil
	}
}

func (g *wsGateway) send(ctx context.Context, m Message) error {
	switch m.Type {
	case TypeWebSocketAccept:
		if g.accepted || g.closed {
			return &UsageError{"websocket already accepted or closed"}
		}
		return g.accept(m.Subprotocol)
	case TypeWebSocketSend:
		if !g.accepted || g.closed {
			return &UsageError{"websocket is not open"}
		}
		f := wsFrame{data: []byte(m.Text)}
		if m.Bytes != nil {
			f = wsFrame{data: m.Bytes, binary: true}
		}
		return frameCodec.Send(g.conn, f)
	case TypeWebSocketClose:
		if g.closed {
			return nil
		}
		g.closed = true
		if !g.accepted {
			http.Error(g.w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return nil
		}
		code := m.Code
		if code == 0 {
			code = CloseNormal
		}
		return g.conn.WriteClose(code)
	}
	return &UsageError{"unexpected message " + m.Type + " on a websocket connection"}
}

func (g *wsGateway) accept(subprotocol string) error {
	ready := make(chan *websocket.Conn, 1)
	g.release = make(chan struct{})
	g.served = make(chan struct{})
	srv := websocket.Server{
		Handshake: func(cfg *websocket.Config, _ *http.Request) error {
			cfg.Protocol = nil
			if subprotocol != "" {
				cfg.Protocol = []string{subprotocol}
			}
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			ready <- conn
			<-g.release
		},
	}
	go func() {
		defer close(g.served)
		srv.ServeHTTP(g.w, g.r)
	}()
	select {
	case conn := <-ready:
		g.conn, g.accepted = conn, true
		g.frames = make(chan wsFrame)
		go g.read()
		return nil
	case <-g.served:
		g.closed = true
		return errors.New("panini: websocket handshake failed")
	}
}

func (g *wsGateway) read() {
	for {
		var f wsFrame
		if err := frameCodec.Receive(g.conn, &f); err != nil {
			f = wsFrame{err: err}
		}
		select {
		case g.frames <- f:
		case <-g.release:
			return
		}
		if f.err != nil {
			return
		}
	}
}

// finish releases the connection after the application returned. An
// application that never accepted nor closed rejects the connection.
func (g *wsGateway) finish() {
	if !g.accepted && !g.closed {
		http.Error(g.w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	}
	if g.release != nil {
		close(g.release)
		<-g.served
	}
}
