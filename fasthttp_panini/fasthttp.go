// Package fasthttp_panini serves panini applications with fasthttp.
//
// fasthttp buffers whole requests and responses, so the application receives
// the body as a single chunk and streaming responses are collected before
// they are written to the client. Websocket upgrades are not supported.
package fasthttp_panini

import (
	"bytes"
	"context"
	"net"
	"strconv"

	"github.com/augustoroman/panini"
	"github.com/valyala/fasthttp"
)

// RequestCtxKey is the scope extension holding the *fasthttp.RequestCtx.
const RequestCtxKey = "fasthttp.request_ctx"

// Handler adapts app into a fasthttp request handler:
//
//	app := panini.TheUsual()
//	app.Get("/", home)
//	fasthttp.ListenAndServe(":8080", fasthttp_panini.Handler(app))
func Handler(app panini.Application) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		g := &gateway{ctx: ctx}
		if err := app.Serve(context.Background(), Scope(ctx), g.receive, g.send); err != nil {
			ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		}
	}
}

// Scope builds the scope of a fasthttp request. Header and query bytes are
// copied: fasthttp reuses its buffers once the handler returns.
func Scope(ctx *fasthttp.RequestCtx) *panini.Scope {
	scope := &panini.Scope{
		Type:        panini.ScopeHTTP,
		HTTPVersion: "1.0",
		Method:      string(ctx.Method()),
		Scheme:      "http",
		Path:        string(ctx.Path()),
		RawPath:     append([]byte(nil), ctx.URI().PathOriginal()...),
		QueryString: append([]byte(nil), ctx.URI().QueryString()...),
		Client:      addr(ctx.RemoteAddr()),
		Server:      addr(ctx.LocalAddr()),
		PathParams:  map[string]string{},
		Extensions:  map[string]any{RequestCtxKey: ctx},
	}
	if ctx.Request.Header.IsHTTP11() {
		scope.HTTPVersion = "1.1"
	}
	if ctx.IsTLS() {
		scope.Scheme = "https"
	}
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		scope.Headers = append(scope.Headers, panini.RawHeader{
			Name:  bytes.ToLower(append([]byte(nil), k...)),
			Value: append([]byte(nil), v...),
		})
	})
	return scope
}

func addr(a net.Addr) *panini.Addr {
	if a == nil {
		return nil
	}
	host, port, err := net.SplitHostPort(a.String())
	if err != nil {
		return &panini.Addr{Host: a.String()}
	}
	p, _ := strconv.Atoi(port)
	return &panini.Addr{Host: host, Port: p}
}

type gateway struct {
	ctx      *fasthttp.RequestCtx
	bodyRead bool
}

// receive hands out the whole body at once. Afterwards the request is
// reported as disconnected: fasthttp gives no signal while the handler runs.
func (g *gateway) receive(context.Context) (panini.Message, error) {
	if g.bodyRead {
		return panini.Message{Type: panini.TypeHTTPDisconnect}, nil
	}
	g.bodyRead = true
	body := append([]byte(nil), g.ctx.PostBody()...)
	return panini.Message{Type: panini.TypeHTTPRequest, Body: body}, nil
}

func (g *gateway) send(_ context.Context, m panini.Message) error {
	switch m.Type {
	case panini.TypeHTTPResponseStart:
		g.ctx.SetStatusCode(m.Status)
		for _, h := range m.Headers {
			switch string(h.Name) {
			case "content-length":
				// fasthttp computes it from the buffered body.
			case "content-type":
				g.ctx.SetContentTypeBytes(h.Value)
			default:
				g.ctx.Response.Header.AddBytesKV(h.Name, h.Value)
			}
		}
	case panini.TypeHTTPResponseBody:
		if _, err := g.ctx.Write(m.Body); err != nil {
			return err
		}
	default:
		return &unexpectedMessage{m.Type}
	}
	return nil
}

type unexpectedMessage struct{ typ string }

func (e *unexpectedMessage) Error() string {
	return "fasthttp_panini: unexpected message " + e.typ
}
