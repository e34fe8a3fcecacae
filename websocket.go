package panini

import (
	"context"
	"encoding/json"
)

// WebSocketState is the lifecycle state of a websocket session.
type WebSocketState int

const (
	WebSocketConnecting WebSocketState = iota
	WebSocketOpen
	WebSocketClosed
)

func (s WebSocketState) String() string {
	switch s {
	case WebSocketConnecting:
		return "CONNECTING"
	case WebSocketOpen:
		return "OPEN"
	case WebSocketClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// CloseNormal is the close code sent when Close is called without one.
const CloseNormal = 1000

// WebSocket is a session over a websocket scope. Unlike an HTTP response it
// pushes frames immediately: every Send goes straight to the gateway.
type WebSocket struct {
	req   *Request
	state WebSocketState

	// CloseCode is the code reported by the client when it disconnected.
	CloseCode int
}

// NewWebSocket starts a session for req in the CONNECTING state.
func NewWebSocket(req *Request) *WebSocket {
	return &WebSocket{req: req}
}

// State is the current session state.
func (ws *WebSocket) State() WebSocketState { return ws.state }

// Accept waits for the client's connect event and accepts the connection,
// optionally selecting a subprotocol.
func (ws *WebSocket) Accept(ctx context.Context, subprotocol ...string) error {
	if ws.state != WebSocketConnecting {
		return &StateError{Op: "accept", State: ws.state}
	}
	msg, err := ws.req.RawReceive(ctx)
	if err != nil {
		return err
	}
	switch msg.Type {
	case TypeWebSocketConnect:
	case TypeWebSocketDisconnect:
		ws.state, ws.CloseCode = WebSocketClosed, msg.Code
		return ErrClientDisconnected
	}
	accept := Message{Type: TypeWebSocketAccept}
	if len(subprotocol) > 0 {
		accept.Subprotocol = subprotocol[0]
	}
	if err := ws.req.RawSend(ctx, accept); err != nil {
		return err
	}
	ws.state = WebSocketOpen
	return nil
}

// Receive waits for the next client frame. Text frames are returned as
// string, binary frames as []byte.
func (ws *WebSocket) Receive(ctx context.Context) (any, error) {
	if ws.state != WebSocketOpen {
		return nil, &StateError{Op: "receive", State: ws.state}
	}
	for {
		msg, err := ws.req.RawReceive(ctx)
		if err != nil {
			return nil, err
		}
		switch msg.Type {
		case TypeWebSocketDisconnect:
			ws.state, ws.CloseCode = WebSocketClosed, msg.Code
			return nil, ErrClientDisconnected
		case TypeWebSocketReceive:
			if msg.Bytes != nil {
				return msg.Bytes, nil
			}
			return msg.Text, nil
		}
	}
}

// ReceiveJSON waits for the next frame and decodes it into v.
func (ws *WebSocket) ReceiveJSON(ctx context.Context, v any) error {
	frame, err := ws.Receive(ctx)
	if err != nil {
		return err
	}
	var data []byte
	switch frame := frame.(type) {
	case string:
		data = []byte(frame)
	case []byte:
		data = frame
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &DecodeError{Kind: InvalidJSON, Err: err}
	}
	return nil
}

// Send pushes a frame to the client: strings as text frames, []byte as binary
// frames and anything else as JSON text.
func (ws *WebSocket) Send(ctx context.Context, v any) error {
	if ws.state != WebSocketOpen {
		return &StateError{Op: "send", State: ws.state}
	}
	msg := Message{Type: TypeWebSocketSend}
	switch v := v.(type) {
	case string:
		msg.Text = v
	case []byte:
		msg.Bytes = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		msg.Text = string(data)
	}
	return ws.req.RawSend(ctx, msg)
}

// Close ends the session with the given code (CloseNormal by default). Closing
// a session that was never accepted rejects the connection; closing a closed
// session does nothing.
func (ws *WebSocket) Close(ctx context.Context, code ...int) error {
	if ws.state == WebSocketClosed {
		return nil
	}
	msg := Message{Type: TypeWebSocketClose, Code: CloseNormal}
	if len(code) > 0 {
		msg.Code = code[0]
	}
	ws.state = WebSocketClosed
	return ws.req.RawSend(ctx, msg)
}
