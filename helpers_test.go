package panini

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// msgQueue is an in-memory receive channel. It counts calls so tests can
// verify how often the gateway was consulted.
type msgQueue struct {
	msgs  []Message
	calls int
}

func (q *msgQueue) receive(ctx context.Context) (Message, error) {
	q.calls++
	if len(q.msgs) == 0 {
		return Message{}, errors.New("receive called on an exhausted queue")
	}
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	return m, nil
}

func bodyQueue(chunks ...string) *msgQueue {
	q := &msgQueue{}
	if len(chunks) == 0 {
		q.msgs = append(q.msgs, Message{Type: TypeHTTPRequest})
	}
	for i, c := range chunks {
		q.msgs = append(q.msgs, Message{
			Type:     TypeHTTPRequest,
			Body:     []byte(c),
			MoreBody: i < len(chunks)-1,
		})
	}
	return q
}

// sendRecorder is an in-memory send channel.
type sendRecorder struct {
	msgs []Message
}

func (s *sendRecorder) send(ctx context.Context, m Message) error {
	s.msgs = append(s.msgs, m)
	return nil
}

// status returns the status of the recorded start frame.
func (s *sendRecorder) status(t *testing.T) int {
	t.Helper()
	for _, m := range s.msgs {
		if m.Type == TypeHTTPResponseStart {
			return m.Status
		}
	}
	t.Fatalf("no response started: %#v", s.msgs)
	return 0
}

func (s *sendRecorder) header(name string) string {
	for _, m := range s.msgs {
		if m.Type == TypeHTTPResponseStart {
			for _, h := range m.Headers {
				if strings.EqualFold(string(h.Name), name) {
					return string(h.Value)
				}
			}
		}
	}
	return ""
}

func (s *sendRecorder) body() string {
	var b strings.Builder
	for _, m := range s.msgs {
		if m.Type == TypeHTTPResponseBody {
			b.Write(m.Body)
		}
	}
	return b.String()
}

func httpScope(method, path string, headers ...RawHeader) *Scope {
	scope := &Scope{
		Type:    ScopeHTTP,
		Method:  method,
		Scheme:  "http",
		Path:    path,
		Headers: headers,
		Server:  &Addr{Host: "testserver", Port: 80},
		Client:  &Addr{Host: "127.0.0.1", Port: 40000},
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		scope.Path, scope.QueryString = path[:i], []byte(path[i+1:])
	}
	return scope
}

// call runs a single request through app and returns the recorded frames.
func call(t *testing.T, app Application, method, path string, body string, headers ...RawHeader) *sendRecorder {
	t.Helper()
	rec := &sendRecorder{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := app.Serve(ctx, httpScope(method, path, headers...), bodyQueue(body).receive, rec.send)
	require.NoError(t, err)
	return rec
}

func testApp() *App {
	cfg := DefaultConfig()
	cfg.Logger = zap.NewNop()
	return New(cfg)
}

type fakeClock struct {
	now     time.Time
	advance time.Duration
}

func (f *fakeClock) Now() time.Time {
	now := f.now
	f.now = now.Add(f.advance)
	return now
}

func (f *fakeClock) Sleep(dt time.Duration) {
	f.now = f.now.Add(dt)
}
