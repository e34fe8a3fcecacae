package panini

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionHeaders(t *testing.T) {
	scope := httpScope("GET", "/", RawHeader{[]byte("X-Mixed-Case"), []byte("caf\xe9")})
	c := NewConnection(scope, nil, nil)

	assert.Equal(t, "café", c.Headers().Get("x-mixed-case"))
	assert.Equal(t, "café", c.Headers().Get("X-MIXED-CASE"))
	assert.Same(t, c.Headers(), c.Headers())
}

func TestConnectionCookies(t *testing.T) {
	c := NewConnection(httpScope("GET", "/", H("cookie", `session=abc; broken; =nameless; theme="dark"; n=1`)), nil, nil)
	cookies := c.Cookies()
	assert.Equal(t, RequestCookies{{"session", "abc"}, {"theme", "dark"}, {"n", "1"}}, cookies)
	assert.Equal(t, "dark", cookies.Get("theme"))
	_, ok := cookies.Lookup("broken")
	assert.False(t, ok)

	assert.Empty(t, NewConnection(httpScope("GET", "/"), nil, nil).Cookies())
}

func TestConnectionURL(t *testing.T) {
	testCases := []struct {
		name     string
		scope    *Scope
		expected string
	}{
		{"server address", &Scope{Scheme: "http", Path: "/a", Server: &Addr{"example.com", 80}}, "http://example.com/a"},
		{"server port kept", &Scope{Scheme: "http", Path: "/a", Server: &Addr{"example.com", 8080}}, "http://example.com:8080/a"},
		{"https default port", &Scope{Scheme: "https", Path: "/", Server: &Addr{"example.com", 443}}, "https://example.com/"},
		{"host header wins", &Scope{Scheme: "http", Path: "/p", Server: &Addr{"10.0.0.1", 80},
			Headers: []RawHeader{H("host", "public.org:9999")}}, "http://public.org/p"},
		{"root path and query", &Scope{Scheme: "http", RootPath: "/api", Path: "/users",
			QueryString: []byte("q=1&r=%20"), Server: &Addr{"h", 80}}, "http://h/api/users?q=1&r=%20"},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			u, err := NewConnection(test.scope, nil, nil).URL()
			require.NoError(t, err)
			assert.Equal(t, test.expected, u.String())
		})
	}
}

func TestConnectionURLErrorOnlyOnAccess(t *testing.T) {
	scope := &Scope{Scheme: "http", Path: "/", QueryString: []byte("a=%zz"), Server: &Addr{"h", 80}}
	c := NewConnection(scope, nil, nil)
	// Other views are unaffected by the malformed query.
	assert.Equal(t, "/", c.Path())
	_, err := c.URL()
	assert.Error(t, err)
	_, err2 := c.URL()
	assert.Equal(t, err, err2)
}

func TestConnectionContentType(t *testing.T) {
	c := NewConnection(httpScope("POST", "/", H("content-type", `Multipart/Form-Data; boundary="abc;def"; charset=latin1`)), nil, nil)
	assert.Equal(t, "multipart/form-data", c.ContentType())
	assert.Equal(t, "abc;def", c.ContentTypeParams()["boundary"])
	assert.Equal(t, "latin1", c.Charset())

	plain := NewConnection(httpScope("POST", "/"), nil, nil)
	assert.Equal(t, "", plain.ContentType())
	assert.Equal(t, "utf-8", plain.Charset())
}

func TestConnectionQuery(t *testing.T) {
	c := NewConnection(httpScope("GET", "/search?q=go&tag=a&tag=b&empty="), nil, nil)
	assert.Equal(t, url.Values{"q": {"go"}, "tag": {"a", "b"}, "empty": {""}}, c.Query())
	assert.Equal(t, "GET", c.Method())
	assert.Equal(t, "127.0.0.1:40000", c.Client().String())
}

func TestRequestBodyReadOnce(t *testing.T) {
	ctx := context.Background()
	q := bodyQueue("hel", "", "lo")
	req := NewRequest(httpScope("POST", "/"), q.receive, nil)

	body, err := req.Body(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, 3, q.calls)

	again, err := req.Body(ctx)
	require.NoError(t, err)
	assert.Equal(t, body, again)
	assert.Equal(t, 3, q.calls, "the body must not be read twice")

	// Decoded views reuse the buffered body.
	_, err = req.Text(ctx)
	require.NoError(t, err)
	_, _ = req.Form(ctx)
	assert.Equal(t, 3, q.calls)
}

func TestRequestStream(t *testing.T) {
	ctx := context.Background()
	req := NewRequest(httpScope("POST", "/"), bodyQueue("a", "b", "c").receive, nil)
	s, err := req.Stream(ctx)
	require.NoError(t, err)

	var chunks []string
	for {
		chunk, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, string(chunk))
	}
	assert.Equal(t, []string{"a", "b", "c"}, chunks)

	s2, err := req.Stream(ctx)
	require.NoError(t, err)
	assert.Same(t, s, s2)
	_, err = s2.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestRequestStreamAsReader(t *testing.T) {
	ctx := context.Background()
	req := NewRequest(httpScope("POST", "/"), bodyQueue("first ", "second").receive, nil)
	s, err := req.Stream(ctx)
	require.NoError(t, err)
	data, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "first second", string(data))
}

func TestRequestWithoutReceive(t *testing.T) {
	req := NewRequest(httpScope("POST", "/"), nil, nil)
	_, err := req.Stream(context.Background())
	assert.Equal(t, ErrNoReceive, err)
	_, err = req.Text(context.Background())
	assert.Equal(t, ErrNoReceive, err)
	assert.True(t, isFatal(err))
}

func TestRequestDisconnect(t *testing.T) {
	q := &msgQueue{msgs: []Message{
		{Type: TypeHTTPRequest, Body: []byte("partial"), MoreBody: true},
		{Type: TypeHTTPDisconnect},
	}}
	req := NewRequest(httpScope("POST", "/"), q.receive, nil)
	_, err := req.Body(context.Background())
	assert.ErrorIs(t, err, ErrClientDisconnected)
}

func TestRequestText(t *testing.T) {
	ctx := context.Background()

	req := NewRequest(httpScope("POST", "/"), bodyQueue("hello").receive, nil)
	text, err := req.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	req = NewRequest(httpScope("POST", "/"), bodyQueue("\xff\xfe").receive, nil)
	_, err = req.Text(ctx)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, InvalidEncoding, de.Kind)
	assert.Contains(t, err.Error(), "Invalid Encoding")

	req = NewRequest(httpScope("POST", "/", H("content-type", "text/plain; charset=windows-1252")),
		bodyQueue("caf\xe9").receive, nil)
	text, err = req.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "café", text)

	req = NewRequest(httpScope("POST", "/", H("content-type", "text/plain; charset=no-such-charset")),
		bodyQueue("x").receive, nil)
	_, err = req.Text(ctx)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, InvalidEncoding, de.Kind)
}

func TestRequestTextLatin1(t *testing.T) {
	for _, charset := range []string{"iso-8859-1", "ISO_8859_1", "latin-1", "latin1"} {
		req := NewRequest(httpScope("POST", "/", H("content-type", "text/plain; charset="+charset)),
			bodyQueue("\x80\x9f caf\xe9").receive, nil)
		text, err := req.Text(context.Background())
		require.NoError(t, err, charset)
		assert.Equal(t, "\u0080\u009f café", text, charset)
	}

	// windows-1252 keeps its own mapping of the 0x80-0x9F range.
	req := NewRequest(httpScope("POST", "/", H("content-type", "text/plain; charset=windows-1252")),
		bodyQueue("\x80").receive, nil)
	text, err := req.Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "€", text)
}

func TestRequestJSON(t *testing.T) {
	ctx := context.Background()

	req := NewRequest(httpScope("POST", "/"), bodyQueue(`{"test": "passed"}`).receive, nil)
	doc, err := req.JSON(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"test": "passed"}, doc)

	var bound struct{ Test string }
	require.NoError(t, req.BindJSON(ctx, &bound))
	assert.Equal(t, "passed", bound.Test)

	req = NewRequest(httpScope("POST", "/"), bodyQueue("not json").receive, nil)
	_, err = req.JSON(ctx)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, InvalidJSON, de.Kind)
	// Failures are not memoized.
	_, err2 := req.JSON(ctx)
	assert.Error(t, err2)

	// Encoding errors surface as such, not as JSON errors.
	req = NewRequest(httpScope("POST", "/"), bodyQueue("\xff").receive, nil)
	_, err = req.JSON(ctx)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, InvalidEncoding, de.Kind)
}

func TestRequestFormURLEncoded(t *testing.T) {
	ctx := context.Background()
	req := NewRequest(httpScope("POST", "/", H("content-type", "application/x-www-form-urlencoded")),
		bodyQueue("name=bob&tag=a&tag=b&blank=").receive, nil)
	form, err := req.Form(ctx)
	require.NoError(t, err)
	assert.Equal(t, url.Values{"name": {"bob"}, "tag": {"a", "b"}, "blank": {""}}, form)

	req = NewRequest(httpScope("POST", "/", H("content-type", "multipart/form-data")),
		bodyQueue("no boundary").receive, nil)
	_, err = req.Form(ctx)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, InvalidForm, de.Kind)
	assert.Equal(t, "Invalid Form Data", de.Kind.String())
}

func TestRequestFormLenient(t *testing.T) {
	testCases := []struct {
		body     string
		expected url.Values
	}{
		{"a=100%", url.Values{"a": {"100%"}}},
		{"a=1;b=2", url.Values{"a": {"1;b=2"}}},
		{"a=%zz&b=ok", url.Values{"a": {"%zz"}, "b": {"ok"}}},
		{"a=%41%zz%4", url.Values{"a": {"A%zz%4"}}},
		{"q=hello+world&&flag", url.Values{"q": {"hello world"}, "flag": {""}}},
		{"", url.Values{}},
	}
	for _, test := range testCases {
		t.Run(test.body, func(t *testing.T) {
			req := NewRequest(httpScope("POST", "/", H("content-type", "application/x-www-form-urlencoded")),
				bodyQueue(test.body).receive, nil)
			form, err := req.Form(context.Background())
			require.NoError(t, err)
			assert.Equal(t, test.expected, form)
		})
	}
}

func TestRequestFormMultipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "alice"))
	fw, err := mw.CreateFormFile("upload", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("file contents"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := NewRequest(httpScope("POST", "/", H("content-type", mw.FormDataContentType())),
		bodyQueue(buf.String()).receive, nil)
	form, err := req.Form(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", form.Get("name"))
	assert.Equal(t, "file contents", form.Get("upload"))

	req = NewRequest(httpScope("POST", "/", H("content-type", "multipart/form-data")),
		bodyQueue(buf.String()).receive, nil)
	_, err = req.Form(context.Background())
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, InvalidForm, de.Kind)
}

func TestRequestData(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		contentType string
		body        string
		expected    any
	}{
		{"application/json; charset=utf-8", `[1, 2]`, []any{1.0, 2.0}},
		{"application/x-www-form-urlencoded", `a=1`, url.Values{"a": {"1"}}},
		{"text/plain", `plain`, "plain"},
		{"", `{"not": "parsed"}`, `{"not": "parsed"}`},
	}
	for _, test := range testCases {
		t.Run(test.contentType, func(t *testing.T) {
			req := NewRequest(httpScope("POST", "/", H("content-type", test.contentType)),
				bodyQueue(test.body).receive, nil)
			data, err := req.Data(ctx)
			require.NoError(t, err)
			assert.Equal(t, test.expected, data)
		})
	}
}

func TestDecodingPassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := decoding(InvalidJSON, func() (int, error) { return 0, boom })
	assert.Equal(t, boom, err)

	_, err = decoding(InvalidJSON, func() (int, error) { return 0, parseFailed(boom) })
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, InvalidJSON, de.Kind)
	assert.ErrorIs(t, err, boom)
}
