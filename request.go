package panini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// Request is an HTTP connection with access to its body. The body is read
// from the gateway at most once; Text, JSON and Form each decode the buffered
// body and memoize their result separately.
type Request struct {
	*Connection

	stream *BodyStream

	body     []byte
	bodyDone bool
	text     string
	textDone bool
	json     any
	jsonDone bool
	form     url.Values
	formDone bool
}

// NewRequest binds a request to the gateway. receive may be nil for synthetic
// requests, in which case any attempt to read the body fails with
// ErrNoReceive.
func NewRequest(scope *Scope, receive Receive, send Send) *Request {
	return &Request{Connection: NewConnection(scope, receive, send)}
}

// withScope returns a request for scope that shares the gateway channels and
// the body state of r.
func (r *Request) withScope(scope *Scope) *Request {
	sub := *r
	sub.Connection = NewConnection(scope, r.receive, r.send)
	return &sub
}

// RawReceive pulls the next message directly from the gateway.
func (r *Request) RawReceive(ctx context.Context) (Message, error) {
	if r.receive == nil {
		return Message{}, ErrNoReceive
	}
	return r.receive(ctx)
}

// RawSend pushes a message directly to the gateway. Handlers that respond
// this way should return Done.
func (r *Request) RawSend(ctx context.Context, m Message) error {
	if r.send == nil {
		return ErrNoSend
	}
	return r.send(ctx, m)
}

// Stream returns the body cursor. The cursor is single-pass: calling Stream
// again returns the same, possibly partially consumed, cursor.
func (r *Request) Stream(ctx context.Context) (*BodyStream, error) {
	if r.receive == nil {
		return nil, ErrNoReceive
	}
	if r.stream == nil {
		r.stream = &BodyStream{receive: r.receive, ctx: ctx}
	}
	return r.stream, nil
}

// Body reads the whole body. The first call drains the stream, later calls
// return the same bytes.
func (r *Request) Body(ctx context.Context) ([]byte, error) {
	if r.bodyDone {
		return r.body, nil
	}
	s, err := r.Stream(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for {
		chunk, err := s.Next(ctx)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}
	r.body, r.bodyDone = buf.Bytes(), true
	return r.body, nil
}

// Text decodes the body using the request charset.
func (r *Request) Text(ctx context.Context) (string, error) {
	if r.textDone {
		return r.text, nil
	}
	body, err := r.Body(ctx)
	if err != nil {
		return "", err
	}
	text, err := decoding(InvalidEncoding, func() (string, error) {
		return decodeText(body, r.Charset())
	})
	if err != nil {
		return "", err
	}
	r.text, r.textDone = text, true
	return text, nil
}

// JSON parses the body as a JSON document.
func (r *Request) JSON(ctx context.Context) (any, error) {
	if r.jsonDone {
		return r.json, nil
	}
	doc, err := decoding(InvalidJSON, func() (any, error) {
		text, err := r.Text(ctx)
		if err != nil {
			return nil, err
		}
		var doc any
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return nil, parseFailed(err)
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	r.json, r.jsonDone = doc, true
	return doc, nil
}

// BindJSON decodes the body into v. The result is not memoized.
func (r *Request) BindJSON(ctx context.Context, v any) error {
	_, err := decoding(InvalidJSON, func() (struct{}, error) {
		text, err := r.Text(ctx)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, parseFailed(json.Unmarshal([]byte(text), v))
	})
	return err
}

// Form parses a multipart/form-data body, or any other body as a urlencoded
// query string. Blank values are kept.
func (r *Request) Form(ctx context.Context) (url.Values, error) {
	if r.formDone {
		return r.form, nil
	}
	body, err := r.Body(ctx)
	if err != nil {
		return nil, err
	}
	form, err := decoding(InvalidForm, func() (url.Values, error) {
		if r.ContentType() == "multipart/form-data" {
			return parseMultipart(body, r.ContentTypeParams()["boundary"], r.Charset())
		}
		text, err := decodeText(body, r.Charset())
		if err != nil {
			return nil, err
		}
		return parseURLEncoded(text), nil
	})
	if err != nil {
		return nil, err
	}
	r.form, r.formDone = form, true
	return form, nil
}

// Data decodes the body according to its content type: url.Values for form
// bodies, a JSON document for application/json and a string otherwise.
func (r *Request) Data(ctx context.Context) (any, error) {
	switch r.ContentType() {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return r.Form(ctx)
	case "application/json":
		return r.JSON(ctx)
	}
	return r.Text(ctx)
}

// parseURLEncoded splits a urlencoded body on '&' only. Pairs without '='
// get a blank value and malformed escapes are kept as written.
func parseURLEncoded(text string) url.Values {
	form := url.Values{}
	for _, pair := range strings.Split(text, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		form.Add(unescapeLenient(name), unescapeLenient(value))
	}
	return form
}

func unescapeLenient(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return strings.ToValidUTF8(b.String(), "\uFFFD")
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c <= 'F':
		return c - 'A' + 10
	}
	return c - 'a' + 10
}

var errInvalidUTF8 = errors.New("invalid utf-8 sequence")

func decodeText(b []byte, charset string) (string, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "utf8":
		if !utf8.Valid(b) {
			return "", parseFailed(errInvalidUTF8)
		}
		return string(b), nil
	}
	if isLatin1(charset) {
		return latin1(b), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", parseFailed(err)
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", parseFailed(err)
	}
	return string(out), nil
}

// isLatin1 reports whether charset names ISO-8859-1 proper. The WHATWG
// index used by htmlindex maps these names to windows-1252, which differs in
// the 0x80-0x9F range.
func isLatin1(charset string) bool {
	switch strings.ReplaceAll(strings.ToLower(charset), "_", "-") {
	case "latin-1", "latin1", "latin", "l1", "iso-8859-1", "iso8859-1", "8859", "cp819", "iso-ir-100":
		return true
	}
	return false
}

func parseMultipart(body []byte, boundary, charset string) (url.Values, error) {
	if boundary == "" {
		return nil, parseFailed(errors.New("multipart body without boundary"))
	}
	form := url.Values{}
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return form, nil
		} else if err != nil {
			return nil, parseFailed(err)
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, parseFailed(err)
		}
		name := part.FormName()
		if name == "" {
			continue
		}
		val, err := decodeText(data, charset)
		if err != nil {
			return nil, err
		}
		form.Add(name, val)
	}
}

// BodyStream is a single-pass cursor over the request body chunks.
type BodyStream struct {
	receive Receive
	ctx     context.Context
	done    bool
	err     error
	pending []byte
}

// Next returns the next non-empty body chunk, or io.EOF once the gateway has
// signalled the end of the body. A client disconnect yields
// ErrClientDisconnected.
func (s *BodyStream) Next(ctx context.Context) ([]byte, error) {
	if len(s.pending) > 0 {
		chunk := s.pending
		s.pending = nil
		return chunk, nil
	}
	for {
		if s.err != nil {
			return nil, s.err
		}
		if s.done {
			return nil, io.EOF
		}
		msg, err := s.receive(ctx)
		if err != nil {
			return nil, err
		}
		switch msg.Type {
		case TypeHTTPDisconnect:
			s.err = ErrClientDisconnected
		case TypeHTTPRequest:
			s.done = !msg.MoreBody
			if len(msg.Body) > 0 {
				return msg.Body, nil
			}
		}
	}
}

// Read implements io.Reader using the context the stream was opened with.
func (s *BodyStream) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		chunk, err := s.Next(s.ctx)
		if err != nil {
			return 0, err
		}
		s.pending = chunk
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}
