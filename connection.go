package panini

import (
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// DefaultCharset is used to decode bodies whose content type carries no
// charset parameter.
const DefaultCharset = "utf-8"

// Connection wraps a gateway scope and exposes derived views of it. Each view
// is computed on first access and memoized for the lifetime of the
// connection. A Connection is owned by the goroutine handling the request and
// must not be shared.
type Connection struct {
	Scope   *Scope
	receive Receive
	send    Send

	headers     *Headers
	cookies     RequestCookies
	cookiesDone bool
	url         *url.URL
	urlErr      error
	urlDone     bool
	media       *mediaType
}

type mediaType struct {
	typ    string
	params map[string]string
}

// NewConnection binds scope. receive and send may be nil for synthetic
// connections that never touch the gateway.
func NewConnection(scope *Scope, receive Receive, send Send) *Connection {
	return &Connection{Scope: scope, receive: receive, send: send}
}

// Type is the scope type: "http" or "websocket".
func (c *Connection) Type() string { return c.Scope.Type }

// Method is the request method. Websocket connections report "GET".
func (c *Connection) Method() string {
	if c.Scope.Method == "" {
		return "GET"
	}
	return strings.ToUpper(c.Scope.Method)
}

// Path is the request path relative to the root path.
func (c *Connection) Path() string { return c.Scope.Path }

// PathParams are the parameters extracted by the router.
func (c *Connection) PathParams() map[string]string {
	if c.Scope.PathParams == nil {
		c.Scope.PathParams = map[string]string{}
	}
	return c.Scope.PathParams
}

// Param returns a single path parameter.
func (c *Connection) Param(name string) string { return c.Scope.PathParams[name] }

// Client is the remote address reported by the transport, if any.
func (c *Connection) Client() *Addr { return c.Scope.Client }

// Headers decodes the scope's raw headers. Header bytes are always decoded as
// Latin-1, independently of the body charset.
func (c *Connection) Headers() *Headers {
	if c.headers == nil {
		h := &Headers{}
		for _, raw := range c.Scope.Headers {
			h.Add(latin1(raw.Name), latin1(raw.Value))
		}
		c.headers = h
	}
	return c.headers
}

// Cookies parses the cookie header. Malformed pairs are skipped.
func (c *Connection) Cookies() RequestCookies {
	if !c.cookiesDone {
		c.cookies = parseCookies(c.Headers().Get("cookie"))
		c.cookiesDone = true
	}
	return c.cookies
}

// URL reconstructs the effective request URL. The host header takes
// precedence over the server address reported by the transport.
func (c *Connection) URL() (*url.URL, error) {
	if !c.urlDone {
		c.url, c.urlErr = c.buildURL()
		c.urlDone = true
	}
	return c.url, c.urlErr
}

func (c *Connection) buildURL() (*url.URL, error) {
	scheme := c.Scope.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host, port := "", 0
	if c.Scope.Server != nil {
		host, port = c.Scope.Server.Host, c.Scope.Server.Port
	}
	if h := c.Headers().Get("host"); h != "" {
		host = h
	}
	// Drop any port from the host header, the transport's port wins.
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end >= 0 {
			host = host[:end+1]
		}
	} else if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if port != 0 && port != defaultPort(scheme) {
		host += ":" + strconv.Itoa(port)
	}
	u, err := url.Parse(scheme + "://" + host)
	if err != nil {
		return nil, err
	}
	u.Path = c.Scope.RootPath + c.Scope.Path
	u.RawQuery = latin1(c.Scope.QueryString)
	if _, err := url.ParseQuery(u.RawQuery); err != nil {
		return nil, err
	}
	return u, nil
}

func defaultPort(scheme string) int {
	switch scheme {
	case "http", "ws":
		return 80
	case "https", "wss":
		return 443
	}
	return 0
}

// Query parses the query string. Malformed pairs are dropped.
func (c *Connection) Query() url.Values {
	q, _ := url.ParseQuery(latin1(c.Scope.QueryString))
	return q
}

func (c *Connection) mediaType() *mediaType {
	if c.media == nil {
		typ, params := parseHeaderValue(c.Headers().Get("content-type"))
		c.media = &mediaType{typ, params}
	}
	return c.media
}

// ContentType is the media type of the body without parameters.
func (c *Connection) ContentType() string { return c.mediaType().typ }

// ContentTypeParams are the parameters of the content-type header.
func (c *Connection) ContentTypeParams() map[string]string { return c.mediaType().params }

// Charset is the body charset, DefaultCharset when not specified.
func (c *Connection) Charset() string {
	if cs := c.mediaType().params["charset"]; cs != "" {
		return cs
	}
	return DefaultCharset
}

func latin1(b []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		// Every byte is valid Latin-1; this cannot happen.
		return string(b)
	}
	return string(s)
}

// parseHeaderValue splits a header such as content-type into its main value
// and its parameters. It never fails: unparseable parameters are ignored.
func parseHeaderValue(line string) (string, map[string]string) {
	parts := splitParams(line)
	params := map[string]string{}
	if len(parts) == 0 {
		return "", params
	}
	key := strings.ToLower(strings.TrimSpace(parts[0]))
	for _, p := range parts[1:] {
		i := strings.IndexByte(p, '=')
		if i < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(p[:i]))
		val := strings.TrimSpace(p[i+1:])
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = val[1 : len(val)-1]
			val = strings.ReplaceAll(val, `\\`, `\`)
			val = strings.ReplaceAll(val, `\"`, `"`)
		}
		params[name] = val
	}
	return key, params
}

// splitParams splits on semicolons that are not inside quotes.
func splitParams(line string) []string {
	var parts []string
	start, quoted := 0, false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case ';':
			if !quoted {
				parts = append(parts, line[start:i])
				start = i + 1
			}
		}
	}
	if line != "" {
		parts = append(parts, line[start:])
	}
	return parts
}
