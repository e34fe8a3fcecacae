package panini

import (
	"net/http"
	"strings"
)

// RequestCookies are the cookies sent by the client, in header order.
type RequestCookies []Field

// Get returns the value of the first cookie called name.
func (c RequestCookies) Get(name string) string {
	v, _ := c.Lookup(name)
	return v
}

// Lookup is like Get but also reports whether the cookie was present.
func (c RequestCookies) Lookup(name string) (string, bool) {
	for _, f := range c {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// parseCookies splits a cookie header leniently: pairs without a name or
// without '=' are skipped, surrounding quotes are removed from values.
func parseCookies(header string) RequestCookies {
	var cookies RequestCookies
	for _, pair := range strings.Split(header, ";") {
		pair = strings.TrimSpace(pair)
		i := strings.IndexByte(pair, '=')
		if i <= 0 {
			continue
		}
		name := strings.TrimSpace(pair[:i])
		val := strings.TrimSpace(pair[i+1:])
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = val[1 : len(val)-1]
		}
		if name == "" {
			continue
		}
		cookies = append(cookies, Field{name, val})
	}
	return cookies
}

// CookieJar holds the cookies a response will set, in insertion order. Each
// cookie becomes its own set-cookie header.
type CookieJar struct {
	cookies []*http.Cookie
}

// Set adds or replaces the cookie called name and returns it so that its
// attributes can be adjusted:
//
//	c := resp.Cookies.Set("session", id)
//	c.Path = "/"
//	c.HttpOnly = true
func (j *CookieJar) Set(name, value string) *http.Cookie {
	for _, c := range j.cookies {
		if c.Name == name {
			c.Value = value
			return c
		}
	}
	c := &http.Cookie{Name: name, Value: value}
	j.cookies = append(j.cookies, c)
	return c
}

// Get returns the cookie called name, or nil.
func (j *CookieJar) Get(name string) *http.Cookie {
	for _, c := range j.cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Del removes the cookie called name from the jar. It does not expire the
// cookie on the client: use Expire for that.
func (j *CookieJar) Del(name string) {
	for i, c := range j.cookies {
		if c.Name == name {
			j.cookies = append(j.cookies[:i], j.cookies[i+1:]...)
			return
		}
	}
}

// Expire instructs the client to drop the cookie called name.
func (j *CookieJar) Expire(name string) *http.Cookie {
	c := j.Set(name, "")
	c.MaxAge = -1
	return c
}

// All returns the cookies in insertion order.
func (j *CookieJar) All() []*http.Cookie { return j.cookies }

// Len is the number of cookies in the jar.
func (j *CookieJar) Len() int { return len(j.cookies) }
