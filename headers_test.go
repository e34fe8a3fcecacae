package panini

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadersCaseInsensitive(t *testing.T) {
	h := NewHeaders("Content-Type", "text/plain", "X-Custom", "a")
	assert.Equal(t, "text/plain", h.Get("content-type"))
	assert.Equal(t, "text/plain", h.Get("CONTENT-TYPE"))
	assert.True(t, h.Has("x-CUSTOM"))
	assert.False(t, h.Has("x-missing"))
	assert.Equal(t, "", h.Get("x-missing"))
}

func TestHeadersSetKeepsOrder(t *testing.T) {
	h := NewHeaders("a", "1", "b", "2", "A", "3", "c", "4")
	h.Set("a", "new")
	assert.Equal(t, []Field{{"a", "new"}, {"b", "2"}, {"c", "4"}}, h.Fields())
	assert.Equal(t, []string{"new"}, h.Values("A"))

	h.Set("d", "5")
	assert.Equal(t, "d", h.Fields()[3].Name)
	assert.Equal(t, 4, h.Len())
}

func TestHeadersDuplicatesAndDel(t *testing.T) {
	var h Headers
	h.Add("Set-Cookie", "a=1")
	h.Add("set-cookie", "b=2")
	h.Add("Vary", "accept")
	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("SET-COOKIE"))

	h.Del("set-cookie")
	assert.Nil(t, h.Values("set-cookie"))
	assert.Equal(t, "accept", h.Get("vary"))
	assert.Equal(t, 1, h.Len())
}

func TestHeadersRawAndMap(t *testing.T) {
	h := NewHeaders("Content-Type", "text/html", "X-A", "1", "x-a", "2")
	raw := h.Raw()
	assert.Equal(t, []RawHeader{H("content-type", "text/html"), H("x-a", "1"), H("x-a", "2")}, raw)
	assert.Equal(t, map[string]string{"content-type": "text/html", "x-a": "1"}, h.Map())
}

func TestHeadersFrozen(t *testing.T) {
	h := NewHeaders("a", "1")
	h.freeze()
	assert.PanicsWithValue(t, ErrHeadersFrozen, func() { h.Set("a", "2") })
	assert.PanicsWithValue(t, ErrHeadersFrozen, func() { h.Add("b", "2") })
	assert.PanicsWithValue(t, ErrHeadersFrozen, func() { h.Del("a") })
	assert.Equal(t, "1", h.Get("a"))
}
