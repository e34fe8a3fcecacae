package panini

import "strings"

// Field is a single decoded header.
type Field struct {
	Name, Value string
}

// Headers is an ordered, case-insensitive header collection that permits
// duplicate names. The zero value is ready to use.
//
// Headers belonging to a Response are frozen once the response has started;
// any further mutation panics with ErrHeadersFrozen.
type Headers struct {
	fields []Field
	index  map[string][]int // lowercased name -> positions in fields
	frozen bool
}

// NewHeaders builds a collection from alternating name, value pairs.
func NewHeaders(kv ...string) *Headers {
	h := &Headers{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

func (h *Headers) mutable() {
	if h.frozen {
		panic(ErrHeadersFrozen)
	}
	if h.index == nil {
		h.index = map[string][]int{}
	}
}

func (h *Headers) reindex() {
	h.index = make(map[string][]int, len(h.fields))
	for i, f := range h.fields {
		key := strings.ToLower(f.Name)
		h.index[key] = append(h.index[key], i)
	}
}

// Get returns the first value for name, or "".
func (h *Headers) Get(name string) string {
	if pos := h.index[strings.ToLower(name)]; len(pos) > 0 {
		return h.fields[pos[0]].Value
	}
	return ""
}

// Values returns every value for name in insertion order.
func (h *Headers) Values(name string) []string {
	pos := h.index[strings.ToLower(name)]
	if len(pos) == 0 {
		return nil
	}
	vals := make([]string, len(pos))
	for i, p := range pos {
		vals[i] = h.fields[p].Value
	}
	return vals
}

// Has reports whether name is present.
func (h *Headers) Has(name string) bool {
	return len(h.index[strings.ToLower(name)]) > 0
}

// Add appends a header, keeping any existing values for the same name.
func (h *Headers) Add(name, value string) {
	h.mutable()
	key := strings.ToLower(name)
	h.index[key] = append(h.index[key], len(h.fields))
	h.fields = append(h.fields, Field{name, value})
}

// Set replaces all values for name with value. The header keeps the position
// of its first occurrence; otherwise it is appended.
func (h *Headers) Set(name, value string) {
	h.mutable()
	key := strings.ToLower(name)
	pos := h.index[key]
	if len(pos) == 0 {
		h.index[key] = []int{len(h.fields)}
		h.fields = append(h.fields, Field{name, value})
		return
	}
	h.fields[pos[0]] = Field{name, value}
	if len(pos) > 1 {
		h.remove(pos[1:])
	}
}

// Del removes every value for name.
func (h *Headers) Del(name string) {
	h.mutable()
	key := strings.ToLower(name)
	if pos := h.index[key]; len(pos) > 0 {
		h.remove(pos)
	}
}

func (h *Headers) remove(positions []int) {
	drop := make(map[int]bool, len(positions))
	for _, p := range positions {
		drop[p] = true
	}
	kept := h.fields[:0]
	for i, f := range h.fields {
		if !drop[i] {
			kept = append(kept, f)
		}
	}
	h.fields = kept
	h.reindex()
}

// Len is the number of header lines.
func (h *Headers) Len() int { return len(h.fields) }

// Fields returns a copy of the headers in order.
func (h *Headers) Fields() []Field {
	return append([]Field(nil), h.fields...)
}

// Raw encodes the headers as lowercased byte pairs for the gateway.
func (h *Headers) Raw() []RawHeader {
	raw := make([]RawHeader, len(h.fields))
	for i, f := range h.fields {
		raw[i] = RawHeader{[]byte(strings.ToLower(f.Name)), []byte(f.Value)}
	}
	return raw
}

// Map collapses the headers into lowercased name -> first value.
func (h *Headers) Map() map[string]string {
	m := make(map[string]string, len(h.index))
	for _, f := range h.fields {
		key := strings.ToLower(f.Name)
		if _, ok := m[key]; !ok {
			m[key] = f.Value
		}
	}
	return m
}

func (h *Headers) freeze() { h.frozen = true }
