// Package message implements the in-memory HTTP request/response model:
// case-insensitive, multi-valued, order-preserving headers over a Request or
// Response, plus head serialization back to wire bytes.
package message

import "strings"

// Field is a single header field: the wire-cased name the caller first used
// to create it, and the ordered list of values appended to it. A
// comma-separated value is stored verbatim as one entry; it is never split.
type Field struct {
	Name   string
	Values []string
}

// Add appends a value to the field.
func (f *Field) Add(value string) {
	f.Values = append(f.Values, value)
}

// Value returns the field serialized as it appears on the wire: all values
// joined by ", " on a single logical line. Empty if the field has no values.
func (f *Field) Value() string {
	return strings.Join(f.Values, ", ")
}

// Headers holds a message's header set. At most one Field exists per
// lowercased name (spec invariant); insertion order is preserved for
// serialization regardless of lookup order.
type Headers struct {
	fields map[string]*Field
	order  []string // lowercased names, insertion order
}

// NewHeaders returns an empty header set.
func NewHeaders() *Headers {
	return &Headers{fields: make(map[string]*Field, 8)}
}

func key(name string) string {
	return strings.ToLower(name)
}

// Header returns the Field for name, creating it (with name's casing
// preserved) if it does not already exist.
func (h *Headers) Header(name string) *Field {
	k := key(name)
	if f, ok := h.fields[k]; ok {
		return f
	}
	f := &Field{Name: name}
	h.fields[k] = f
	h.order = append(h.order, k)
	return f
}

// Get returns the Field for name and whether it exists, without creating it.
func (h *Headers) Get(name string) (*Field, bool) {
	f, ok := h.fields[key(name)]
	return f, ok
}

// GetValue returns the joined value for name, or "" if absent.
func (h *Headers) GetValue(name string) string {
	if f, ok := h.Get(name); ok {
		return f.Value()
	}
	return ""
}

// Has reports whether name is present.
func (h *Headers) Has(name string) bool {
	_, ok := h.fields[key(name)]
	return ok
}

// Remove deletes the field for name, if present.
func (h *Headers) Remove(name string) {
	k := key(name)
	if _, ok := h.fields[k]; !ok {
		return
	}
	delete(h.fields, k)
	for i, n := range h.order {
		if n == k {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Replace removes any existing field for name and creates a fresh one with
// name's casing, returning it empty for the caller to populate.
func (h *Headers) Replace(name string) *Field {
	h.Remove(name)
	return h.Header(name)
}

// Set is a convenience for Replace(name).Add(value).
func (h *Headers) Set(name, value string) {
	h.Replace(name).Add(value)
}

// Each calls fn once per header field in insertion order.
func (h *Headers) Each(fn func(f *Field)) {
	for _, k := range h.order {
		fn(h.fields[k])
	}
}

// Clone returns a deep copy of the header set, preserving insertion order.
func (h *Headers) Clone() *Headers {
	c := NewHeaders()
	h.Each(func(f *Field) {
		nf := c.Header(f.Name)
		nf.Values = append(nf.Values, f.Values...)
	})
	return c
}

// WriteTo serializes every header as "Name: v1, v2\r\n" in insertion order
// into buf, returning the extended slice.
func (h *Headers) WriteTo(buf []byte) []byte {
	h.Each(func(f *Field) {
		buf = append(buf, f.Name...)
		buf = append(buf, ':', ' ')
		buf = append(buf, f.Value()...)
		buf = append(buf, '\r', '\n')
	})
	return buf
}
