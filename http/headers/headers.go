package headers

import (
	"strings"

	"github.com/indigo-web/iter"
	"github.com/indigo-web/utils/strcomp"
)

type Field struct {
	Key, Value string
}

// Headers is an ordered collection of header fields. Duplicates are kept as they
// arrived: what they mean is up to the consumer. Lookups are linear and
// case-insensitive, which beats a map on the usual handful of entries.
type Headers struct {
	fields     []Field
	valuesBuff []string
}

func New() *Headers {
	return new(Headers)
}

// NewPrealloc returns an instance with pre-allocated underlying storage.
func NewPrealloc(n int) *Headers {
	return &Headers{
		fields: make([]Field, 0, n),
	}
}

// Add appends a new field, regardless of whether the key is already present.
func (h *Headers) Add(key, value string) *Headers {
	h.fields = append(h.fields, Field{
		Key:   key,
		Value: value,
	})
	return h
}

// Set drops all the fields with the key and adds a new one.
func (h *Headers) Set(key, value string) *Headers {
	return h.Delete(key).Add(key, value)
}

// Delete removes all the fields with the key, preserving the order of the rest.
func (h *Headers) Delete(key string) *Headers {
	n := 0
	for _, field := range h.fields {
		if !strcomp.EqualFold(field.Key, key) {
			h.fields[n] = field
			n++
		}
	}

	h.fields = h.fields[:n]
	return h
}

// Value returns the first value corresponding to the key or an empty string.
func (h *Headers) Value(key string) string {
	return h.ValueOr(key, "")
}

// ValueOr returns either the first value corresponding to the key or the fallback.
func (h *Headers) ValueOr(key, or string) string {
	value, found := h.Get(key)
	if !found {
		return or
	}

	return value
}

// Get returns the first value and whether the key is present at all.
func (h *Headers) Get(key string) (value string, found bool) {
	for _, field := range h.fields {
		if strcomp.EqualFold(key, field.Key) {
			return field.Value, true
		}
	}

	return "", false
}

// Values returns all values of the key in their original order, or nil.
//
// WARNING: the returned slice is reused by the next call.
func (h *Headers) Values(key string) []string {
	h.valuesBuff = h.valuesBuff[:0]

	for _, field := range h.fields {
		if strcomp.EqualFold(field.Key, key) {
			h.valuesBuff = append(h.valuesBuff, field.Value)
		}
	}

	if len(h.valuesBuff) == 0 {
		return nil
	}

	return h.valuesBuff
}

// Count returns how many times the key occurs.
func (h *Headers) Count(key string) (n int) {
	for _, field := range h.fields {
		if strcomp.EqualFold(field.Key, key) {
			n++
		}
	}

	return n
}

// Has indicates whether there's at least one entry of the key.
func (h *Headers) Has(key string) bool {
	_, found := h.Get(key)
	return found
}

// HasToken reports whether any of the key's values, treated as a comma-separated
// list, contains the token. Tokens are compared case-insensitively.
func (h *Headers) HasToken(key, token string) bool {
	for _, field := range h.fields {
		if !strcomp.EqualFold(field.Key, key) {
			continue
		}

		for value := field.Value; len(value) > 0; {
			var elem string
			elem, value, _ = strings.Cut(value, ",")
			if strcomp.EqualFold(strings.Trim(elem, " \t"), token) {
				return true
			}
		}
	}

	return false
}

// Iter returns an iterator over the fields.
func (h *Headers) Iter() iter.Iterator[Field] {
	return iter.Slice(h.fields)
}

// Expose exposes the underlying fields slice.
func (h *Headers) Expose() []Field {
	return h.fields
}

func (h *Headers) Len() int {
	return len(h.fields)
}

func (h *Headers) Empty() bool {
	return len(h.fields) == 0
}

// Clone creates a deep copy, detached from whatever memory the values were
// pointing into.
func (h *Headers) Clone() *Headers {
	return &Headers{
		fields: iter.Extract(iter.Map(cloneField, h.Iter()), make([]Field, 0, len(h.fields))),
	}
}

func cloneField(field Field) Field {
	return Field{
		Key:   strings.Clone(field.Key),
		Value: strings.Clone(field.Value),
	}
}

// Clear all the entries. The allocated space is kept.
func (h *Headers) Clear() *Headers {
	h.fields = h.fields[:0]
	return h
}
