// Package header implements the ordered, case-insensitive multi-map used
// for request, response, and content headers throughout pulse.
//
// Unlike net/http.Header (a map keyed by canonical name, losing wire
// order), Map preserves insertion order so that a response round-trips
// its header order and so that a "content headers then request headers,
// later wins" merge policy can be expressed precisely.
package header

import "strings"

// Pair is one name/value header entry in wire order.
type Pair struct {
	Name  string
	Value string
}

// Map is an ordered, case-insensitive multi-map of header names to values.
type Map struct {
	pairs []Pair
}

// New returns an empty Map.
func New() *Map { return &Map{} }

// Add appends a header, preserving any existing value(s) under the same
// name.
func (m *Map) Add(name, value string) {
	m.pairs = append(m.pairs, Pair{Name: name, Value: value})
}

// Set replaces all existing values for name with a single value,
// preserving the position of the first existing occurrence (or appending
// if none existed).
func (m *Map) Set(name, value string) {
	for i := range m.pairs {
		if strings.EqualFold(m.pairs[i].Name, name) {
			m.pairs[i].Value = value
			m.removeAfter(i, name)
			return
		}
	}
	m.Add(name, value)
}

// removeAfter deletes every pair named name found strictly after index i.
func (m *Map) removeAfter(i int, name string) {
	out := m.pairs[:i+1]
	for _, p := range m.pairs[i+1:] {
		if strings.EqualFold(p.Name, name) {
			continue
		}
		out = append(out, p)
	}
	m.pairs = out
}

// Del removes every occurrence of name.
func (m *Map) Del(name string) {
	out := m.pairs[:0]
	for _, p := range m.pairs {
		if !strings.EqualFold(p.Name, name) {
			out = append(out, p)
		}
	}
	m.pairs = out
}

// Get returns the first value for name, and whether it was present.
func (m *Map) Get(name string) (string, bool) {
	for _, p := range m.pairs {
		if strings.EqualFold(p.Name, name) {
			return p.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present (any casing).
func (m *Map) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// Values returns every value for name, in wire order.
func (m *Map) Values(name string) []string {
	var out []string
	for _, p := range m.pairs {
		if strings.EqualFold(p.Name, name) {
			out = append(out, p.Value)
		}
	}
	return out
}

// Len returns the number of header entries (counting repeated names
// individually).
func (m *Map) Len() int { return len(m.pairs) }

// Each calls fn for every pair in wire order.
func (m *Map) Each(fn func(name, value string)) {
	for _, p := range m.pairs {
		fn(p.Name, p.Value)
	}
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	if m == nil {
		return New()
	}
	out := &Map{pairs: make([]Pair, len(m.pairs))}
	copy(out.pairs, m.pairs)
	return out
}

// MergeRequestWins merges content headers and request headers: on a name
// conflict, the request's headers win, and the loser's entries for that
// name are dropped entirely rather than appended alongside the winner.
func MergeRequestWins(content, request *Map) *Map {
	out := New()
	overridden := make(map[string]bool)
	if request != nil {
		request.Each(func(name, _ string) {
			overridden[strings.ToLower(name)] = true
		})
	}
	if content != nil {
		content.Each(func(name, value string) {
			if !overridden[strings.ToLower(name)] {
				out.Add(name, value)
			}
		})
	}
	if request != nil {
		request.Each(func(name, value string) {
			out.Add(name, value)
		})
	}
	return out
}

// ConnectionClose reports whether the Connection header (from either side)
// carries the "close" token, case-insensitively.
func ConnectionClose(h *Map) bool {
	if h == nil {
		return false
	}
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "close") {
				return true
			}
		}
	}
	return false
}

// TokenListContains reports whether header name's comma-separated value
// list contains token, case-insensitively. Used for Upgrade/Connection:
// upgrade negotiation checks.
func TokenListContains(h *Map, name, token string) bool {
	if h == nil {
		return false
	}
	for _, v := range h.Values(name) {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), token) {
				return true
			}
		}
	}
	return false
}
