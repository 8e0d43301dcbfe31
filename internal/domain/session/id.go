package session

import "strings"

// stripPrefix removes a single leading "xxx_" type prefix from an id.
// Upstream ids look like "msg_01ABC..." or "prt_01ABC..."; the prefix is
// not ordered, only the suffix is.
func stripPrefix(id string) (string, bool) {
	i := strings.IndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return id, false
	}
	return id[i+1:], true
}

// NewerID reports whether candidate is newer than reference. Ids are treated
// as sortable strings after stripping a leading prefix; a candidate is newer
// only when lexicographically greater at equal length. Ids of differing
// length or unparsable ids are conservatively treated as newer so that
// events are never silently dropped on an ordering guess.
func NewerID(candidate, reference string) bool {
	if reference == "" {
		return true
	}
	if candidate == "" {
		return false
	}
	c, okC := stripPrefix(candidate)
	r, okR := stripPrefix(reference)
	if !okC || !okR || len(c) != len(r) {
		return true
	}
	return c > r
}
