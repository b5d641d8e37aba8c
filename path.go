package mirror

import (
	"sort"
	"strings"
)

// Path is a request descriptor: a canonical key, optionally backed by a query.
// Two paths are the same request when their keys are equal.
type Path struct {
	Key   string
	Query *QuerySpec
}

// Normalize splits raw on "/", drops empty segments and rejoins them.
func Normalize(raw string) string {
	return strings.Join(Segments(raw), "/")
}

// Segments returns the non-empty "/"-separated segments of raw.
func Segments(raw string) []string {
	parts := strings.Split(raw, "/")
	out := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// PathOf builds a plain data path from an externally supplied string.
func PathOf(raw string) Path {
	return Path{Key: Normalize(raw)}
}

// QueryPath builds a path backed by spec. The key embeds the serialized query
// so distinct parameterizations never collide.
func QueryPath(spec QuerySpec) Path {
	q := spec
	return Path{Key: q.String(), Query: &q}
}

// CanonicalKey returns the identity used for subscriptions and tree indexing.
func CanonicalKey(p Path) string {
	if p.Query != nil {
		return p.Query.String()
	}
	return Normalize(p.Key)
}

// Canonical returns p with its key recomputed through CanonicalKey.
func (p Path) Canonical() Path {
	p.Key = CanonicalKey(p)
	return p
}

// HasQuery reports whether p is backed by a query.
func (p Path) HasQuery() bool {
	return p.Query != nil
}

// DataSegments returns the tree segments under which the path's value is
// stored. For query paths the last segment carries the serialized options,
// e.g. "scores?limitToLast=10" for a query over "scores".
func (p Path) DataSegments() []string {
	return Segments(CanonicalKey(p))
}

func (p Path) String() string {
	return p.Key
}

// PathSet is a set of paths keyed by canonical key.
type PathSet map[string]Path

// NewPathSet builds a set from paths, canonicalizing each key. Later entries
// with the same key replace earlier ones.
func NewPathSet(paths ...Path) PathSet {
	set := make(PathSet, len(paths))
	for _, p := range paths {
		p = p.Canonical()
		set[p.Key] = p
	}
	return set
}

// Has reports whether key is a member of s.
func (s PathSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the member keys sorted.
func (s PathSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Paths returns the members ordered by key.
func (s PathSet) Paths() []Path {
	out := make([]Path, 0, len(s))
	for _, key := range s.Keys() {
		out = append(out, s[key])
	}
	return out
}

// Diff returns the members of a whose key is absent from b, ordered by key.
func Diff(a, b PathSet) []Path {
	var out []Path
	for _, key := range a.Keys() {
		if b.Has(key) {
			continue
		}
		out = append(out, a[key])
	}
	return out
}
