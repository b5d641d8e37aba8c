package mirror

import (
	"sync"
	"time"
)

// Locator identifies what a Snapshot reads: a literal path or a query name
// resolved through the tree's name index.
type Locator struct {
	path      *Path
	queryName string
}

// Locate addresses a plain data path.
func Locate(path string) Locator {
	p := PathOf(path)
	return Locator{path: &p}
}

// LocatePath addresses p, which may carry a query.
func LocatePath(p Path) Locator {
	p = p.Canonical()
	return Locator{path: &p}
}

// LocateQuery addresses the query registered under name.
func LocateQuery(name string) Locator {
	return Locator{queryName: name}
}

// resolve returns the canonical key and whether it lives in the query
// namespace. ok is false for a query name with no index entry.
func (l Locator) resolve(t Tree) (key string, query bool, ok bool) {
	if l.path != nil {
		return l.path.Key, l.path.HasQuery(), true
	}
	key, ok = t.KeyForName(l.queryName)
	return key, true, ok
}

// Snapshot is a lazy read view over one location in a Tree. Each accessor
// walks the tree at most once per Snapshot.
type Snapshot struct {
	tree Tree
	loc  Locator

	resolveOnce sync.Once
	key         string
	query       bool
	found       bool

	valOnce sync.Once
	val     Value

	metaOnce sync.Once
	meta     Meta
}

// NewSnapshot builds a snapshot of t at loc.
func NewSnapshot(t Tree, loc Locator) *Snapshot {
	return &Snapshot{tree: t, loc: loc}
}

func (s *Snapshot) resolve() {
	s.resolveOnce.Do(func() {
		s.key, s.query, s.found = s.loc.resolve(s.tree)
	})
}

// Key returns the resolved canonical key, or "" for an unknown query name.
func (s *Snapshot) Key() string {
	s.resolve()
	return s.key
}

// Val returns the value at the location, or null.
func (s *Snapshot) Val() Value {
	s.valOnce.Do(func() {
		s.resolve()
		if !s.found {
			return
		}
		root := s.tree.Data()
		if s.query {
			root = s.tree.QueryData()
		}
		s.val = GetDeep(root, Segments(s.key))
	})
	return s.val
}

func (s *Snapshot) metadata() Meta {
	s.metaOnce.Do(func() {
		s.resolve()
		if !s.found {
			return
		}
		s.meta, _ = s.tree.Meta(s.key)
	})
	return s.meta
}

// LastError returns the error recorded by the last delivery, if any.
func (s *Snapshot) LastError() error { return s.metadata().Error }

// LastLoadedTime returns when a value or error last arrived, or nil.
func (s *Snapshot) LastLoadedTime() *time.Time { return s.metadata().LastLoadedTime }

// IsFetching reports whether a listener is open and awaiting its first value.
func (s *Snapshot) IsFetching() bool { return s.metadata().IsFetching }

// HasLoaded reports whether LastLoadedTime is set.
func (s *Snapshot) HasLoaded() bool { return s.metadata().HasLoaded() }

// GetValue returns the value stored at path.
func GetValue(t Tree, path string) Value {
	return NewSnapshot(t, Locate(path)).Val()
}

// GetQueryValue returns the result of the query registered under name.
func GetQueryValue(t Tree, name string) Value {
	return NewSnapshot(t, LocateQuery(name)).Val()
}

// IsLoading reports whether path is being fetched.
func IsLoading(t Tree, path string) bool {
	return NewSnapshot(t, Locate(path)).IsFetching()
}

// IsQueryLoading reports whether the query registered under name is being
// fetched.
func IsQueryLoading(t Tree, name string) bool {
	return NewSnapshot(t, LocateQuery(name)).IsFetching()
}
