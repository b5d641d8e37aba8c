package mirror

import (
	"time"
)

// Meta is the loading metadata tracked per canonical key.
type Meta struct {
	IsFetching     bool
	LastLoadedTime *time.Time
	Error          error
}

// HasLoaded reports whether a value or error has ever arrived.
func (m Meta) HasLoaded() bool {
	return m.LastLoadedTime != nil
}

// AuthState is the single identity slot.
type AuthState struct {
	User *UserInfo
	Meta Meta
}

// Tree is an immutable snapshot of the mirror. The zero Tree is the empty
// state. Every transition returns a new Tree that shares unchanged values
// with its predecessor, so Data().Same(prev.Data()) is a cheap change check.
type Tree struct {
	data        Value
	queryData   Value
	namesToKeys map[string]string
	meta        map[string]Meta
	auth        AuthState
	version     uint64
}

// Data returns the plain-path namespace.
func (t Tree) Data() Value { return t.data }

// QueryData returns the query-result namespace.
func (t Tree) QueryData() Value { return t.queryData }

// NamesToKeys returns a copy of the query name index.
func (t Tree) NamesToKeys() map[string]string {
	out := make(map[string]string, len(t.namesToKeys))
	for name, key := range t.namesToKeys {
		out[name] = key
	}
	return out
}

// KeyForName resolves a query name to its canonical key.
func (t Tree) KeyForName(name string) (string, bool) {
	key, ok := t.namesToKeys[name]
	return key, ok
}

// Meta returns the metadata recorded for key.
func (t Tree) Meta(key string) (Meta, bool) {
	m, ok := t.meta[key]
	return m, ok
}

// MetaKeys returns every key with recorded metadata, sorted.
func (t Tree) MetaKeys() []string {
	set := make(PathSet, len(t.meta))
	for key := range t.meta {
		set[key] = Path{Key: key}
	}
	return set.Keys()
}

// Auth returns the identity slot.
func (t Tree) Auth() AuthState { return t.auth }

// Version increments once per event that changed the tree.
func (t Tree) Version() uint64 { return t.version }

func (t Tree) withMeta(key string, m Meta) Tree {
	next := make(map[string]Meta, len(t.meta)+1)
	for k, v := range t.meta {
		next[k] = v
	}
	next[key] = m
	t.meta = next
	return t
}

func (t Tree) withName(name, key string) Tree {
	if current, ok := t.namesToKeys[name]; ok && current == key {
		return t
	}
	next := make(map[string]string, len(t.namesToKeys)+1)
	for k, v := range t.namesToKeys {
		next[k] = v
	}
	next[name] = key
	t.namesToKeys = next
	return t
}

// Reducer folds events into trees. Now stamps LastLoadedTime; nil means
// time.Now.
type Reducer struct {
	Now func() time.Time
}

func (r Reducer) now() *time.Time {
	var now time.Time
	if r.Now != nil {
		now = r.Now()
	} else {
		now = time.Now()
	}
	return &now
}

// Reduce applies e to t with the wall clock.
func Reduce(t Tree, e Event) Tree {
	return Reducer{}.Reduce(t, e)
}

// Reduce returns the tree after applying e. Unknown events and events that
// change nothing return t itself.
func (r Reducer) Reduce(t Tree, e Event) Tree {
	switch ev := e.(type) {
	case FetchStarted:
		key := CanonicalKey(ev.Path)
		m := t.meta[key]
		m.IsFetching = true
		next := t.withMeta(key, m)
		if ev.Path.Query != nil {
			next = next.withName(ev.Path.Query.Name, key)
		}
		return next.bump()

	case NodeValueReceived:
		key := CanonicalKey(ev.Path)
		next := t.withMeta(key, Meta{LastLoadedTime: r.now()})
		segments := Segments(key)
		write := func(root Value) Value {
			if ev.Patch != nil {
				return PatchDeep(root, segments, ev.Patch)
			}
			return ReplaceDeep(root, segments, ev.Value)
		}
		if ev.Path.Query != nil {
			next.queryData = write(next.queryData)
			next = next.withName(ev.Path.Query.Name, key)
		} else {
			next.data = write(next.data)
		}
		return next.bump()

	case QueryNamed:
		if ev.Path.Query == nil {
			return t
		}
		key := CanonicalKey(ev.Path)
		if current, ok := t.namesToKeys[ev.Path.Query.Name]; ok && current == key {
			return t
		}
		return t.withName(ev.Path.Query.Name, key).bump()

	case ListeningStopped:
		key := CanonicalKey(ev.Path)
		m, ok := t.meta[key]
		if !ok || !m.IsFetching {
			return t
		}
		m.IsFetching = false
		return t.withMeta(key, m).bump()

	case SubscriptionError:
		key := CanonicalKey(ev.Path)
		return t.withMeta(key, Meta{LastLoadedTime: r.now(), Error: ev.Err}).bump()

	case AuthFetchStarted:
		t.auth.Meta.IsFetching = true
		return t.bump()

	case AuthStateChanged:
		t.auth = AuthState{User: ev.User.clone(), Meta: Meta{LastLoadedTime: r.now()}}
		return t.bump()

	case AuthError:
		t.auth.Meta = Meta{LastLoadedTime: r.now(), Error: ev.Err}
		return t.bump()
	}
	return t
}

func (t Tree) bump() Tree {
	t.version++
	return t
}
