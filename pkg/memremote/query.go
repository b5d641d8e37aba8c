package memremote

import (
	"sort"
	"strings"

	mirror "github.com/goliatone/go-treemirror"
)

type bound struct {
	value  mirror.Value
	key    string
	hasKey bool
}

// Query is the staged builder handed out by Remote.Ref. Every method returns
// a copy.
type Query struct {
	remote    *Remote
	path      string
	order     mirror.OrderByType
	childPath []string
	first     int
	last      int
	start     *bound
	end       *bound
}

var _ mirror.RemoteQuery = Query{}

func (q Query) OrderByKey() mirror.RemoteQuery {
	q.order = mirror.OrderByKey
	return q
}

func (q Query) OrderByChild(path string) mirror.RemoteQuery {
	q.order = mirror.OrderByChild
	q.childPath = mirror.Segments(path)
	return q
}

func (q Query) OrderByPriority() mirror.RemoteQuery {
	q.order = mirror.OrderByPriority
	return q
}

func (q Query) OrderByValue() mirror.RemoteQuery {
	q.order = mirror.OrderByValue
	return q
}

func (q Query) LimitToFirst(n int) mirror.RemoteQuery {
	q.first = n
	return q
}

func (q Query) LimitToLast(n int) mirror.RemoteQuery {
	q.last = n
	return q
}

func (q Query) StartAt(v mirror.Value, key string) mirror.RemoteQuery {
	q.start = &bound{value: v, key: key, hasKey: key != ""}
	return q
}

func (q Query) EndAt(v mirror.Value, key string) mirror.RemoteQuery {
	q.end = &bound{value: v, key: key, hasKey: key != ""}
	return q
}

func (q Query) EqualTo(v mirror.Value, key string) mirror.RemoteQuery {
	b := &bound{value: v, key: key, hasKey: key != ""}
	q.start, q.end = b, b
	return q
}

// Path returns the normalized path the query reads.
func (q Query) Path() string { return q.path }

func (q Query) filtered() bool {
	return q.order != "" || q.first > 0 || q.last > 0 || q.start != nil || q.end != nil
}

type entry struct {
	key   string
	child mirror.Value
	sort  mirror.Value
}

// evaluate applies the query to node. priorities maps child keys to their
// priority.
func (q Query) evaluate(node mirror.Value, priorities map[string]mirror.Value) mirror.Value {
	if !q.filtered() || !node.IsMap() {
		return node
	}

	entries := make([]entry, 0, node.Len())
	node.Range(func(key string, child mirror.Value) bool {
		e := entry{key: key, child: child}
		switch q.order {
		case mirror.OrderByChild:
			e.sort = child.Get(q.childPath...)
		case mirror.OrderByValue:
			e.sort = child
		case mirror.OrderByPriority:
			e.sort = priorities[key]
		}
		entries = append(entries, e)
		return true
	})

	if q.order != "" && q.order != mirror.OrderByKey {
		sort.SliceStable(entries, func(i, j int) bool {
			if c := CompareValues(entries[i].sort, entries[j].sort); c != 0 {
				return c < 0
			}
			return mirror.CompareKeys(entries[i].key, entries[j].key) < 0
		})
	}

	kept := entries[:0]
	for _, e := range entries {
		if q.start != nil && q.compareBound(e, q.start) < 0 {
			continue
		}
		if q.end != nil && q.compareBound(e, q.end) > 0 {
			continue
		}
		kept = append(kept, e)
	}

	if q.first > 0 && len(kept) > q.first {
		kept = kept[:q.first]
	}
	if q.last > 0 && len(kept) > q.last {
		kept = kept[len(kept)-q.last:]
	}

	out := make(map[string]mirror.Value, len(kept))
	for _, e := range kept {
		out[e.key] = e.child
	}
	return mirror.Map(out)
}

// compareBound orders e against b: negative when e sorts before the bound.
func (q Query) compareBound(e entry, b *bound) int {
	if q.order == mirror.OrderByKey || q.order == "" {
		s, _ := b.value.Text()
		return mirror.CompareKeys(e.key, s)
	}
	if c := CompareValues(e.sort, b.value); c != 0 {
		return c
	}
	if !b.hasKey {
		return 0
	}
	return mirror.CompareKeys(e.key, b.key)
}

func rank(v mirror.Value) int {
	switch v.Kind() {
	case mirror.KindNull:
		return 0
	case mirror.KindBool:
		if b, _ := v.Bool(); b {
			return 2
		}
		return 1
	case mirror.KindNumber:
		return 3
	case mirror.KindString:
		return 4
	default:
		return 5
	}
}

// CompareValues orders values the way the remote service sorts children:
// null, false, true, numbers ascending, strings lexicographically, then maps.
// Maps compare equal to each other.
func CompareValues(a, b mirror.Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.Kind() {
	case mirror.KindNumber:
		x, _ := a.Number()
		y, _ := b.Number()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case mirror.KindString:
		x, _ := a.Text()
		y, _ := b.Text()
		return strings.Compare(x, y)
	}
	return 0
}
