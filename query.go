package mirror

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrQueryNameRequired indicates a query was built without a name.
	ErrQueryNameRequired = errors.New("mirror: query name must be provided")
	// ErrChildPathRequired indicates OrderByChild was given an empty path.
	ErrChildPathRequired = errors.New("mirror: order by child requires a child path")
	// ErrInvalidLimit indicates a non-positive limit.
	ErrInvalidLimit = errors.New("mirror: limit must be positive")
	// ErrRangeWithoutOrder indicates a range bound on a query with no ordering.
	ErrRangeWithoutOrder = errors.New("mirror: range bounds require an ordering")
	// ErrKeyOrderBound indicates a key-ordered query with a non-string bound
	// or a bound tie-breaker key.
	ErrKeyOrderBound = errors.New("mirror: key ordering only accepts string bounds without keys")
)

// OrderByType selects how a query orders children.
type OrderByType string

const (
	OrderByKey      OrderByType = "key"
	OrderByChild    OrderByType = "child"
	OrderByPriority OrderByType = "priority"
	OrderByValue    OrderByType = "value"
)

// OrderBy is the ordering chosen for a query. ChildPath is set only for
// OrderByChild.
type OrderBy struct {
	Type      OrderByType
	ChildPath string
}

// Bound is a range endpoint. Key is the optional tie-breaker; empty means
// unset.
type Bound struct {
	Value Value
	Key   string
}

// QuerySpec is an immutable ordering and range description over a path's
// children. Name labels the query for lookups and takes no part in equality.
type QuerySpec struct {
	Path         string
	Name         string
	OrderBy      *OrderBy
	LimitToFirst *int
	LimitToLast  *int
	StartAt      *Bound
	EndAt        *Bound
	EqualTo      *Bound
}

// String returns the canonical serialization: the path followed, when any
// option is set, by "?" and the "&"-joined option=value pairs sorted by name.
func (q QuerySpec) String() string {
	params := q.params()
	if len(params) == 0 {
		return q.Path
	}
	return q.Path + "?" + strings.Join(params, "&")
}

// Equal reports whether both specs serialize identically.
func (q QuerySpec) Equal(other QuerySpec) bool {
	return q.String() == other.String()
}

// Validate reports construction errors for specs assembled by hand. Specs
// produced by the builders always pass.
func (q QuerySpec) Validate() error {
	if strings.TrimSpace(q.Name) == "" {
		return ErrQueryNameRequired
	}
	bounds := []*Bound{q.StartAt, q.EndAt, q.EqualTo}
	for _, b := range bounds {
		if b == nil {
			continue
		}
		if q.OrderBy == nil {
			return ErrRangeWithoutOrder
		}
		if q.OrderBy.Type == OrderByKey && (b.Value.Kind() != KindString || b.Key != "") {
			return ErrKeyOrderBound
		}
	}
	if q.OrderBy != nil && q.OrderBy.Type == OrderByChild && Normalize(q.OrderBy.ChildPath) == "" {
		return ErrChildPathRequired
	}
	return nil
}

func (q QuerySpec) params() []string {
	var params []string
	add := func(name, value string) {
		params = append(params, name+"="+value)
	}
	if q.OrderBy != nil {
		add("orderByType", strconv.Quote(string(q.OrderBy.Type)))
		if q.OrderBy.Type == OrderByChild {
			add("orderByChildPath", strconv.Quote(q.OrderBy.ChildPath))
		}
	}
	if q.LimitToFirst != nil {
		add("limitToFirst", strconv.Itoa(*q.LimitToFirst))
	}
	if q.LimitToLast != nil {
		add("limitToLast", strconv.Itoa(*q.LimitToLast))
	}
	addBound := func(prefix string, b *Bound) {
		if b == nil {
			return
		}
		add(prefix+"Value", formatBoundValue(b.Value))
		if b.Key != "" {
			add(prefix+"Key", strconv.Quote(b.Key))
		}
	}
	addBound("startAt", q.StartAt)
	addBound("endAt", q.EndAt)
	addBound("equalTo", q.EqualTo)
	sort.Strings(params)
	return params
}

func formatBoundValue(v Value) string {
	switch v.Kind() {
	case KindNull:
		return "null"
	case KindBool:
		b, _ := v.Bool()
		return strconv.FormatBool(b)
	case KindNumber:
		n, _ := v.Number()
		return formatNumber(n)
	case KindString:
		s, _ := v.Text()
		return strconv.Quote(s)
	default:
		return v.String()
	}
}

// queryState is shared by every builder stage; the stage types gate which
// setters are reachable. Each setter returns a copy, so builders can be
// forked without aliasing.
type queryState struct {
	spec QuerySpec
	err  error
}

func (s queryState) fail(err error) queryState {
	if s.err == nil {
		s.err = err
	}
	return s
}

func (s queryState) limitFirst(n int) queryState {
	if n <= 0 {
		return s.fail(fmt.Errorf("%w: limitToFirst(%d)", ErrInvalidLimit, n))
	}
	s.spec.LimitToFirst = &n
	return s
}

func (s queryState) limitLast(n int) queryState {
	if n <= 0 {
		return s.fail(fmt.Errorf("%w: limitToLast(%d)", ErrInvalidLimit, n))
	}
	s.spec.LimitToLast = &n
	return s
}

func (s queryState) order(orderBy OrderBy) queryState {
	if orderBy.Type == OrderByChild && Normalize(orderBy.ChildPath) == "" {
		s = s.fail(ErrChildPathRequired)
	}
	orderBy.ChildPath = Normalize(orderBy.ChildPath)
	s.spec.OrderBy = &orderBy
	return s
}

func (s queryState) build() (QuerySpec, error) {
	if s.err != nil {
		return QuerySpec{}, s.err
	}
	if err := s.spec.Validate(); err != nil {
		return QuerySpec{}, err
	}
	return s.spec, nil
}

func (s queryState) mustBuild() QuerySpec {
	spec, err := s.build()
	if err != nil {
		panic(err)
	}
	return spec
}

func newBound(value Value, key []string) *Bound {
	b := &Bound{Value: value}
	if len(key) > 0 {
		b.Key = key[0]
	}
	return b
}

// QueryBuilder starts a named query.
type QueryBuilder struct {
	name string
}

// NewQuery starts a query labelled name.
func NewQuery(name string) QueryBuilder {
	return QueryBuilder{name: name}
}

// Ref selects the path the query runs over.
func (b QueryBuilder) Ref(path string) UnorderedQuery {
	return UnorderedQuery{state: queryState{spec: QuerySpec{Name: b.name, Path: Normalize(path)}}}
}

// UnorderedQuery is a query without an ordering. Range operators become
// available only once an ordering is chosen.
type UnorderedQuery struct {
	state queryState
}

// OrderByKey orders children by key. Range bounds are then keys.
func (q UnorderedQuery) OrderByKey() KeyOrderedQuery {
	return KeyOrderedQuery{state: q.state.order(OrderBy{Type: OrderByKey})}
}

// OrderByChild orders children by the value at path beneath each child.
func (q UnorderedQuery) OrderByChild(path string) ValueOrderedQuery {
	return ValueOrderedQuery{state: q.state.order(OrderBy{Type: OrderByChild, ChildPath: path})}
}

// OrderByPriority orders children by priority.
func (q UnorderedQuery) OrderByPriority() ValueOrderedQuery {
	return ValueOrderedQuery{state: q.state.order(OrderBy{Type: OrderByPriority})}
}

// OrderByValue orders children by their own value.
func (q UnorderedQuery) OrderByValue() ValueOrderedQuery {
	return ValueOrderedQuery{state: q.state.order(OrderBy{Type: OrderByValue})}
}

func (q UnorderedQuery) LimitToFirst(n int) UnorderedQuery {
	return UnorderedQuery{state: q.state.limitFirst(n)}
}

func (q UnorderedQuery) LimitToLast(n int) UnorderedQuery {
	return UnorderedQuery{state: q.state.limitLast(n)}
}

// Build returns the spec or the first construction error.
func (q UnorderedQuery) Build() (QuerySpec, error) { return q.state.build() }

// MustBuild is Build that panics on construction errors.
func (q UnorderedQuery) MustBuild() QuerySpec { return q.state.mustBuild() }

// Path is MustBuild wrapped as a request path.
func (q UnorderedQuery) Path() Path { return QueryPath(q.MustBuild()) }

// KeyOrderedQuery is a query ordered by key.
type KeyOrderedQuery struct {
	state queryState
}

func (q KeyOrderedQuery) LimitToFirst(n int) KeyOrderedQuery {
	return KeyOrderedQuery{state: q.state.limitFirst(n)}
}

func (q KeyOrderedQuery) LimitToLast(n int) KeyOrderedQuery {
	return KeyOrderedQuery{state: q.state.limitLast(n)}
}

func (q KeyOrderedQuery) StartAt(key string) KeyOrderedQuery {
	q.state.spec.StartAt = &Bound{Value: String(key)}
	return q
}

func (q KeyOrderedQuery) EndAt(key string) KeyOrderedQuery {
	q.state.spec.EndAt = &Bound{Value: String(key)}
	return q
}

func (q KeyOrderedQuery) EqualTo(key string) KeyOrderedQuery {
	q.state.spec.EqualTo = &Bound{Value: String(key)}
	return q
}

func (q KeyOrderedQuery) Build() (QuerySpec, error) { return q.state.build() }

func (q KeyOrderedQuery) MustBuild() QuerySpec { return q.state.mustBuild() }

func (q KeyOrderedQuery) Path() Path { return QueryPath(q.MustBuild()) }

// ValueOrderedQuery is a query ordered by child, priority or value. Range
// bounds take a value and an optional key tie-breaker.
type ValueOrderedQuery struct {
	state queryState
}

func (q ValueOrderedQuery) LimitToFirst(n int) ValueOrderedQuery {
	return ValueOrderedQuery{state: q.state.limitFirst(n)}
}

func (q ValueOrderedQuery) LimitToLast(n int) ValueOrderedQuery {
	return ValueOrderedQuery{state: q.state.limitLast(n)}
}

func (q ValueOrderedQuery) StartAt(value Value, key ...string) ValueOrderedQuery {
	q.state.spec.StartAt = newBound(value, key)
	return q
}

func (q ValueOrderedQuery) EndAt(value Value, key ...string) ValueOrderedQuery {
	q.state.spec.EndAt = newBound(value, key)
	return q
}

func (q ValueOrderedQuery) EqualTo(value Value, key ...string) ValueOrderedQuery {
	q.state.spec.EqualTo = newBound(value, key)
	return q
}

func (q ValueOrderedQuery) Build() (QuerySpec, error) { return q.state.build() }

func (q ValueOrderedQuery) MustBuild() QuerySpec { return q.state.mustBuild() }

func (q ValueOrderedQuery) Path() Path { return QueryPath(q.MustBuild()) }
