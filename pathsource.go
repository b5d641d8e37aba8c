package mirror

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-treemirror/internal/hydrate"
)

var (
	// ErrUnsupportedPathResult indicates a path expression produced a value
	// that cannot name a path.
	ErrUnsupportedPathResult = errors.New("mirror: unsupported path expression result")
	// ErrBindingClosed is returned by Update after Close.
	ErrBindingClosed = errors.New("mirror: binding closed")
)

// PathSource derives the paths a consumer wants from its input.
type PathSource interface {
	Paths(input any) ([]Path, error)
}

// PathSourceFunc adapts a function to PathSource.
type PathSourceFunc func(input any) ([]Path, error)

// Paths implements PathSource.
func (f PathSourceFunc) Paths(input any) ([]Path, error) {
	if f == nil {
		return nil, nil
	}
	return f(input)
}

// StaticPaths returns a PathSource that ignores its input.
func StaticPaths(paths ...Path) PathSource {
	fixed := append([]Path(nil), paths...)
	return PathSourceFunc(func(any) ([]Path, error) {
		return append([]Path(nil), fixed...), nil
	})
}

// PathSourceOption configures an ExprPathSource.
type PathSourceOption func(*ExprPathSource)

// WithEvaluator selects the engine that runs path expressions. The default is
// NewExprEvaluator.
func WithEvaluator(e Evaluator) PathSourceOption {
	return func(s *ExprPathSource) {
		if e != nil {
			s.evaluator = e
		}
	}
}

// WithEvaluatorLogger reports every evaluation to logger.
func WithEvaluatorLogger(logger EvaluatorLogger) PathSourceOption {
	return func(s *ExprPathSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithQueries appends fixed queries to every result.
func WithQueries(specs ...QuerySpec) PathSourceOption {
	return func(s *ExprPathSource) {
		s.queries = append(s.queries, specs...)
	}
}

// WithPathLabel names the source in errors and logs.
func WithPathLabel(label string) PathSourceOption {
	return func(s *ExprPathSource) {
		s.label = label
	}
}

// WithPathArgs exposes args to expressions as the args binding.
func WithPathArgs(args map[string]any) PathSourceOption {
	return func(s *ExprPathSource) {
		s.args = args
	}
}

// ExprPathSource evaluates path expressions against the consumer input. Each
// expression may produce nothing (null or ""), a path string, a list, a
// query descriptor map, or a QuerySpec/Path handed in through a registered
// function.
type ExprPathSource struct {
	exprs     []string
	rules     []CompiledRule
	evaluator Evaluator
	logger    EvaluatorLogger
	queries   []QuerySpec
	label     string
	args      map[string]any
}

// NewExprPathSource compiles exprs up front so syntax errors surface here.
func NewExprPathSource(exprs []string, opts ...PathSourceOption) (*ExprPathSource, error) {
	s := &ExprPathSource{
		exprs:  append([]string(nil), exprs...),
		logger: EvaluatorLoggerFunc(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.evaluator == nil {
		s.evaluator = NewExprEvaluator()
	}
	for _, spec := range s.queries {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("mirror: static query %q: %w", spec.Name, err)
		}
	}
	s.rules = make([]CompiledRule, len(s.exprs))
	for i, expr := range s.exprs {
		rule, err := s.evaluator.Compile(expr)
		if err != nil {
			return nil, describeFailure(err, EvaluationError{Engine: evaluatorEngineName(s.evaluator), Expr: expr, Label: s.label, Position: i + 1})
		}
		s.rules[i] = rule
	}
	return s, nil
}

// Paths evaluates every expression against input and returns the union of
// the results and the static queries, first occurrence wins.
func (s *ExprPathSource) Paths(input any) ([]Path, error) {
	ctx := RuleContext{Input: input, Args: s.args, Label: s.label}
	var out []Path
	for i, expr := range s.exprs {
		result, err := evaluateLogged(s.evaluator, s.rules[i], s.logger, ctx, expr)
		if err != nil {
			return nil, describeFailure(err, EvaluationError{Position: i + 1})
		}
		paths, err := pathsFromResult(result)
		if err != nil {
			return nil, fmt.Errorf("mirror: path expression %q: %w", expr, err)
		}
		out = append(out, paths...)
	}
	for _, spec := range s.queries {
		out = append(out, QueryPath(spec))
	}
	return dedupePaths(out), nil
}

func dedupePaths(paths []Path) []Path {
	seen := make(map[string]struct{}, len(paths))
	out := paths[:0]
	for _, p := range paths {
		p = p.Canonical()
		if _, ok := seen[p.Key]; ok {
			continue
		}
		seen[p.Key] = struct{}{}
		out = append(out, p)
	}
	return out
}

func pathsFromResult(result any) ([]Path, error) {
	switch typed := result.(type) {
	case nil:
		return nil, nil
	case string:
		if Normalize(typed) == "" {
			return nil, nil
		}
		return []Path{PathOf(typed)}, nil
	case Path:
		return []Path{typed.Canonical()}, nil
	case *Path:
		if typed == nil {
			return nil, nil
		}
		return []Path{typed.Canonical()}, nil
	case QuerySpec:
		if err := typed.Validate(); err != nil {
			return nil, err
		}
		return []Path{QueryPath(typed)}, nil
	case []Path:
		return append([]Path(nil), typed...), nil
	case []string:
		var out []Path
		for _, raw := range typed {
			paths, _ := pathsFromResult(raw)
			out = append(out, paths...)
		}
		return out, nil
	case []any:
		var out []Path
		for _, item := range typed {
			paths, err := pathsFromResult(item)
			if err != nil {
				return nil, err
			}
			out = append(out, paths...)
		}
		return out, nil
	case map[string]any:
		spec, err := decodeQueryDescriptor(typed)
		if err != nil {
			return nil, err
		}
		return []Path{QueryPath(spec)}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPathResult, result)
	}
}

// QueryDescriptor is the map form of a query an expression can return, e.g.
// {"name": "topTen", "path": "scores", "orderBy": "value", "limitToLast": 10}.
// A nil bound is unset; Null() as a bound value asks for a null bound. In the
// map form an explicit null (e.g. "equalTo": null) means the latter.
type QueryDescriptor struct {
	Name         string `json:"name" yaml:"name"`
	Path         string `json:"path" yaml:"path"`
	OrderBy      string `json:"orderBy,omitempty" yaml:"orderBy,omitempty"`
	ChildPath    string `json:"childPath,omitempty" yaml:"childPath,omitempty"`
	LimitToFirst *int   `json:"limitToFirst,omitempty" yaml:"limitToFirst,omitempty"`
	LimitToLast  *int   `json:"limitToLast,omitempty" yaml:"limitToLast,omitempty"`
	StartAt      any    `json:"startAt,omitempty" yaml:"startAt,omitempty"`
	StartAtKey   string `json:"startAtKey,omitempty" yaml:"startAtKey,omitempty"`
	EndAt        any    `json:"endAt,omitempty" yaml:"endAt,omitempty"`
	EndAtKey     string `json:"endAtKey,omitempty" yaml:"endAtKey,omitempty"`
	EqualTo      any    `json:"equalTo,omitempty" yaml:"equalTo,omitempty"`
	EqualToKey   string `json:"equalToKey,omitempty" yaml:"equalToKey,omitempty"`
}

var queryDescriptorDecoder = hydrate.NewDecoder[QueryDescriptor](
	hydrate.WithDisallowUnknownFields[QueryDescriptor](),
)

func decodeQueryDescriptor(payload map[string]any) (QuerySpec, error) {
	desc, err := queryDescriptorDecoder.Decode(hydrate.Context{Key: fmt.Sprint(payload["path"]), Source: "query"}, payload)
	if err != nil {
		return QuerySpec{}, fmt.Errorf("%w: %v", ErrUnsupportedPathResult, err)
	}
	for key, field := range map[string]*any{"startAt": &desc.StartAt, "endAt": &desc.EndAt, "equalTo": &desc.EqualTo} {
		if raw, ok := payload[key]; ok && raw == nil {
			*field = Null()
		}
	}
	return desc.Spec()
}

// Spec builds the described query through the staged builder, so the same
// construction rules apply.
func (d QueryDescriptor) Spec() (QuerySpec, error) {
	base := NewQuery(d.Name).Ref(d.Path)
	switch strings.ToLower(strings.TrimSpace(d.OrderBy)) {
	case "":
		if d.StartAt != nil || d.EndAt != nil || d.EqualTo != nil {
			return QuerySpec{}, ErrRangeWithoutOrder
		}
		if d.LimitToFirst != nil {
			base = base.LimitToFirst(*d.LimitToFirst)
		}
		if d.LimitToLast != nil {
			base = base.LimitToLast(*d.LimitToLast)
		}
		return base.Build()
	case string(OrderByKey):
		q := base.OrderByKey()
		if d.LimitToFirst != nil {
			q = q.LimitToFirst(*d.LimitToFirst)
		}
		if d.LimitToLast != nil {
			q = q.LimitToLast(*d.LimitToLast)
		}
		var err error
		if q, err = applyKeyBound(q, d.StartAt, d.StartAtKey, KeyOrderedQuery.StartAt); err != nil {
			return QuerySpec{}, err
		}
		if q, err = applyKeyBound(q, d.EndAt, d.EndAtKey, KeyOrderedQuery.EndAt); err != nil {
			return QuerySpec{}, err
		}
		if q, err = applyKeyBound(q, d.EqualTo, d.EqualToKey, KeyOrderedQuery.EqualTo); err != nil {
			return QuerySpec{}, err
		}
		return q.Build()
	case string(OrderByChild), string(OrderByPriority), string(OrderByValue):
		var q ValueOrderedQuery
		switch OrderByType(strings.ToLower(strings.TrimSpace(d.OrderBy))) {
		case OrderByChild:
			q = base.OrderByChild(d.ChildPath)
		case OrderByPriority:
			q = base.OrderByPriority()
		default:
			q = base.OrderByValue()
		}
		if d.LimitToFirst != nil {
			q = q.LimitToFirst(*d.LimitToFirst)
		}
		if d.LimitToLast != nil {
			q = q.LimitToLast(*d.LimitToLast)
		}
		var err error
		if q, err = applyValueBound(q, d.StartAt, d.StartAtKey, ValueOrderedQuery.StartAt); err != nil {
			return QuerySpec{}, err
		}
		if q, err = applyValueBound(q, d.EndAt, d.EndAtKey, ValueOrderedQuery.EndAt); err != nil {
			return QuerySpec{}, err
		}
		if q, err = applyValueBound(q, d.EqualTo, d.EqualToKey, ValueOrderedQuery.EqualTo); err != nil {
			return QuerySpec{}, err
		}
		return q.Build()
	default:
		return QuerySpec{}, fmt.Errorf("%w: order %q", ErrUnsupportedPathResult, d.OrderBy)
	}
}

func applyKeyBound(q KeyOrderedQuery, raw any, key string, set func(KeyOrderedQuery, string) KeyOrderedQuery) (KeyOrderedQuery, error) {
	if raw == nil {
		if key != "" {
			return q, ErrKeyOrderBound
		}
		return q, nil
	}
	s, ok := raw.(string)
	if !ok || key != "" {
		return q, ErrKeyOrderBound
	}
	return set(q, s), nil
}

func applyValueBound(q ValueOrderedQuery, raw any, key string, set func(ValueOrderedQuery, Value, ...string) ValueOrderedQuery) (ValueOrderedQuery, error) {
	if raw == nil {
		return q, nil
	}
	v, err := FromAny(raw)
	if err != nil {
		return q, err
	}
	if key == "" {
		return set(q, v), nil
	}
	return set(q, v, key), nil
}

// joinPath renders segments as a normalized path. Lists are flattened and
// nil segments skipped.
func joinPath(segments ...any) string {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		parts = appendSegment(parts, segment)
	}
	return Normalize(strings.Join(parts, "/"))
}

func appendSegment(parts []string, segment any) []string {
	switch typed := segment.(type) {
	case nil:
		return parts
	case string:
		return append(parts, typed)
	case float64:
		return append(parts, formatNumber(typed))
	case float32:
		return append(parts, formatNumber(float64(typed)))
	case int:
		return append(parts, strconv.Itoa(typed))
	case int64:
		return append(parts, strconv.FormatInt(typed, 10))
	case uint64:
		return append(parts, strconv.FormatUint(typed, 10))
	case bool:
		return append(parts, strconv.FormatBool(typed))
	case []any:
		for _, item := range typed {
			parts = appendSegment(parts, item)
		}
		return parts
	case []string:
		return append(parts, typed...)
	case Value:
		if s, ok := typed.Text(); ok {
			return append(parts, s)
		}
		if n, ok := typed.Number(); ok {
			return append(parts, formatNumber(n))
		}
		return parts
	default:
		return append(parts, fmt.Sprint(typed))
	}
}
