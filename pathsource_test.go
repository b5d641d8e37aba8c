package mirror

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func pathKeys(paths []Path) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.Key
	}
	return out
}

func TestExprPathSourceDerivesPathsFromInput(t *testing.T) {
	src, err := NewExprPathSource([]string{
		`path("rooms", props.room, "messages")`,
		`props.following`,
		`props.muted ? "" : "notifications/" + props.user`,
		`nil`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	paths, err := src.Paths(map[string]any{
		"room":      "lobby",
		"user":      "ada",
		"muted":     false,
		"following": []any{"users/bob", "users/carol", "rooms/lobby/messages"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"rooms/lobby/messages", "users/bob", "users/carol", "notifications/ada"}
	if diff := cmp.Diff(want, pathKeys(paths)); diff != "" {
		t.Fatalf("unexpected paths (-want +got):\n%s", diff)
	}
}

func TestExprPathSourceQueryDescriptors(t *testing.T) {
	top := NewQuery("static").Ref("leaders").OrderByValue().LimitToLast(3).MustBuild()
	src, err := NewExprPathSource([]string{
		`{"name": "topTen", "path": "scores/" + props.game, "orderBy": "child", "childPath": "score", "limitToLast": 10}`,
	}, WithQueries(top))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	paths, err := src.Paths(map[string]any{"game": "chess"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		`scores/chess?limitToLast=10&orderByChildPath="score"&orderByType="child"`,
		`leaders?limitToLast=3&orderByType="value"`,
	}
	if diff := cmp.Diff(want, pathKeys(paths)); diff != "" {
		t.Fatalf("unexpected paths (-want +got):\n%s", diff)
	}
	if paths[0].Query == nil || paths[0].Query.Name != "topTen" {
		t.Fatalf("expected query named topTen, got %+v", paths[0].Query)
	}
}

func TestExprPathSourceRejectsBadResults(t *testing.T) {
	src, err := NewExprPathSource([]string{`props.n`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := src.Paths(map[string]any{"n": 42}); !errors.Is(err, ErrUnsupportedPathResult) {
		t.Fatalf("expected ErrUnsupportedPathResult, got %v", err)
	}

	src, _ = NewExprPathSource([]string{`{"name": "q", "path": "x", "limitToLast": 0}`})
	if _, err := src.Paths(nil); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}

	src, _ = NewExprPathSource([]string{`{"name": "q", "path": "x", "bogus": 1}`})
	if _, err := src.Paths(nil); !errors.Is(err, ErrUnsupportedPathResult) {
		t.Fatalf("expected unknown descriptor field to be rejected, got %v", err)
	}
}

func TestExprPathSourceCompileErrors(t *testing.T) {
	_, err := NewExprPathSource([]string{`path(`}, WithPathLabel("feed"))
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || evalErr.Label != "feed" || evalErr.Position != 1 {
		t.Fatalf("expected EvaluationError for feed expression 1, got %v", err)
	}

	bad := QuerySpec{Path: "x"}
	if _, err := NewExprPathSource(nil, WithQueries(bad)); !errors.Is(err, ErrQueryNameRequired) {
		t.Fatalf("expected static query validation, got %v", err)
	}
}

func TestExprPathSourceLogsEvaluations(t *testing.T) {
	var events []EvaluatorLogEvent
	src, err := NewExprPathSource([]string{`props.missing.deeper`, `"ok"`},
		WithPathLabel("profile"),
		WithEvaluatorLogger(EvaluatorLoggerFunc(func(e EvaluatorLogEvent) { events = append(events, e) })),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = src.Paths(map[string]any{})
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || evalErr.Label != "profile" || evalErr.Position != 1 {
		t.Fatalf("expected runtime EvaluationError for profile expression 1, got %v", err)
	}
	if len(events) != 1 || events[0].Err == nil || events[0].Label != "profile" || events[0].Engine != EngineExpr {
		t.Fatalf("expected one failed evaluation event, got %+v", events)
	}
}

func TestPathsFromResultShapes(t *testing.T) {
	spec := NewQuery("q").Ref("s").OrderByKey().MustBuild()
	p := PathOf("a")
	cases := []struct {
		in   any
		want []string
	}{
		{nil, nil},
		{"", nil},
		{"//", nil},
		{"/a/b/", []string{"a/b"}},
		{p, []string{"a"}},
		{&p, []string{"a"}},
		{(*Path)(nil), nil},
		{spec, []string{`s?orderByType="key"`}},
		{[]Path{PathOf("x"), PathOf("y")}, []string{"x", "y"}},
		{[]string{"x", "", "y"}, []string{"x", "y"}},
		{[]any{"x", nil, []any{"y"}}, []string{"x", "y"}},
	}
	for _, tc := range cases {
		got, err := pathsFromResult(tc.in)
		if err != nil {
			t.Fatalf("%#v: unexpected error: %v", tc.in, err)
		}
		if diff := cmp.Diff(tc.want, pathKeys(got), cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("%#v: unexpected paths (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestQueryDescriptorNullBounds(t *testing.T) {
	base := map[string]any{"name": "open", "path": "tasks", "orderBy": "child", "childPath": "done"}
	with := func(extra map[string]any) map[string]any {
		out := map[string]any{}
		for k, v := range base {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	paths, err := pathsFromResult(with(map[string]any{"equalTo": nil}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bound := paths[0].Query.EqualTo
	if bound == nil || !bound.Value.IsNull() {
		t.Fatalf("expected an explicit null equalTo bound, got %+v", bound)
	}

	paths, err = pathsFromResult(with(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paths[0].Query.EqualTo != nil {
		t.Fatalf("expected no bound when equalTo is absent, got %+v", paths[0].Query.EqualTo)
	}

	_, err = pathsFromResult(map[string]any{"name": "q", "path": "tasks", "startAt": nil})
	if !errors.Is(err, ErrRangeWithoutOrder) {
		t.Fatalf("expected a null bound without order to be rejected, got %v", err)
	}
}

func TestJoinPath(t *testing.T) {
	got := joinPath("rooms", float64(3), int64(4), true, nil, []any{"a", "/b/"}, Int(7), String("s"))
	if got != "rooms/3/4/true/a/b/7/s" {
		t.Fatalf("unexpected path %q", got)
	}
	if joinPath() != "" {
		t.Fatalf("expected empty path")
	}
}

func TestStaticPathsCopies(t *testing.T) {
	src := StaticPaths(PathOf("a"))
	first, _ := src.Paths(nil)
	first[0] = PathOf("mutated")
	second, _ := src.Paths("ignored")
	if second[0].Key != "a" {
		t.Fatalf("expected static paths to be copied, got %q", second[0].Key)
	}
	if paths, err := PathSourceFunc(nil).Paths(nil); paths != nil || err != nil {
		t.Fatalf("expected nil func to produce nothing")
	}
}
