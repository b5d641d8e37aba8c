package mirror

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMapDropsNullsAndCollapsesEmpty(t *testing.T) {
	if v := Map(nil); !v.IsNull() {
		t.Fatalf("expected empty map to be null, got %s", v)
	}
	if v := Map(map[string]Value{"a": Null()}); !v.IsNull() {
		t.Fatalf("expected map of nulls to be null, got %s", v)
	}
	v := Map(map[string]Value{"a": Int(1), "b": Null()})
	if v.Len() != 1 || !v.Child("a").Equal(Int(1)) {
		t.Fatalf("expected single child a=1, got %s", v)
	}
}

func TestKeysUseRemoteOrdering(t *testing.T) {
	v := MustValue(map[string]any{"b": 1, "10": 1, "a": 1, "2": 1, "-1": 1, "01": 1})
	want := []string{"-1", "2", "10", "01", "a", "b"}
	if diff := cmp.Diff(want, v.Keys()); diff != "" {
		t.Fatalf("unexpected key order (-want +got):\n%s", diff)
	}
}

func TestFromAnyNormalizesArraysAndNulls(t *testing.T) {
	v, err := FromAny(map[string]any{
		"list":  []any{"x", nil, "z"},
		"empty": map[string]any{},
		"gone":  nil,
		"n":     int64(7),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{
		"list": map[string]any{"0": "x", "2": "z"},
		"n":    float64(7),
	}
	if diff := cmp.Diff(want, v.Interface()); diff != "" {
		t.Fatalf("unexpected value (-want +got):\n%s", diff)
	}
}

func TestFromAnyRejectsNonStringKeys(t *testing.T) {
	if _, err := FromAny(map[int]string{1: "a"}); err == nil {
		t.Fatalf("expected error for int keyed map")
	}
}

func TestWithSharesUntouchedChildren(t *testing.T) {
	base := MustValue(map[string]any{"a": map[string]any{"x": 1}, "b": map[string]any{"y": 2}})
	next := base.With("b", String("replaced"))

	if !next.Child("a").Same(base.Child("a")) {
		t.Fatalf("expected sibling a to be shared")
	}
	if base.Child("b").Equal(next.Child("b")) {
		t.Fatalf("expected original to stay unchanged")
	}
	if got := next.Without("a").Without("b"); !got.IsNull() {
		t.Fatalf("expected removing every key to yield null, got %s", got)
	}
}

func TestValueJSON(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"n": 1.5, "s": "x", "list": [true], "nil": null}`), &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := MustValue(map[string]any{"n": 1.5, "s": "x", "list": map[string]any{"0": true}})
	if !v.Equal(want) {
		t.Fatalf("expected %s, got %s", want, v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `{"list":{"0":true},"n":1.5,"s":"x"}` {
		t.Fatalf("unexpected encoding %s", raw)
	}
}

func TestValueStringAndNumbers(t *testing.T) {
	v := MustValue(map[string]any{"b": json.Number("2.5"), "a": map[string]any{"c": "x"}})
	if got := v.String(); got != `{"a":{"c":"x"},"b":2.5}` {
		t.Fatalf("expected sorted compact encoding, got %s", got)
	}
	if _, err := FromAny(json.Number("nope")); err == nil {
		t.Fatalf("expected malformed number to fail")
	}
}

func TestCompareKeys(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1", "2", -1},
		{"10", "9", 1},
		{"9", "a", -1},
		{"a", "b", -1},
		{"b", "b", 0},
		{"007", "7", 1},
	}
	for _, tc := range cases {
		if got := CompareKeys(tc.a, tc.b); sign(got) != tc.want {
			t.Fatalf("CompareKeys(%q, %q): expected %d, got %d", tc.a, tc.b, tc.want, got)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
