package layering

import (
	"reflect"
	"testing"
	"time"
)

type remoteSettings struct {
	URL     string
	Codec   string
	Timeout time.Duration
	Headers map[string]string
}

type settings struct {
	Engine  string
	Verbose *bool
	Remote  remoteSettings
	Seeds   []string
	Limits  map[string]int
	Extra   any
}

func boolPtr(v bool) *bool { return &v }

func TestMergeKeepsStrongestNonZero(t *testing.T) {
	cases := []struct {
		name   string
		layers []settings
		expect settings
	}{
		{
			name: "weak fills zero fields",
			layers: []settings{
				{Engine: "cel"},
				{Engine: "expr", Remote: remoteSettings{URL: "ws://localhost:8080/mirror", Codec: "json"}},
			},
			expect: settings{Engine: "cel", Remote: remoteSettings{URL: "ws://localhost:8080/mirror", Codec: "json"}},
		},
		{
			name: "explicit false pointer wins",
			layers: []settings{
				{Verbose: boolPtr(false)},
				{Verbose: boolPtr(true)},
			},
			expect: settings{Verbose: boolPtr(false)},
		},
		{
			name: "maps merge per key",
			layers: []settings{
				{Limits: map[string]int{"rooms": 5}},
				{Limits: map[string]int{"rooms": 1, "users": 3}},
			},
			expect: settings{Limits: map[string]int{"rooms": 5, "users": 3}},
		},
		{
			name: "strong slice replaces weak",
			layers: []settings{
				{Seeds: []string{"b"}},
				{Seeds: []string{"a", "c"}},
			},
			expect: settings{Seeds: []string{"b"}},
		},
		{
			name: "empty slice defers",
			layers: []settings{
				{Seeds: []string{}},
				{Seeds: []string{"a"}},
			},
			expect: settings{Seeds: []string{"a"}},
		},
		{
			name: "nested durations",
			layers: []settings{
				{Remote: remoteSettings{Timeout: 2 * time.Second}},
				{},
				{Remote: remoteSettings{Timeout: time.Second, Codec: "cbor"}},
			},
			expect: settings{Remote: remoteSettings{Timeout: 2 * time.Second, Codec: "cbor"}},
		},
		{
			name: "interface kept from strong",
			layers: []settings{
				{Extra: "strong"},
				{Extra: 42},
			},
			expect: settings{Extra: "strong"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := Merge(tc.layers...)
			if !reflect.DeepEqual(tc.expect, got) {
				t.Fatalf("merged settings mismatch:\nwant: %#v\n got: %#v", tc.expect, got)
			}
		})
	}
}

func TestMergeDoesNotAlias(t *testing.T) {
	weak := settings{Limits: map[string]int{"rooms": 1}, Seeds: []string{"a"}}
	got := Merge(settings{}, weak)
	got.Limits["rooms"] = 9
	got.Seeds[0] = "z"
	if weak.Limits["rooms"] != 1 || weak.Seeds[0] != "a" {
		t.Fatalf("expected weak layer untouched, got %#v", weak)
	}
}

func TestMergeZeroInput(t *testing.T) {
	var zero settings
	if got := Merge[settings](); !reflect.DeepEqual(zero, got) {
		t.Fatalf("expected Merge() to return zero value, got %+v", got)
	}
}
