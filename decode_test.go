package mirror

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type chatMessage struct {
	Author string   `json:"author"`
	Body   string   `json:"body"`
	Likes  int      `json:"likes"`
	Tags   []string `json:"tags"`
}

func TestDecodeValueScalars(t *testing.T) {
	n, err := DecodeValue[int](Int(42))
	if err != nil || n != 42 {
		t.Fatalf("expected 42, got %v (%v)", n, err)
	}
	s, err := DecodeValue[string](String("hi"))
	if err != nil || s != "hi" {
		t.Fatalf("expected hi, got %q (%v)", s, err)
	}
	b, err := DecodeValue[bool](Bool(true))
	if err != nil || !b {
		t.Fatalf("expected true, got %v (%v)", b, err)
	}
	zero, err := DecodeValue[chatMessage](Null())
	if err != nil || zero.Author != "" {
		t.Fatalf("expected zero value for null, got %+v (%v)", zero, err)
	}
	if _, err := DecodeValue[int](String("x"), WithDecodeKey("count")); err == nil || !strings.Contains(err.Error(), "count") {
		t.Fatalf("expected type error naming the key, got %v", err)
	}
}

func TestDecodeValueStructs(t *testing.T) {
	v := MustValue(map[string]any{
		"author": "ada",
		"body":   "hello",
		"likes":  3,
		"tags":   []any{"intro", "greeting"},
		"extra":  true,
	})

	if _, err := DecodeValue[chatMessage](v); err == nil {
		t.Fatalf("expected index-keyed tags to need list decoding")
	}

	got, err := DecodeValue[chatMessage](v, WithListDecoding())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := chatMessage{Author: "ada", Body: "hello", Likes: 3, Tags: []string{"intro", "greeting"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected message (-want +got):\n%s", diff)
	}

	if _, err := DecodeValue[chatMessage](v, WithListDecoding(), WithStrictDecode()); err == nil {
		t.Fatalf("expected strict decoding to reject extra")
	}
}

func TestDecodeSnapshot(t *testing.T) {
	store := NewStore()
	p := PathOf("rooms/lobby/messages/m1")
	store.Dispatch(NodeValueReceived{Path: p, Value: MustValue(map[string]any{"author": "ada", "likes": 1})})

	got, err := DecodeSnapshot[chatMessage](NewSnapshot(store.State(), Locate(p.Key)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Author != "ada" || got.Likes != 1 {
		t.Fatalf("unexpected message %+v", got)
	}

	missing, err := DecodeSnapshot[chatMessage](NewSnapshot(store.State(), Locate("rooms/none")))
	if err != nil || missing.Author != "" {
		t.Fatalf("expected zero value for missing node, got %+v (%v)", missing, err)
	}

	_, err = DecodeSnapshot[chatMessage](NewSnapshot(store.State(), Locate(p.Key)), WithStrictDecode())
	if err != nil {
		t.Fatalf("unexpected strict error: %v", err)
	}
	store.Dispatch(NodeValueReceived{Path: p, Value: MustValue(map[string]any{"mood": "ok"})})
	_, err = DecodeSnapshot[chatMessage](NewSnapshot(store.State(), Locate(p.Key)), WithStrictDecode())
	if err == nil || !strings.Contains(err.Error(), p.Key) {
		t.Fatalf("expected strict error naming %s, got %v", p.Key, err)
	}

	var nilSnap *Snapshot
	if _, err := DecodeSnapshot[chatMessage](nilSnap); err != nil {
		t.Fatalf("unexpected error for nil snapshot: %v", err)
	}
}
