package mirror

import "testing"

func TestSnapshotLocatesPlainPaths(t *testing.T) {
	tree := Reduce(Tree{}, NodeValueReceived{
		Path:  PathOf("users/ada"),
		Value: MustValue(map[string]any{"name": "Ada", "langs": map[string]any{"go": true}}),
	})

	snap := NewSnapshot(tree, Locate("/users//ada/langs"))
	if snap.Key() != "users/ada/langs" {
		t.Fatalf("expected normalized key, got %q", snap.Key())
	}
	if !snap.Val().Equal(MustValue(map[string]any{"go": true})) {
		t.Fatalf("unexpected value %s", snap.Val())
	}
	// Metadata is recorded per subscribed key, not per descendant.
	if snap.HasLoaded() {
		t.Fatalf("expected no metadata for a descendant key")
	}
	if !NewSnapshot(tree, Locate("users/ada")).HasLoaded() {
		t.Fatalf("expected subscribed key loaded")
	}
	if !GetValue(tree, "users/bob").IsNull() {
		t.Fatalf("expected missing path to be null")
	}
}

func TestSnapshotLocatesQueriesByName(t *testing.T) {
	spec := NewQuery("recent").Ref("posts").OrderByKey().LimitToLast(1).MustBuild()
	p := QueryPath(spec)
	tree := Reduce(Tree{}, FetchStarted{Path: p})
	if !IsQueryLoading(tree, "recent") {
		t.Fatalf("expected query loading")
	}
	tree = Reduce(tree, NodeValueReceived{Path: p, Value: MustValue(map[string]any{"p9": "hello"})})

	byName := NewSnapshot(tree, LocateQuery("recent"))
	byPath := NewSnapshot(tree, LocatePath(p))
	if byName.Key() != byPath.Key() || !byName.Val().Equal(byPath.Val()) {
		t.Fatalf("expected name and path lookups to agree: %q %s / %q %s", byName.Key(), byName.Val(), byPath.Key(), byPath.Val())
	}
	if IsQueryLoading(tree, "recent") {
		t.Fatalf("expected query loaded")
	}

	unknown := NewSnapshot(tree, LocateQuery("nope"))
	if unknown.Key() != "" || !unknown.Val().IsNull() || unknown.LastLoadedTime() != nil {
		t.Fatalf("expected empty snapshot for unknown query name")
	}
}

func TestSnapshotIsBoundToItsTree(t *testing.T) {
	p := PathOf("counter")
	before := Reduce(Tree{}, NodeValueReceived{Path: p, Value: Int(1)})
	snap := NewSnapshot(before, Locate("counter"))
	_ = Reduce(before, NodeValueReceived{Path: p, Value: Int(2)})
	if !snap.Val().Equal(Int(1)) {
		t.Fatalf("expected snapshot to read its own tree, got %s", snap.Val())
	}
}
