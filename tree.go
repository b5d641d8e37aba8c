package mirror

import (
	"maps"
	"slices"
)

// UpdateDeep writes value beneath root at segments and returns the new root.
// Only the chain from root to the target is rebuilt; every other sub-tree is
// shared with the input.
//
// At the target a map value is merged one level deep into the existing node,
// each given child replacing its namesake; scalars and null replace the node
// outright. A null result for a child removes that key from its parent,
// and a parent left without children becomes null itself. Pruning applies at
// every level on the way back up, so deleting a leaf removes ancestors that
// become empty.
func UpdateDeep(root Value, segments []string, value Value) Value {
	return writeDeep(root, segments, value, mergeNode)
}

// ReplaceDeep writes value at segments, discarding whatever the target held.
// It prunes the same way UpdateDeep does. A full snapshot pushed by the remote
// is applied with ReplaceDeep, so children missing from the snapshot go away.
func ReplaceDeep(root Value, segments []string, value Value) Value {
	return writeDeep(root, segments, value, replaceNode)
}

// PatchDeep applies a partial update beneath segments. Each patch key is a
// path relative to the target; a null entry deletes that child and prunes
// ancestors left empty. Single-segment entries are merged into the target
// with UpdateDeep; deeper entries and deletions are written in key order.
func PatchDeep(root Value, segments []string, patch map[string]Value) Value {
	children := make(map[string]Value, len(patch))
	for _, key := range slices.Sorted(maps.Keys(patch)) {
		rel := Segments(key)
		value := patch[key]
		if len(rel) == 1 && !value.IsNull() {
			children[rel[0]] = value
			continue
		}
		target := append(slices.Clip(segments), rel...)
		root = ReplaceDeep(root, target, value)
	}
	if len(children) == 0 {
		return root
	}
	return UpdateDeep(root, segments, Map(children))
}

// GetDeep reads the value stored at segments, or null.
func GetDeep(root Value, segments []string) Value {
	return root.Get(segments...)
}

func writeDeep(root Value, segments []string, value Value, place func(existing, value Value) Value) Value {
	if len(segments) == 0 {
		return place(root, value)
	}

	key := segments[0]
	existing := root.Child(key)
	child := writeDeep(existing, segments[1:], value, place)
	if child.Same(existing) {
		return root
	}
	if child.IsNull() {
		return root.Without(key)
	}
	return root.With(key, child)
}

func mergeNode(existing, value Value) Value {
	if !value.IsMap() || !existing.IsMap() {
		return value
	}
	merged := existing
	value.Range(func(key string, child Value) bool {
		if merged.Child(key).Same(child) {
			return true
		}
		merged = merged.With(key, child)
		return true
	})
	return merged
}

// replaceNode keeps existing when value is structurally equal, so an
// unchanged snapshot leaves the tree untouched.
func replaceNode(existing, value Value) Value {
	if existing.Equal(value) {
		return existing
	}
	return value
}
