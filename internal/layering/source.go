package layering

import (
	"slices"
	"strings"
)

// Level identifies the precedence of a configuration source. Higher levels
// override lower ones.
type Level int

const (
	LevelUnknown Level = iota
	LevelDefaults
	LevelFile
	LevelEnv
	LevelFlags
)

func (l Level) String() string {
	switch l {
	case LevelDefaults:
		return "defaults"
	case LevelFile:
		return "file"
	case LevelEnv:
		return "env"
	case LevelFlags:
		return "flags"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name; unrecognised names map to LevelUnknown.
func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "defaults":
		return LevelDefaults
	case "file":
		return LevelFile
	case "env":
		return LevelEnv
	case "flags":
		return LevelFlags
	default:
		return LevelUnknown
	}
}

// Source names one contribution to a layered value.
type Source struct {
	Level Level
	// Name distinguishes sources on the same level, e.g. a file path.
	Name string
}

// Identifier returns "level/name", or just the level when Name is empty.
func (s Source) Identifier() string {
	if s.Name == "" {
		return s.Level.String()
	}
	return s.Level.String() + "/" + s.Name
}

// Layer pairs a value with its source.
type Layer[T any] struct {
	Source Source
	Value  T
}

// Stack collects layers and resolves them strongest first.
type Stack[T any] struct {
	layers []Layer[T]
}

// Push adds value from source. Unknown levels are ignored and a repeated
// source identifier replaces the earlier layer.
func (s *Stack[T]) Push(source Source, value T) {
	if source.Level == LevelUnknown {
		return
	}
	id := source.Identifier()
	for i := range s.layers {
		if s.layers[i].Source.Identifier() == id {
			s.layers[i].Value = value
			return
		}
	}
	s.layers = append(s.layers, Layer[T]{Source: source, Value: value})
}

// Ordered returns the layers from strongest to weakest. Peers keep the order
// they were pushed in, later pushes first.
func (s *Stack[T]) Ordered() []Layer[T] {
	out := make([]Layer[T], len(s.layers))
	for i := range s.layers {
		out[len(s.layers)-1-i] = s.layers[i]
	}
	slices.SortStableFunc(out, func(a, b Layer[T]) int {
		return int(b.Source.Level) - int(a.Source.Level)
	})
	return out
}

// Sources lists the identifiers of Ordered.
func (s *Stack[T]) Sources() []string {
	ordered := s.Ordered()
	out := make([]string, len(ordered))
	for i, layer := range ordered {
		out[i] = layer.Source.Identifier()
	}
	return out
}

// Resolve merges every layer with Merge.
func (s *Stack[T]) Resolve() T {
	ordered := s.Ordered()
	values := make([]T, len(ordered))
	for i, layer := range ordered {
		values[i] = layer.Value
	}
	return Merge(values...)
}
