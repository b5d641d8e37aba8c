// Package hydrate turns mirrored node payloads into typed structs.
package hydrate

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"

	"github.com/goccy/go-json"
)

// Context identifies the mirrored node a payload came from.
type Context struct {
	// Key is the canonical key of the node.
	Key string
	// Source names the caller, e.g. a query name or "path".
	Source string
}

// PreHook rewrites the payload before decoding. Returning a nil map keeps the
// current payload.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook adjusts or validates the decoded value.
type PostHook[T any] func(Context, *T) error

// CustomDecoder replaces JSON decoding.
type CustomDecoder[T any] func(Context, map[string]any) (T, error)

// DecoderOption configures a Decoder.
type DecoderOption[T any] func(*Decoder[T])

// Decoder converts payloads into T. A Decoder is immutable once built and
// safe for concurrent use.
type Decoder[T any] struct {
	before []PreHook
	after  []PostHook[T]
	custom CustomDecoder[T]

	useNumber bool
	strict    bool
}

func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.before = append(d.before, hook)
		}
	}
}

func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.after = append(d.after, hook)
		}
	}
}

// WithUseNumber decodes numbers held in interface fields as json.Number.
func WithUseNumber[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) { d.useNumber = true }
}

// WithDisallowUnknownFields rejects payload keys with no matching field.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) { d.strict = true }
}

// WithIndexedLists turns index-keyed maps ("0", "1", ...) back into slices
// before any other pre-hook added after it runs.
func WithIndexedLists[T any]() DecoderOption[T] {
	return WithPreHook[T](func(_ Context, payload map[string]any) (map[string]any, error) {
		out, _ := Listify(payload).(map[string]any)
		return out, nil
	})
}

func WithCustomDecoder[T any](decoder CustomDecoder[T]) DecoderOption[T] {
	return func(d *Decoder[T]) { d.custom = decoder }
}

func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode runs the pre-hooks, decodes, then runs the post-hooks. Hooks work on
// a copy, never on the caller's map.
func (d *Decoder[T]) Decode(ctx Context, payload map[string]any) (T, error) {
	var zero T
	if payload == nil {
		return zero, fmt.Errorf("hydrate: payload is nil for key %q", ctx.Key)
	}

	working, err := roundTrip(payload)
	if err != nil {
		return zero, fmt.Errorf("hydrate: copy payload for key %q: %w", ctx.Key, err)
	}
	for _, hook := range d.before {
		next, err := hook(ctx, working)
		if err != nil {
			return zero, fmt.Errorf("hydrate: pre-hook for key %q failed: %w", ctx.Key, err)
		}
		if next != nil {
			working = next
		}
	}

	result, err := d.decode(ctx, working)
	if err != nil {
		return zero, err
	}

	for _, hook := range d.after {
		if err := hook(ctx, &result); err != nil {
			return zero, fmt.Errorf("hydrate: post-hook for key %q failed: %w", ctx.Key, err)
		}
	}
	return result, nil
}

func (d *Decoder[T]) decode(ctx Context, payload map[string]any) (T, error) {
	var out T
	if d.custom != nil {
		out, err := d.custom(ctx, payload)
		if err != nil {
			return out, fmt.Errorf("hydrate: custom decoder for key %q failed: %w", ctx.Key, err)
		}
		return out, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("hydrate: encode key %q: %w", ctx.Key, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if d.useNumber {
		dec.UseNumber()
	}
	if d.strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("hydrate: decode key %q: %w", ctx.Key, err)
	}
	return out, nil
}

// Listify walks v and replaces every map whose keys are exactly "0".."n-1"
// with the equivalent slice. Other values are returned as they are.
func Listify(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	walked := make(map[string]any, len(m))
	for key, child := range m {
		walked[key] = Listify(child)
	}
	order, dense := denseIndexes(walked)
	if !dense {
		return walked
	}
	list := make([]any, len(order))
	for i, key := range order {
		list[i] = walked[key]
	}
	return list
}

// denseIndexes reports whether the keys of m are the canonical decimal
// indexes 0..len(m)-1, and returns them in index order when they are.
func denseIndexes(m map[string]any) ([]string, bool) {
	if len(m) == 0 {
		return nil, false
	}
	seen := make([]bool, len(m))
	for key := range m {
		n, err := strconv.Atoi(key)
		if err != nil || n < 0 || n >= len(m) || strconv.Itoa(n) != key {
			return nil, false
		}
		seen[n] = true
	}
	if slices.Contains(seen, false) {
		return nil, false
	}
	order := make([]string, len(m))
	for i := range order {
		order[i] = strconv.Itoa(i)
	}
	return order, true
}

func roundTrip(payload map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
