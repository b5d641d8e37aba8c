package mirror

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/goliatone/go-treemirror/internal/hydrate"
)

// DecodeOption configures DecodeValue and DecodeSnapshot.
type DecodeOption func(*decodeConfig)

type decodeConfig struct {
	strict    bool
	lists     bool
	useNumber bool
	key       string
	source    string
}

// WithStrictDecode rejects node keys that have no matching field.
func WithStrictDecode() DecodeOption {
	return func(cfg *decodeConfig) {
		cfg.strict = true
	}
}

// WithListDecoding turns index-keyed maps back into slices, undoing the
// array normalization applied on the way in.
func WithListDecoding() DecodeOption {
	return func(cfg *decodeConfig) {
		cfg.lists = true
	}
}

// WithNumberDecoding decodes numbers in interface fields as json.Number.
func WithNumberDecoding() DecodeOption {
	return func(cfg *decodeConfig) {
		cfg.useNumber = true
	}
}

// WithDecodeKey names the node in decode errors.
func WithDecodeKey(key string) DecodeOption {
	return func(cfg *decodeConfig) {
		cfg.key = key
	}
}

// DecodeValue decodes v into T. Null decodes to the zero T.
func DecodeValue[T any](v Value, opts ...DecodeOption) (T, error) {
	cfg := decodeConfig{source: "value"}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	var zero T
	if v.IsNull() {
		return zero, nil
	}
	if !v.IsMap() {
		raw, err := json.Marshal(v.Interface())
		if err != nil {
			return zero, fmt.Errorf("mirror: decode %q: %w", cfg.key, err)
		}
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return zero, fmt.Errorf("mirror: decode %q: %w", cfg.key, err)
		}
		return out, nil
	}

	payload, _ := v.Interface().(map[string]any)
	var decoderOpts []hydrate.DecoderOption[T]
	if cfg.lists {
		decoderOpts = append(decoderOpts, hydrate.WithIndexedLists[T]())
	}
	if cfg.strict {
		decoderOpts = append(decoderOpts, hydrate.WithDisallowUnknownFields[T]())
	}
	if cfg.useNumber {
		decoderOpts = append(decoderOpts, hydrate.WithUseNumber[T]())
	}
	out, err := hydrate.NewDecoder[T](decoderOpts...).Decode(hydrate.Context{Key: cfg.key, Source: cfg.source}, payload)
	if err != nil {
		return zero, fmt.Errorf("mirror: %w", err)
	}
	return out, nil
}

// DecodeSnapshot decodes the snapshot's value into T, naming the snapshot key
// in errors.
func DecodeSnapshot[T any](s *Snapshot, opts ...DecodeOption) (T, error) {
	if s == nil {
		var zero T
		return zero, nil
	}
	base := []DecodeOption{WithDecodeKey(s.Key()), func(cfg *decodeConfig) { cfg.source = "snapshot" }}
	return DecodeValue[T](s.Val(), append(base, opts...)...)
}
