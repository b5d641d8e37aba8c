package mirror

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"
	"github.com/goliatone/go-treemirror/internal/layering"
)

// ConfigTrace captures, for one dotted setting such as "remote.codec", what
// every configuration layer holds for it, strongest first.
type ConfigTrace struct {
	Path   string             `json:"path"`
	Layers []ConfigProvenance `json:"layers"`
}

// ConfigProvenance is one layer's contribution to a traced setting.
type ConfigProvenance struct {
	Source string `json:"source"`
	Value  any    `json:"value,omitempty"`
	Found  bool   `json:"found"`
}

// Winner returns the source of the effective value, or "" when no layer
// sets the path.
func (t ConfigTrace) Winner() string {
	for _, layer := range t.Layers {
		if layer.Found {
			return layer.Source
		}
	}
	return ""
}

// TraceConfig resolves the configuration like LoadConfig and also reports
// where each setting came from. Traces are ordered by path.
func TraceConfig(path string, overrides ...Config) (Config, []ConfigTrace, error) {
	return traceConfig(path, os.LookupEnv, overrides...)
}

func traceConfig(path string, lookup func(string) (string, bool), overrides ...Config) (Config, []ConfigTrace, error) {
	stack, err := configStack(path, lookup, overrides...)
	if err != nil {
		return Config{}, nil, err
	}
	cfg := stack.Resolve()
	traces, err := traceLayers(cfg, stack.Ordered())
	if err != nil {
		return cfg, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, traces, err
	}
	return cfg, traces, nil
}

func traceLayers(resolved Config, layers []layering.Layer[Config]) ([]ConfigTrace, error) {
	all, err := flattenConfig(resolved)
	if err != nil {
		return nil, err
	}
	flat := make([]map[string]any, len(layers))
	for i, layer := range layers {
		if flat[i], err = flattenConfig(layer.Value); err != nil {
			return nil, fmt.Errorf("mirror: trace %s: %w", layer.Source.Identifier(), err)
		}
	}

	paths := make([]string, 0, len(all))
	for p := range all {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	traces := make([]ConfigTrace, 0, len(paths))
	for _, p := range paths {
		trace := ConfigTrace{Path: p}
		for i, layer := range layers {
			v := flat[i][p]
			found := !zeroSetting(v)
			prov := ConfigProvenance{Source: layer.Source.Identifier(), Found: found}
			if found {
				prov.Value = v
			}
			trace.Layers = append(trace.Layers, prov)
		}
		traces = append(traces, trace)
	}
	return traces, nil
}

// flattenConfig renders cfg as dotted json paths to leaf values.
func flattenConfig(cfg Config) (map[string]any, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for key, value := range node {
			full := key
			if prefix != "" {
				full = prefix + "." + key
			}
			if child, ok := value.(map[string]any); ok {
				walk(full, child)
				continue
			}
			out[full] = value
		}
	}
	walk("", tree)
	return out, nil
}

func zeroSetting(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case bool:
		return !typed
	case float64:
		return typed == 0
	default:
		return false
	}
}
