package mirror

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-treemirror/internal/layering"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("mirror: invalid config")

// EnvPrefix prefixes the environment variables read by LoadConfig.
const EnvPrefix = "TREEMIRROR_"

// Config is the file and environment facing configuration of a Session.
type Config struct {
	Remote    RemoteConfig    `json:"remote" yaml:"remote"`
	Evaluator EvaluatorConfig `json:"evaluator" yaml:"evaluator"`
	Activity  ActivityConfig  `json:"activity" yaml:"activity"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// RemoteConfig locates the websocket remote.
type RemoteConfig struct {
	URL          string        `json:"url" yaml:"url"`
	Codec        string        `json:"codec" yaml:"codec"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// EvaluatorConfig selects the path expression engine.
type EvaluatorConfig struct {
	Engine       string `json:"engine" yaml:"engine"`
	DisableCache bool   `json:"disable_cache" yaml:"disable_cache"`
}

// ActivityConfig controls lifecycle activity emission.
type ActivityConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Channel  string `json:"channel" yaml:"channel"`
	ActorID  string `json:"actor_id" yaml:"actor_id"`
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
}

// LogConfig controls the default slog logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig controls the prometheus activity hook.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		Remote: RemoteConfig{
			Codec:        "json",
			DialTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Evaluator: EvaluatorConfig{
			Engine: EngineExpr,
		},
		Activity: ActivityConfig{
			Channel: "mirror",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "treemirror",
		},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch strings.ToLower(c.Evaluator.Engine) {
	case EngineExpr, EngineCEL, EngineJS:
	default:
		return fmt.Errorf("%w: evaluator.engine %q", ErrInvalidConfig, c.Evaluator.Engine)
	}
	switch strings.ToLower(c.Remote.Codec) {
	case "json", "cbor":
	default:
		return fmt.Errorf("%w: remote.codec %q", ErrInvalidConfig, c.Remote.Codec)
	}
	if c.Remote.DialTimeout < 0 || c.Remote.WriteTimeout < 0 {
		return fmt.Errorf("%w: remote timeouts must not be negative", ErrInvalidConfig)
	}
	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil {
			return fmt.Errorf("%w: remote.url: %v", ErrInvalidConfig, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("%w: remote.url scheme %q, want ws or wss", ErrInvalidConfig, u.Scheme)
		}
	}
	if _, err := parseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// LoadConfig resolves the configuration from, strongest first: overrides
// (typically command line flags), TREEMIRROR_* environment variables, the
// file at path, and DefaultConfig. A missing file is not an error. The
// result is validated.
func LoadConfig(path string, overrides ...Config) (Config, error) {
	return loadConfig(path, os.LookupEnv, overrides...)
}

func loadConfig(path string, lookup func(string) (string, bool), overrides ...Config) (Config, error) {
	stack, err := configStack(path, lookup, overrides...)
	if err != nil {
		return Config{}, err
	}
	cfg := stack.Resolve()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func configStack(path string, lookup func(string) (string, bool), overrides ...Config) (*layering.Stack[Config], error) {
	stack := &layering.Stack[Config]{}
	stack.Push(layering.Source{Level: layering.LevelDefaults}, DefaultConfig())

	if path != "" {
		fromFile, found, err := readConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("mirror: load config file: %w", err)
		}
		if found {
			stack.Push(layering.Source{Level: layering.LevelFile, Name: path}, fromFile)
		}
	}

	fromEnv, err := configFromEnv(lookup)
	if err != nil {
		return nil, fmt.Errorf("mirror: load config env: %w", err)
	}
	stack.Push(layering.Source{Level: layering.LevelEnv}, fromEnv)

	for i, override := range overrides {
		stack.Push(layering.Source{Level: layering.LevelFlags, Name: strconv.Itoa(i)}, override)
	}
	return stack, nil
}

func readConfigFile(path string) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, false, nil
		}
		return Config{}, false, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, true, nil
}

func configFromEnv(lookup func(string) (string, bool)) (Config, error) {
	var cfg Config
	get := func(name string) string {
		if lookup == nil {
			return ""
		}
		v, _ := lookup(EnvPrefix + name)
		return strings.TrimSpace(v)
	}
	duration := func(name string, dst *time.Duration) error {
		if v := get(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
		return nil
	}
	flag := func(name string, dst *bool) error {
		if v := get(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
		return nil
	}

	cfg.Remote.URL = get("REMOTE_URL")
	cfg.Remote.Codec = get("REMOTE_CODEC")
	cfg.Evaluator.Engine = get("EVALUATOR_ENGINE")
	cfg.Activity.Channel = get("ACTIVITY_CHANNEL")
	cfg.Activity.ActorID = get("ACTIVITY_ACTOR_ID")
	cfg.Activity.TenantID = get("ACTIVITY_TENANT_ID")
	cfg.Log.Level = get("LOG_LEVEL")
	cfg.Log.Format = get("LOG_FORMAT")
	cfg.Metrics.Namespace = get("METRICS_NAMESPACE")

	if err := errors.Join(
		duration("REMOTE_DIAL_TIMEOUT", &cfg.Remote.DialTimeout),
		duration("REMOTE_WRITE_TIMEOUT", &cfg.Remote.WriteTimeout),
		flag("EVALUATOR_DISABLE_CACHE", &cfg.Evaluator.DisableCache),
		flag("ACTIVITY_ENABLED", &cfg.Activity.Enabled),
		flag("METRICS_ENABLED", &cfg.Metrics.Enabled),
	); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q", level)
	}
}

// NewLogger builds the slog-backed Logger described by c, writing to w.
func (c LogConfig) NewLogger(w io.Writer) Logger {
	level, _ := parseLogLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(c.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return NewSlogLogger(slog.New(handler))
}
