package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	mirror "github.com/goliatone/go-treemirror"
)

// configFlags holds the persistent flags that override configuration. Only
// flags the user actually set take part in the override layer.
type configFlags struct {
	path      string
	url       string
	codec     string
	engine    string
	logLevel  string
	logFormat string
	activity  bool
	channel   string
	metrics   bool
	namespace string

	set *pflag.FlagSet
}

func (f *configFlags) AddFlags(fs *pflag.FlagSet) {
	f.set = fs
	fs.StringVarP(&f.path, "config", "c", "", "Path to a YAML or JSON config file")
	fs.StringVar(&f.url, "url", "", "Websocket URL of the remote (ws:// or wss://)")
	fs.StringVar(&f.codec, "codec", "", "Frame codec: json or cbor")
	fs.StringVar(&f.engine, "engine", "", "Path expression engine: expr, cel or js")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: text or json")
	fs.BoolVar(&f.activity, "activity", false, "Emit subscription activity events")
	fs.StringVar(&f.channel, "activity-channel", "", "Channel stamped on activity events")
	fs.BoolVar(&f.metrics, "metrics", false, "Export prometheus metrics")
	fs.StringVar(&f.namespace, "metrics-namespace", "", "Prometheus namespace")
}

func (f *configFlags) changed(name string) bool {
	return f.set != nil && f.set.Changed(name)
}

// overrides returns the flag layer.
func (f *configFlags) overrides() mirror.Config {
	var cfg mirror.Config
	if f.changed("url") {
		cfg.Remote.URL = f.url
	}
	if f.changed("codec") {
		cfg.Remote.Codec = f.codec
	}
	if f.changed("engine") {
		cfg.Evaluator.Engine = f.engine
	}
	if f.changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if f.changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if f.changed("activity") {
		cfg.Activity.Enabled = f.activity
	}
	if f.changed("activity-channel") {
		cfg.Activity.Channel = f.channel
	}
	if f.changed("metrics") {
		cfg.Metrics.Enabled = f.metrics
	}
	if f.changed("metrics-namespace") {
		cfg.Metrics.Namespace = f.namespace
	}
	return cfg
}

func (f *configFlags) load() (mirror.Config, error) {
	cfg, err := mirror.LoadConfig(f.path, f.overrides())
	if err != nil {
		return mirror.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newConfigCommand(flags *configFlags) *cobra.Command {
	var trace bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if trace {
				_, traces, err := mirror.TraceConfig(flags.path, flags.overrides())
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				return enc.Encode(traces)
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return enc.Encode(cfg)
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "print which layer supplied each setting")
	return cmd
}
