package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	mirror "github.com/goliatone/go-treemirror"
	"github.com/goliatone/go-treemirror/pkg/activity"
	"github.com/goliatone/go-treemirror/pkg/activity/promhook"
	"github.com/goliatone/go-treemirror/pkg/wsremote"
)

var errNoPaths = errors.New("watch: give at least one path or --expr")

func newWatchCommand(flags *configFlags) *cobra.Command {
	var (
		exprs       []string
		props       map[string]string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch [path...]",
		Short: "Mirror paths from a server and print every change",
		Long: `Watch dials the server named by --url, subscribes to every path given as
an argument and to every path produced by --expr, and prints one JSON line
per change. Expressions see --prop values under "props".`,
		Example: `  treemirror watch --url ws://localhost:8080/ws rooms/lobby
  treemirror watch --url ws://localhost:8080/ws --prop room=lobby --expr 'path("rooms", props.room, "messages")'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(exprs) == 0 {
				return errNoPaths
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Remote.URL == "" {
				return fmt.Errorf("watch: --url or remote.url is required")
			}
			logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			codec, err := wsremote.CodecByName(cfg.Remote.Codec)
			if err != nil {
				return err
			}
			dialCtx, cancel := context.WithTimeout(ctx, cfg.Remote.DialTimeout)
			client, err := wsremote.Dial(dialCtx, cfg.Remote.URL,
				wsremote.WithCodec(codec),
				wsremote.WithClientLogger(logger),
				wsremote.WithDialTimeout(cfg.Remote.DialTimeout),
				wsremote.WithWriteTimeout(cfg.Remote.WriteTimeout),
			)
			cancel()
			if err != nil {
				return err
			}
			defer client.Close()

			var hooks []activity.ActivityHook
			if cfg.Metrics.Enabled {
				registry := prometheus.NewRegistry()
				hook, err := promhook.New(promhook.Config{Namespace: cfg.Metrics.Namespace, Registry: registry})
				if err != nil {
					return err
				}
				hooks = append(hooks, hook)
				go serveMetrics(ctx, metricsAddr, registry, logger)
			}

			session, err := mirror.NewSession(client, cfg,
				mirror.WithLogger(logger),
				mirror.WithActivityHooks(hooks...),
			)
			if err != nil {
				return err
			}
			defer session.Close()

			paths := make([]mirror.Path, 0, len(args))
			for _, arg := range args {
				paths = append(paths, mirror.PathOf(arg))
			}
			static := session.BindSource(mirror.StaticPaths(paths...))
			bindings := []*mirror.Binding{static}
			if len(exprs) > 0 {
				b, err := session.Bind(exprs, mirror.WithPathLabel("watch"))
				if err != nil {
					return err
				}
				bindings = append(bindings, b)
			}

			p := newPrinter(cmd.OutOrStdout())
			cancelChange := session.OnChange(func(_, next mirror.Tree) {
				p.print(next)
			})
			defer cancelChange()

			input := map[string]any{"props": stringMap(props)}
			var watched []mirror.Path
			for _, b := range bindings {
				if err := b.Update(input); err != nil {
					return err
				}
				watched = append(watched, b.Paths()...)
			}
			p.watch(session.State(), watched)

			select {
			case <-ctx.Done():
			case <-client.Done():
				return wsremote.ErrConnectionLost
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&exprs, "expr", nil, "Path expression evaluated against --prop values (repeatable)")
	cmd.Flags().StringToStringVar(&props, "prop", nil, "Expression input as key=value (repeatable)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Metrics listen address when --metrics is set")
	return cmd
}

func stringMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger mirror.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := listenAndServe(ctx, addr, mux, logger); err != nil {
		logger.Warn("treemirror: metrics server", "error", err)
	}
}

// change is one printed line.
type change struct {
	Key    string    `json:"key"`
	Value  any       `json:"value"`
	Loaded bool      `json:"loaded"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// printer writes a line whenever the value, load state or error of a watched
// path differs from what it last printed.
type printer struct {
	mu    sync.Mutex
	enc   *json.Encoder
	paths []mirror.Path
	seen  map[string]change
	now   func() time.Time
}

func newPrinter(w io.Writer) *printer {
	return &printer{enc: json.NewEncoder(w), seen: make(map[string]change), now: time.Now}
}

// watch replaces the printed paths and prints their state in t.
func (p *printer) watch(t mirror.Tree, paths []mirror.Path) {
	p.mu.Lock()
	p.paths = append([]mirror.Path(nil), paths...)
	p.mu.Unlock()
	p.print(t)
}

func (p *printer) print(t mirror.Tree) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, path := range p.paths {
		snap := mirror.NewSnapshot(t, mirror.LocatePath(path))
		c := change{Key: path.Canonical().Key, Value: snap.Val().Interface(), Loaded: snap.HasLoaded()}
		if err := snap.LastError(); err != nil {
			c.Error = err.Error()
		}
		if prev, ok := p.seen[c.Key]; ok && sameChange(prev, c) {
			continue
		}
		c.At = p.now()
		p.seen[c.Key] = c
		_ = p.enc.Encode(c)
	}
}

func sameChange(a, b change) bool {
	if a.Loaded != b.Loaded || a.Error != b.Error {
		return false
	}
	va, _ := mirror.FromAny(a.Value)
	vb, _ := mirror.FromAny(b.Value)
	return va.Equal(vb)
}
