package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	mirror "github.com/goliatone/go-treemirror"
	"github.com/goliatone/go-treemirror/pkg/memremote"
	"github.com/goliatone/go-treemirror/pkg/wsremote"
)

func newServeCommand(flags *configFlags) *cobra.Command {
	var (
		addr string
		seed string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory tree over websocket",
		Long: `Serve starts an in-memory tree, optionally seeded from a YAML or JSON
file, and accepts listeners on /ws. Metrics are served on /metrics when
enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

			data := mirror.Null()
			if seed != "" {
				if data, err = loadSeed(seed); err != nil {
					return err
				}
			}
			backend := memremote.New(
				memremote.WithData(data),
				memremote.WithAsyncDelivery(),
				memremote.WithLogger(logger),
			)
			defer backend.Close()

			ws := wsremote.NewServer(backend,
				wsremote.WithServerLogger(logger),
				wsremote.WithServerWriteTimeout(cfg.Remote.WriteTimeout),
			)
			defer ws.Close()

			handler, err := serveMux(ws, cfg.Metrics)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return listenAndServe(ctx, addr, handler, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&seed, "seed", "", "YAML or JSON file with the initial tree")
	return cmd
}

func serveMux(ws *wsremote.Server, metrics mirror.MetricsConfig) (http.Handler, error) {
	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if metrics.Enabled {
		registry := prometheus.NewRegistry()
		sessions := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "server",
			Name:      "sessions",
			Help:      "Connected websocket sessions.",
		}, func() float64 { return float64(ws.Sessions()) })
		if err := registry.Register(sessions); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return mux, nil
}

func listenAndServe(ctx context.Context, addr string, handler http.Handler, logger mirror.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("treemirror: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("treemirror: shutting down")
	return srv.Shutdown(shutdownCtx)
}

// loadSeed reads a tree from path. Files ending in .json are decoded as
// JSON, anything else as YAML.
func loadSeed(path string) (mirror.Value, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return mirror.Null(), fmt.Errorf("read seed: %w", err)
	}
	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(raw, &doc)
	default:
		err = yaml.Unmarshal(raw, &doc)
	}
	if err != nil {
		return mirror.Null(), fmt.Errorf("parse seed %s: %w", path, err)
	}
	v, err := mirror.FromAny(doc)
	if err != nil {
		return mirror.Null(), fmt.Errorf("seed %s: %w", path, err)
	}
	return v, nil
}
