// Package promhook exports mirror activity as prometheus metrics.
package promhook

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/goliatone/go-treemirror/pkg/activity"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrRegistrationFailed wraps collector registration errors other than
// prometheus.AlreadyRegisteredError.
var ErrRegistrationFailed = errors.New("promhook: metric registration failed")

// Config names the metrics. Registry defaults to prometheus.DefaultRegisterer.
type Config struct {
	Namespace string
	Subsystem string
	Registry  prometheus.Registerer
}

// Hook counts activity events by verb and tracks how many listeners are open
// per session.
type Hook struct {
	events   *prometheus.CounterVec
	failures *prometheus.CounterVec
	open     prometheus.Gauge

	mu   sync.Mutex
	live map[string]struct{}
}

// New builds a Hook and registers its collectors. Collectors that are
// already registered are reused.
func New(cfg Config) (*Hook, error) {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = "treemirror"
	}
	subsystem := strings.TrimSpace(cfg.Subsystem)
	if subsystem == "" {
		subsystem = "activity"
	}

	h := &Hook{live: make(map[string]struct{})}
	h.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "events_total",
		Help:      "Mirror activity events by verb and channel.",
	}, []string{"verb", "channel"})
	h.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "subscription_failures_total",
		Help:      "Listeners that could not be opened, by query name.",
	}, []string{"query"})
	h.open = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "open_listeners",
		Help:      "Remote listeners currently open.",
	})

	var err error
	if h.events, err = register(registry, h.events); err != nil {
		return nil, err
	}
	if h.failures, err = register(registry, h.failures); err != nil {
		return nil, err
	}
	if h.open, err = register(registry, h.open); err != nil {
		return nil, err
	}
	return h, nil
}

func register[C prometheus.Collector](registry prometheus.Registerer, c C) (C, error) {
	if err := registry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Join(ErrRegistrationFailed, err)
	}
	return c, nil
}

// Notify implements activity.ActivityHook.
func (h *Hook) Notify(_ context.Context, event activity.Event) error {
	verb := strings.TrimSpace(event.Verb)
	if verb == "" {
		return nil
	}
	h.events.WithLabelValues(verb, event.Channel).Inc()

	switch verb {
	case activity.VerbSubscriptionOpened:
		h.track(liveKey(event), true)
	case activity.VerbSubscriptionClosed:
		h.track(liveKey(event), false)
	case activity.VerbSubscriptionFailed:
		h.failures.WithLabelValues(event.Query).Inc()
	}
	return nil
}

func (h *Hook) track(key string, opened bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if opened {
		h.live[key] = struct{}{}
	} else {
		delete(h.live, key)
	}
	h.open.Set(float64(len(h.live)))
}

// liveKey scopes the listener key by session so several sessions can share
// one Hook.
func liveKey(event activity.Event) string {
	key := event.Key
	if key == "" {
		key = event.ObjectID
	}
	session, _ := event.Metadata["session_id"].(string)
	return session + "\x00" + key
}
