package promhook

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-treemirror/pkg/activity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func subscriptionEvent(build func(activity.SubscriptionEventInput) activity.Event, session, key string, err error) activity.Event {
	event := build(activity.SubscriptionEventInput{Key: key, Err: err, QueryName: "topTen", Channel: "mirror"})
	event.Metadata["session_id"] = session
	return event
}

func TestHookCountsEventsAndOpenListeners(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook, err := New(Config{Namespace: "test", Registry: reg})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	events := []activity.Event{
		subscriptionEvent(activity.BuildSubscriptionOpenedEvent, "s1", "rooms/lobby", nil),
		subscriptionEvent(activity.BuildSubscriptionOpenedEvent, "s2", "rooms/lobby", nil),
		subscriptionEvent(activity.BuildSubscriptionOpenedEvent, "s1", "rooms/ops", nil),
		subscriptionEvent(activity.BuildSubscriptionClosedEvent, "s1", "rooms/lobby", nil),
	}
	for _, event := range events {
		if err := hook.Notify(ctx, event); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}

	if got := testutil.ToFloat64(hook.open); got != 2 {
		t.Fatalf("expected 2 open listeners, got %v", got)
	}
	if got := testutil.ToFloat64(hook.events.WithLabelValues(activity.VerbSubscriptionOpened, "mirror")); got != 3 {
		t.Fatalf("expected 3 opened events, got %v", got)
	}
	if got := testutil.ToFloat64(hook.events.WithLabelValues(activity.VerbSubscriptionClosed, "mirror")); got != 1 {
		t.Fatalf("expected 1 closed event, got %v", got)
	}
}

func TestHookFailedListenerDoesNotGoNegative(t *testing.T) {
	hook, err := New(Config{Registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	failure := errors.New("permission_denied")

	_ = hook.Notify(ctx, subscriptionEvent(activity.BuildSubscriptionFailedEvent, "s1", "secret", failure))
	_ = hook.Notify(ctx, subscriptionEvent(activity.BuildSubscriptionClosedEvent, "s1", "secret", nil))

	if got := testutil.ToFloat64(hook.open); got != 0 {
		t.Fatalf("expected 0 open listeners, got %v", got)
	}
	if got := testutil.ToFloat64(hook.failures.WithLabelValues("topTen")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(Config{Registry: reg})
	if err != nil {
		t.Fatalf("first New failed: %v", err)
	}
	second, err := New(Config{Registry: reg})
	if err != nil {
		t.Fatalf("second New failed: %v", err)
	}

	_ = first.Notify(context.Background(), activity.Event{Verb: activity.VerbAuthChanged, Channel: "mirror"})
	_ = second.Notify(context.Background(), activity.Event{Verb: activity.VerbAuthChanged, Channel: "mirror"})

	if got := testutil.ToFloat64(second.events.WithLabelValues(activity.VerbAuthChanged, "mirror")); got != 2 {
		t.Fatalf("expected shared counter at 2, got %v", got)
	}
}

func TestHookIgnoresEmptyVerb(t *testing.T) {
	hook, err := New(Config{Registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := hook.Notify(context.Background(), activity.Event{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := testutil.CollectAndCount(hook.events); got != 0 {
		t.Fatalf("expected no series, got %d", got)
	}
}
