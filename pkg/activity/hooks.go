package activity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Event is one lifecycle occurrence of a mirror session. Identity fields are
// plain strings so callers are not tied to a particular id type.
type Event struct {
	Verb       string
	ActorID    string
	UserID     string
	TenantID   string
	ObjectType string
	ObjectID   string
	Channel    string
	// Key is the canonical key of the mirrored node, empty for auth events.
	Key string
	// Query is the name of the query backing Key, if any.
	Query      string
	Metadata   map[string]any
	OccurredAt time.Time
}

// Complete reports whether the event names a verb and an object. Hooks drop
// incomplete events.
func (e Event) Complete() bool {
	return strings.TrimSpace(e.Verb) != "" &&
		strings.TrimSpace(e.ObjectType) != "" &&
		strings.TrimSpace(e.ObjectID) != ""
}

// ActivityHook receives normalized activity events.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc adapts a function to ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

// Notify calls fn.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans one event out to every hook.
type Hooks []ActivityHook

// Enabled reports whether there is anything to notify.
func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify normalizes event and hands it to each hook in order. Incomplete
// events are dropped silently. Hook failures do not stop the fan-out and are
// returned joined.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 || !event.Complete() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	normalized := NormalizeEvent(event)

	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, normalized); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NormalizeEvent returns a trimmed copy of event with its own metadata map
// and a timestamp.
func NormalizeEvent(event Event) Event {
	for _, field := range []*string{
		&event.Verb, &event.ActorID, &event.UserID, &event.TenantID,
		&event.ObjectType, &event.ObjectID, &event.Channel, &event.Key, &event.Query,
	} {
		*field = strings.TrimSpace(*field)
	}
	event.Metadata = cloneMap(event.Metadata)
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	return event
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

// Filter wraps hook so that it only sees events keep accepts.
func Filter(hook ActivityHook, keep func(Event) bool) ActivityHook {
	if hook == nil || keep == nil {
		return hook
	}
	return HookFunc(func(ctx context.Context, event Event) error {
		if !keep(event) {
			return nil
		}
		return hook.Notify(ctx, event)
	})
}

// OnlyVerbs wraps hook so that it only sees events whose verb is listed. An
// empty list forwards everything.
func OnlyVerbs(hook ActivityHook, verbs ...string) ActivityHook {
	if len(verbs) == 0 {
		return hook
	}
	allowed := make(map[string]struct{}, len(verbs))
	for _, verb := range verbs {
		allowed[strings.TrimSpace(verb)] = struct{}{}
	}
	return Filter(hook, func(event Event) bool {
		_, ok := allowed[strings.TrimSpace(event.Verb)]
		return ok
	})
}

// UnderKey wraps hook so that it only sees events for prefix or a key below
// it. Events without a key, such as auth changes, are dropped.
func UnderKey(hook ActivityHook, prefix string) ActivityHook {
	prefix = strings.Trim(prefix, "/")
	return Filter(hook, func(event Event) bool {
		key := strings.TrimSpace(event.Key)
		if key == "" {
			return false
		}
		return prefix == "" || key == prefix || strings.HasPrefix(key, prefix+"/")
	})
}
