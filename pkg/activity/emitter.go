package activity

import (
	"context"
	"strings"
)

// DefaultChannel is stamped on events when neither the event nor the Config
// names a channel.
const DefaultChannel = "mirror"

// Config carries the session-level defaults of an Emitter. ActorID and
// TenantID fill events that do not name their own; SessionID is added to
// metadata as session_id.
type Config struct {
	Enabled   bool
	Channel   string
	ActorID   string
	TenantID  string
	SessionID string
}

// Emitter sends events to hooks after filling in session defaults. A nil or
// disabled Emitter drops everything.
type Emitter struct {
	hooks    Hooks
	defaults Event
	session  string
}

func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	e := &Emitter{
		defaults: Event{
			Channel:  strings.TrimSpace(cfg.Channel),
			ActorID:  strings.TrimSpace(cfg.ActorID),
			TenantID: strings.TrimSpace(cfg.TenantID),
		},
		session: strings.TrimSpace(cfg.SessionID),
	}
	if e.defaults.Channel == "" {
		e.defaults.Channel = DefaultChannel
	}
	if cfg.Enabled {
		for _, hook := range hooks {
			if hook != nil {
				e.hooks = append(e.hooks, hook)
			}
		}
	}
	return e
}

// Enabled reports whether Emit would reach any hook.
func (e *Emitter) Enabled() bool {
	return e != nil && len(e.hooks) > 0
}

// Session returns the session id stamped on emitted events.
func (e *Emitter) Session() string {
	if e == nil {
		return ""
	}
	return e.session
}

func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	return e.hooks.Notify(ctx, e.withDefaults(event))
}

func (e *Emitter) withDefaults(event Event) Event {
	fill := func(field *string, fallback string) {
		if strings.TrimSpace(*field) == "" {
			*field = fallback
		}
	}
	fill(&event.Channel, e.defaults.Channel)
	fill(&event.ActorID, e.defaults.ActorID)
	fill(&event.TenantID, e.defaults.TenantID)

	if e.session == "" {
		return event
	}
	if _, ok := event.Metadata["session_id"]; !ok {
		metadata := ensureMetadata(cloneMap(event.Metadata))
		metadata["session_id"] = e.session
		event.Metadata = metadata
	}
	return event
}
