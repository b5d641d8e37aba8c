// Package usersink forwards mirror activity to a go-users ActivitySink.
package usersink

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/goliatone/go-treemirror/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook adapts mirror activity events to a go-users ActivitySink.
//
// Identity fields that do not parse as UUIDs are recorded as uuid.Nil; the
// raw strings are kept in the record data under actor_ref, user_ref and
// tenant_ref so that non-UUID identities (e.g. provider uids) are not lost.
// DefaultTenant is used when the event names no parseable tenant.
type Hook struct {
	Sink          usertypes.ActivitySink
	DefaultTenant uuid.UUID
}

// Notify maps the event into an ActivityRecord and forwards it to the sink.
// Incomplete events are dropped.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil || !event.Complete() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event = activity.NormalizeEvent(event)

	data := recordData{values: maps.Clone(event.Metadata)}
	record := usertypes.ActivityRecord{
		ActorID:    data.identity("actor_ref", event.ActorID),
		UserID:     data.identity("user_ref", event.UserID),
		TenantID:   data.identity("tenant_ref", event.TenantID),
		Verb:       event.Verb,
		ObjectType: event.ObjectType,
		ObjectID:   event.ObjectID,
		Channel:    event.Channel,
		OccurredAt: event.OccurredAt,
	}
	if record.TenantID == uuid.Nil {
		record.TenantID = h.DefaultTenant
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}
	data.fallback("key", event.Key)
	data.fallback("query_name", event.Query)
	record.Data = data.values

	return h.Sink.Log(ctx, record)
}

// recordData accumulates the free-form data of a record, allocating only
// when something is written.
type recordData struct {
	values map[string]any
}

func (d *recordData) set(key string, value any) {
	if d.values == nil {
		d.values = map[string]any{}
	}
	d.values[key] = value
}

// fallback sets key unless the metadata already carries it or value is empty.
func (d *recordData) fallback(key, value string) {
	if value == "" {
		return
	}
	if _, ok := d.values[key]; ok {
		return
	}
	d.set(key, value)
}

// identity parses raw as a UUID. Anything else is kept under refKey.
func (d *recordData) identity(refKey, raw string) uuid.UUID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		d.set(refKey, raw)
		return uuid.Nil
	}
	return id
}
