package activity

import (
	"strings"
	"time"
)

const (
	// VerbSubscriptionOpened is emitted when a remote listener is opened.
	VerbSubscriptionOpened = "mirror.subscription.opened"
	// VerbSubscriptionClosed is emitted when the last consumer of a key leaves.
	VerbSubscriptionClosed = "mirror.subscription.closed"
	// VerbSubscriptionFailed is emitted when a listener cannot be opened.
	VerbSubscriptionFailed = "mirror.subscription.failed"
	// VerbAuthChanged is emitted when the mirrored identity changes.
	VerbAuthChanged = "mirror.auth.changed"

	ObjectTypeSubscription = "mirror.subscription"
	ObjectTypeAuth         = "mirror.auth"
)

// SessionContext identifies the mirror session an event belongs to.
type SessionContext struct {
	ID       string
	Label    string
	Metadata map[string]any
}

// SubscriptionEventInput describes the common fields for subscription
// lifecycle events.
type SubscriptionEventInput struct {
	ActorID    string
	UserID     string
	TenantID   string
	ObjectID   string
	Channel    string
	Metadata   map[string]any
	Key        string
	QueryName  string
	Err        error
	Session    SessionContext
	OccurredAt time.Time
}

// BuildSubscriptionOpenedEvent constructs an event for a newly opened listener.
func BuildSubscriptionOpenedEvent(input SubscriptionEventInput) Event {
	return buildSubscriptionEvent(VerbSubscriptionOpened, ObjectTypeSubscription, input)
}

// BuildSubscriptionClosedEvent constructs an event for a closed listener.
func BuildSubscriptionClosedEvent(input SubscriptionEventInput) Event {
	return buildSubscriptionEvent(VerbSubscriptionClosed, ObjectTypeSubscription, input)
}

// BuildSubscriptionFailedEvent constructs an event for a listener that could
// not be opened.
func BuildSubscriptionFailedEvent(input SubscriptionEventInput) Event {
	return buildSubscriptionEvent(VerbSubscriptionFailed, ObjectTypeSubscription, input)
}

// BuildAuthChangedEvent constructs an event for an identity change. ObjectID
// should carry the user id; signed-out transitions fall back to the session.
func BuildAuthChangedEvent(input SubscriptionEventInput) Event {
	return buildSubscriptionEvent(VerbAuthChanged, ObjectTypeAuth, input)
}

func buildSubscriptionEvent(verb, objectType string, input SubscriptionEventInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.Key != "" {
		metadata = ensureMetadata(metadata)
		metadata["key"] = input.Key
	}
	if input.QueryName != "" {
		metadata = ensureMetadata(metadata)
		metadata["query_name"] = input.QueryName
	}
	if input.Err != nil {
		metadata = ensureMetadata(metadata)
		metadata["error"] = input.Err.Error()
	}
	if input.Session.ID != "" {
		metadata = ensureMetadata(metadata)
		metadata["session_id"] = input.Session.ID
		if input.Session.Label != "" {
			metadata["session_label"] = input.Session.Label
		}
		if len(input.Session.Metadata) > 0 {
			metadata["session_metadata"] = cloneMap(input.Session.Metadata)
		}
	}

	objectID := strings.TrimSpace(input.ObjectID)
	if objectID == "" {
		objectID = strings.TrimSpace(input.Key)
	}
	if objectID == "" {
		objectID = strings.TrimSpace(input.Session.ID)
	}
	if objectID == "" {
		objectID = objectType
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Key:        strings.TrimSpace(input.Key),
		Query:      strings.TrimSpace(input.QueryName),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
