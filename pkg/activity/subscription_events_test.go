package activity

import (
	"context"
	"errors"
	"testing"
)

func TestBuildSubscriptionFailedEventIncludesSessionMetadata(t *testing.T) {
	meta := map[string]any{"custom": "value"}
	sessionMeta := map[string]any{"region": "eu"}
	input := SubscriptionEventInput{
		ActorID:   " actor ",
		UserID:    " user ",
		TenantID:  " tenant ",
		Key:       "rooms/lobby",
		QueryName: "lobby",
		Err:       errors.New("permission denied"),
		Metadata:  meta,
		Session:   SessionContext{ID: "sess-1", Label: "web", Metadata: sessionMeta},
		Channel:   "mirror",
	}

	event := BuildSubscriptionFailedEvent(input)

	if event.Verb != VerbSubscriptionFailed {
		t.Fatalf("expected verb %s got %s", VerbSubscriptionFailed, event.Verb)
	}
	if event.ObjectType != ObjectTypeSubscription || event.ObjectID != "rooms/lobby" {
		t.Fatalf("unexpected object fields: %+v", event)
	}
	if event.ActorID != "actor" || event.UserID != "user" || event.TenantID != "tenant" {
		t.Fatalf("unexpected identity fields: %+v", event)
	}
	if event.Key != "rooms/lobby" || event.Query != "lobby" {
		t.Fatalf("expected key fields, got %+v", event)
	}
	if event.Metadata["key"] != "rooms/lobby" || event.Metadata["query_name"] != "lobby" {
		t.Fatalf("expected key metadata, got %+v", event.Metadata)
	}
	if event.Metadata["error"] != "permission denied" {
		t.Fatalf("expected error metadata, got %v", event.Metadata["error"])
	}
	if event.Metadata["session_id"] != "sess-1" || event.Metadata["session_label"] != "web" {
		t.Fatalf("expected session metadata, got %+v", event.Metadata)
	}
	sessionMetadata, ok := event.Metadata["session_metadata"].(map[string]any)
	if !ok || sessionMetadata["region"] != "eu" {
		t.Fatalf("expected session_metadata clone, got %v", event.Metadata["session_metadata"])
	}
	if _, ok := meta["key"]; ok {
		t.Fatalf("expected input metadata untouched")
	}
}

func TestBuildSubscriptionClosedEventUsesFallbackObjectID(t *testing.T) {
	event := BuildSubscriptionClosedEvent(SubscriptionEventInput{})
	if event.ObjectID != ObjectTypeSubscription {
		t.Fatalf("expected fallback object ID %q, got %q", ObjectTypeSubscription, event.ObjectID)
	}
}

func TestBuildAuthChangedEventPrefersSessionID(t *testing.T) {
	event := BuildAuthChangedEvent(SubscriptionEventInput{Session: SessionContext{ID: "sess-42"}})
	if event.Verb != VerbAuthChanged {
		t.Fatalf("expected verb %s got %s", VerbAuthChanged, event.Verb)
	}
	if event.ObjectType != ObjectTypeAuth || event.ObjectID != "sess-42" {
		t.Fatalf("unexpected object fields: %+v", event)
	}
}

func TestBuildSubscriptionEventsWorkWithHooks(t *testing.T) {
	capture := &CaptureHook{}
	hooks := Hooks{capture}

	err := hooks.Notify(context.Background(), BuildSubscriptionOpenedEvent(SubscriptionEventInput{Key: "a/b"}))
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if verbs := capture.Verbs(); len(verbs) != 1 || verbs[0] != VerbSubscriptionOpened {
		t.Fatalf("expected one %s event, got %v", VerbSubscriptionOpened, verbs)
	}
	capture.Reset()
	if len(capture.Verbs()) != 0 {
		t.Fatalf("expected reset to clear events")
	}
}
