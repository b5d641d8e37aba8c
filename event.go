package mirror

// Event is a lifecycle record folded into the tree by the Reducer. The set of
// events is closed: only the types declared in this package satisfy it.
type Event interface {
	eventName() string
}

// FetchStarted is emitted when a listener for Path is opened.
type FetchStarted struct {
	Path Path
}

// NodeValueReceived carries a push from the remote for Path. Without a Patch
// the push is a full snapshot and Value replaces whatever the mirror holds at
// Path. With a Patch only the named children change; see PatchDeep.
type NodeValueReceived struct {
	Path  Path
	Value Value
	Patch map[string]Value
}

// QueryNamed is emitted when another consumer joins a live query under a
// name of its own, so that name resolves to the shared key as well.
type QueryNamed struct {
	Path Path
}

// ListeningStopped is emitted when the last consumer of Path unsubscribes.
type ListeningStopped struct {
	Path Path
}

// SubscriptionError carries an error pushed by the remote for Path. The
// subscription stays registered.
type SubscriptionError struct {
	Path Path
	Err  error
}

// AuthFetchStarted is emitted when an AuthMirror starts observing identity.
type AuthFetchStarted struct{}

// AuthStateChanged carries the current identity; a nil User means signed out.
type AuthStateChanged struct {
	User *UserInfo
}

// AuthError carries an error from the identity source.
type AuthError struct {
	Err error
}

func (FetchStarted) eventName() string      { return "fetch_started" }
func (NodeValueReceived) eventName() string { return "node_value_received" }
func (QueryNamed) eventName() string        { return "query_named" }
func (ListeningStopped) eventName() string  { return "listening_stopped" }
func (SubscriptionError) eventName() string { return "subscription_error" }
func (AuthFetchStarted) eventName() string  { return "auth_fetch_started" }
func (AuthStateChanged) eventName() string  { return "auth_state_changed" }
func (AuthError) eventName() string         { return "auth_error" }

// EventName returns a stable label for e, used in logs.
func EventName(e Event) string {
	if e == nil {
		return "unknown"
	}
	return e.eventName()
}

// EventSink receives lifecycle events.
type EventSink interface {
	Dispatch(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

// Dispatch implements EventSink.
func (f SinkFunc) Dispatch(e Event) {
	if f != nil {
		f(e)
	}
}
