package mirror

import (
	"context"
	"errors"

	"github.com/goliatone/go-treemirror/pkg/activity"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger attaches a logger for listener lifecycle diagnostics.
func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = loggerOrNop(logger)
	}
}

// WithActivity reports listener lifecycle transitions to emitter.
func WithActivity(emitter *activity.Emitter) ManagerOption {
	return func(m *Manager) {
		m.activity = emitter
	}
}

type subscription struct {
	path     Path
	count    int
	listener Listener
}

// Manager is the reference-counted registry of live remote listeners. Each
// canonical key has at most one listener no matter how many consumers ask
// for it; the listener is closed when the last consumer leaves.
//
// A Manager is confined to a single goroutine. Remote deliveries never touch
// the registry; they only dispatch events to the sink.
type Manager struct {
	remote   Remote
	sink     EventSink
	subs     map[string]*subscription
	logger   Logger
	activity *activity.Emitter
}

// NewManager constructs a manager that opens listeners on remote and reports
// lifecycle events to sink.
func NewManager(remote Remote, sink EventSink, opts ...ManagerOption) *Manager {
	if sink == nil {
		sink = SinkFunc(nil)
	}
	m := &Manager{
		remote: remote,
		sink:   sink,
		subs:   make(map[string]*subscription),
		logger: NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Watch moves a consumer from prev to next. New keys are subscribed before
// dropped keys are unsubscribed so that a key shared by both sets never
// reaches zero.
func (m *Manager) Watch(prev, next PathSet) {
	prev = NewPathSet(prev.Paths()...)
	next = NewPathSet(next.Paths()...)
	m.Subscribe(Diff(next, prev)...)
	m.Unsubscribe(Diff(prev, next)...)
}

// Subscribe adds one consumer for each path. The first consumer of a key
// opens its listener and emits FetchStarted; a later consumer of a query key
// emits QueryNamed so its own name resolves too.
func (m *Manager) Subscribe(paths ...Path) {
	for _, p := range paths {
		p = p.Canonical()
		if sub, ok := m.subs[p.Key]; ok {
			sub.count++
			if p.Query != nil {
				m.sink.Dispatch(QueryNamed{Path: p})
			}
			continue
		}
		m.open(p)
	}
}

// Unsubscribe removes one consumer for each path. Unknown paths are ignored.
// The last consumer of a key emits ListeningStopped and closes the listener.
func (m *Manager) Unsubscribe(paths ...Path) {
	for _, p := range paths {
		p = p.Canonical()
		sub, ok := m.subs[p.Key]
		if !ok {
			continue
		}
		if sub.count > 1 {
			sub.count--
			continue
		}
		m.closeSub(sub)
	}
}

// Close closes every live listener regardless of its consumer count.
func (m *Manager) Close() error {
	var errs []error
	for _, key := range m.Keys() {
		if err := m.closeSub(m.subs[key]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of consumers registered for key.
func (m *Manager) Count(key string) int {
	if sub, ok := m.subs[key]; ok {
		return sub.count
	}
	return 0
}

// Keys returns the live canonical keys, sorted.
func (m *Manager) Keys() []string {
	set := make(PathSet, len(m.subs))
	for key, sub := range m.subs {
		set[key] = sub.path
	}
	return set.Keys()
}

// Len returns the number of live keys.
func (m *Manager) Len() int {
	return len(m.subs)
}

func (m *Manager) open(p Path) {
	sub := &subscription{path: p, count: 1, listener: ListenerFunc(nil)}
	m.subs[p.Key] = sub
	m.sink.Dispatch(FetchStarted{Path: p})

	if m.remote == nil {
		m.fail(p, &RemoteError{Key: p.Key, Err: ErrRemoteClosed})
		return
	}
	listener, err := m.remote.Listen(QueryFor(m.remote, p), m.deliver(p))
	if err != nil {
		m.fail(p, &RemoteError{Key: p.Key, Err: err})
		return
	}
	if listener != nil {
		sub.listener = listener
	}
	m.logger.Debug("mirror: listener opened", "key", p.Key)
	m.emit(activity.BuildSubscriptionOpenedEvent(m.activityInput(p, nil)))
}

func (m *Manager) fail(p Path, err error) {
	m.logger.Warn("mirror: listener failed", "key", p.Key, "error", err)
	m.sink.Dispatch(SubscriptionError{Path: p, Err: err})
	m.emit(activity.BuildSubscriptionFailedEvent(m.activityInput(p, err)))
}

func (m *Manager) closeSub(sub *subscription) error {
	delete(m.subs, sub.path.Key)
	m.sink.Dispatch(ListeningStopped{Path: sub.path})
	err := sub.listener.Close()
	if err != nil {
		m.logger.Warn("mirror: listener close failed", "key", sub.path.Key, "error", err)
	} else {
		m.logger.Debug("mirror: listener closed", "key", sub.path.Key)
	}
	m.emit(activity.BuildSubscriptionClosedEvent(m.activityInput(sub.path, err)))
	return err
}

// deliver runs on the remote's goroutine and only touches the sink.
func (m *Manager) deliver(p Path) func(Delivery) {
	sink := m.sink
	return func(d Delivery) {
		if d.Err != nil {
			sink.Dispatch(SubscriptionError{Path: p, Err: d.Err})
			return
		}
		sink.Dispatch(NodeValueReceived{Path: p, Value: d.Value, Patch: d.Patch})
	}
}

func (m *Manager) activityInput(p Path, err error) activity.SubscriptionEventInput {
	input := activity.SubscriptionEventInput{Key: p.Key, Err: err}
	if p.Query != nil {
		input.QueryName = p.Query.Name
	}
	return input
}

func (m *Manager) emit(event activity.Event) {
	if !m.activity.Enabled() {
		return
	}
	if err := m.activity.Emit(context.Background(), event); err != nil {
		m.logger.Warn("mirror: activity hook failed", "verb", event.Verb, "error", err)
	}
}
