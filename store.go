package mirror

import (
	"sync"
	"time"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used to stamp LastLoadedTime.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.reducer.Now = now
	}
}

// WithStoreLogger attaches a logger that records every applied event.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *Store) {
		s.logger = loggerOrNop(logger)
	}
}

// WithInitialState seeds the store with t instead of the empty tree.
func WithInitialState(t Tree) StoreOption {
	return func(s *Store) {
		s.state = t
	}
}

// Store owns the latest Tree and folds dispatched events into it. Dispatch
// may be called from any goroutine; events are applied one at a time.
type Store struct {
	mu        sync.Mutex
	reducer   Reducer
	state     Tree
	logger    Logger
	listeners map[uint64]func(prev, next Tree)
	order     []uint64
	nextID    uint64
}

// NewStore constructs a store holding the empty tree.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logger:    NopLogger{},
		listeners: make(map[uint64]func(prev, next Tree)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Dispatch implements EventSink. Change listeners run after the new tree is
// published, outside the store lock, in registration order.
func (s *Store) Dispatch(e Event) {
	s.mu.Lock()
	prev := s.state
	next := s.reducer.Reduce(prev, e)
	if next.version == prev.version {
		s.mu.Unlock()
		return
	}
	s.state = next
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.logger.Debug("mirror: event applied", "event", EventName(e), "version", next.version)
	for _, fn := range listeners {
		fn(prev, next)
	}
}

// State returns the latest tree.
func (s *Store) State() Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnChange registers fn to run after every change. The returned function
// removes it.
func (s *Store) OnChange(fn func(prev, next Tree)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.order = append(s.order, id)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
			for i, existing := range s.order {
				if existing == id {
					s.order = append(s.order[:i:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Store) snapshotListeners() []func(prev, next Tree) {
	if len(s.order) == 0 {
		return nil
	}
	out := make([]func(prev, next Tree), 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.listeners[id])
	}
	return out
}
