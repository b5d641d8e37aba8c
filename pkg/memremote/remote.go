// Package memremote is an in-memory mirror.Remote. It keeps a value tree,
// evaluates queries the way the hosted service does, and pushes a fresh
// result to every affected listener after each write.
package memremote

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	mirror "github.com/goliatone/go-treemirror"
)

var (
	// ErrForeignQuery is returned by Listen for a query built by another remote.
	ErrForeignQuery = errors.New("memremote: query was not built by this remote")
	// ErrPermissionDenied is the conventional error for FailPath.
	ErrPermissionDenied = errors.New("memremote: permission denied")
)

// Option configures a Remote.
type Option func(*Remote)

// WithAsyncDelivery delivers on one goroutine per listener instead of a
// writer's goroutine. In either mode a listener sees results in the order
// the writes were applied, even with concurrent writers.
func WithAsyncDelivery() Option {
	return func(r *Remote) {
		r.async = true
	}
}

// WithPatchDelivery sends partial updates to listeners on plain paths when
// a write lands beneath them. Each patch is keyed by the written path
// relative to the listener, with null for removals. Filtered queries and
// writes at the listener's own path still get full results.
func WithPatchDelivery() Option {
	return func(r *Remote) {
		r.patches = true
	}
}

// WithLogger attaches a logger.
func WithLogger(logger mirror.Logger) Option {
	return func(r *Remote) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithData seeds the tree.
func WithData(v mirror.Value) Option {
	return func(r *Remote) {
		r.root = v
	}
}

type listener struct {
	id    uint64
	query Query
	box   *mailbox
	last  mirror.Value
	sent  bool
}

// Remote is safe for concurrent use.
type Remote struct {
	mu         sync.Mutex
	root       mirror.Value
	priorities map[string]mirror.Value
	failures   map[string]error
	listeners  map[uint64]*listener
	nextID     uint64
	closed     bool
	async      bool
	patches    bool
	logger     mirror.Logger
}

var _ mirror.Remote = (*Remote)(nil)

// New returns an empty remote.
func New(opts ...Option) *Remote {
	r := &Remote{
		priorities: make(map[string]mirror.Value),
		failures:   make(map[string]error),
		listeners:  make(map[uint64]*listener),
		logger:     mirror.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Ref starts a query over path.
func (r *Remote) Ref(path string) mirror.RemoteQuery {
	return Query{remote: r, path: mirror.Normalize(path)}
}

// Listen registers deliver for q and pushes the current result. A path
// blocked by FailPath receives a single error delivery and no listener is
// kept.
func (r *Remote) Listen(q mirror.RemoteQuery, deliver func(mirror.Delivery)) (mirror.Listener, error) {
	query, ok := q.(Query)
	if !ok || query.remote != r {
		return nil, ErrForeignQuery
	}
	if deliver == nil {
		deliver = func(mirror.Delivery) {}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, mirror.ErrRemoteClosed
	}
	if err := r.failureFor(query.path); err != nil {
		r.mu.Unlock()
		r.logger.Debug("memremote: listen denied", "path", query.path, "error", err)
		deliver(mirror.Delivery{Err: err})
		return mirror.ListenerFunc(nil), nil
	}
	r.nextID++
	l := &listener{id: r.nextID, query: query, box: newMailbox(deliver, r.async)}
	r.listeners[l.id] = l
	d, _ := r.resultLocked(l, true)
	l.box.push(d)
	r.mu.Unlock()

	l.box.flush()
	return mirror.ListenerFunc(func() error {
		r.mu.Lock()
		delete(r.listeners, l.id)
		r.mu.Unlock()
		l.box.close()
		return nil
	}), nil
}

// Set replaces the value at path. Null removes it.
func (r *Remote) Set(path string, value any) error {
	v, err := mirror.FromAny(value)
	if err != nil {
		return fmt.Errorf("memremote: set %q: %w", path, err)
	}
	key := mirror.Normalize(path)
	op := &writeOp{path: key, entries: map[string]mirror.Value{"": v}}
	return r.write(op, func() {
		r.root = replaceAt(r.root, mirror.Segments(key), v)
		if v.IsNull() {
			r.dropPriorities(key)
		}
	})
}

// Update writes each child of values under path, leaving other children
// alone. Keys may be multi-segment paths.
func (r *Remote) Update(path string, values map[string]any) error {
	converted := make(map[string]mirror.Value, len(values))
	for key, raw := range values {
		v, err := mirror.FromAny(raw)
		if err != nil {
			return fmt.Errorf("memremote: update %q: %w", path, err)
		}
		converted[key] = v
	}
	base := mirror.Segments(path)
	op := &writeOp{path: mirror.Normalize(path), entries: converted}
	return r.write(op, func() {
		for _, key := range slices.Sorted(maps.Keys(converted)) {
			segments := append(slices.Clip(base), mirror.Segments(key)...)
			r.root = replaceAt(r.root, segments, converted[key])
		}
	})
}

// Remove deletes the value at path.
func (r *Remote) Remove(path string) error {
	return r.Set(path, nil)
}

// SetPriority attaches a priority to the node at path. Null clears it.
func (r *Remote) SetPriority(path string, priority any) error {
	v, err := mirror.FromAny(priority)
	if err != nil {
		return fmt.Errorf("memremote: priority %q: %w", path, err)
	}
	key := mirror.Normalize(path)
	return r.write(nil, func() {
		if v.IsNull() {
			delete(r.priorities, key)
			return
		}
		r.priorities[key] = v
	})
}

// FailPath makes listeners at or below path fail with err. Listeners already
// open there receive err once and are dropped. A nil err lifts the block.
func (r *Remote) FailPath(path string, err error) {
	key := mirror.Normalize(path)
	var failed []*listener
	r.mu.Lock()
	if err == nil {
		delete(r.failures, key)
		r.mu.Unlock()
		return
	}
	r.failures[key] = err
	for _, id := range r.listenerIDs() {
		l := r.listeners[id]
		if within(l.query.path, key) {
			l.box.push(mirror.Delivery{Err: err})
			l.box.closeAfterDrain()
			failed = append(failed, l)
			delete(r.listeners, id)
		}
	}
	r.mu.Unlock()

	for _, l := range failed {
		l.box.flush()
	}
}

// Value returns the stored value at path, ignoring queries.
func (r *Remote) Value(path string) mirror.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root.Get(mirror.Segments(path)...)
}

// Listeners returns the number of open listeners.
func (r *Remote) Listeners() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// Close drops every listener; later Listen calls fail with
// mirror.ErrRemoteClosed.
func (r *Remote) Close() error {
	r.mu.Lock()
	r.closed = true
	listeners := r.listeners
	r.listeners = make(map[uint64]*listener)
	r.mu.Unlock()
	for _, l := range listeners {
		l.box.close()
	}
	return nil
}

// writeOp describes a write for patch delivery: entries are keyed relative
// to path, and the empty key stands for path itself.
type writeOp struct {
	path    string
	entries map[string]mirror.Value
}

// patchFor rebases op onto a plain listener at or above op.path. ok is false
// when the listener needs a full result instead.
func (op *writeOp) patchFor(l *listener) (map[string]mirror.Value, bool) {
	if op == nil || l.query.filtered() || !within(op.path, l.query.path) {
		return nil, false
	}
	rel := op.path
	if l.query.path != "" {
		rel = strings.TrimPrefix(strings.TrimPrefix(op.path, l.query.path), "/")
	}
	patch := make(map[string]mirror.Value, len(op.entries))
	for key, v := range op.entries {
		full := mirror.Normalize(rel + "/" + key)
		if full == "" {
			return nil, false
		}
		patch[full] = v
	}
	return patch, true
}

// write applies a change and queues a delivery for every listener whose
// result moved. Queuing happens under the lock so that each listener sees
// writes in the order they were applied; delivery happens after it.
func (r *Remote) write(op *writeOp, apply func()) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return mirror.ErrRemoteClosed
	}
	apply()
	var touched []*mailbox
	for _, id := range r.listenerIDs() {
		l := r.listeners[id]
		d, changed := r.resultLocked(l, false)
		if !changed {
			continue
		}
		if r.patches {
			if patch, ok := op.patchFor(l); ok {
				d = mirror.Delivery{Patch: patch}
			}
		}
		l.box.push(d)
		touched = append(touched, l.box)
	}
	r.mu.Unlock()

	for _, box := range touched {
		box.flush()
	}
	return nil
}

// resultLocked evaluates l's query and records it. changed is false when the
// result equals the last one delivered.
func (r *Remote) resultLocked(l *listener, force bool) (mirror.Delivery, bool) {
	node := r.root.Get(mirror.Segments(l.query.path)...)
	result := l.query.evaluate(node, r.childPriorities(l.query.path))
	if !force && l.sent && result.Equal(l.last) {
		return mirror.Delivery{}, false
	}
	l.last = result
	l.sent = true
	return mirror.Delivery{Value: result}, true
}

func (r *Remote) listenerIDs() []uint64 {
	ids := make([]uint64, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func (r *Remote) childPriorities(path string) map[string]mirror.Value {
	if len(r.priorities) == 0 {
		return nil
	}
	prefix := path + "/"
	if path == "" {
		prefix = ""
	}
	out := make(map[string]mirror.Value)
	for key, p := range r.priorities {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		out[rest] = p
	}
	return out
}

func (r *Remote) dropPriorities(path string) {
	for key := range r.priorities {
		if within(key, path) {
			delete(r.priorities, key)
		}
	}
}

func (r *Remote) failureFor(path string) error {
	for prefix, err := range r.failures {
		if within(path, prefix) {
			return err
		}
	}
	return nil
}

// within reports whether path equals prefix or lies beneath it.
func within(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func replaceAt(root mirror.Value, segments []string, v mirror.Value) mirror.Value {
	if len(segments) == 0 {
		return v
	}
	child := replaceAt(root.Child(segments[0]), segments[1:], v)
	return root.With(segments[0], child)
}
