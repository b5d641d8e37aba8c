package mirror

import (
	"errors"
	"strings"
	"sync"
)

// fakeRemote records every listener it opens and closes. Listeners are keyed
// by the ref path followed by the builder calls, e.g.
// "scores|orderByChild(score)|limitToLast(2)".
type fakeRemote struct {
	mu       sync.Mutex
	opened   []string
	closed   []string
	live     map[string]func(Delivery)
	failures map[string]error
	closeErr map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		live:     make(map[string]func(Delivery)),
		failures: make(map[string]error),
		closeErr: make(map[string]error),
	}
}

type fakeQuery struct {
	remote *fakeRemote
	path   string
	calls  []string
}

func (q fakeQuery) with(call string) RemoteQuery {
	q.calls = append(append([]string(nil), q.calls...), call)
	return q
}

func (q fakeQuery) key() string {
	return strings.Join(append([]string{q.path}, q.calls...), "|")
}

func (q fakeQuery) OrderByKey() RemoteQuery           { return q.with("orderByKey()") }
func (q fakeQuery) OrderByChild(p string) RemoteQuery { return q.with("orderByChild(" + p + ")") }
func (q fakeQuery) OrderByPriority() RemoteQuery      { return q.with("orderByPriority()") }
func (q fakeQuery) OrderByValue() RemoteQuery         { return q.with("orderByValue()") }
func (q fakeQuery) LimitToFirst(n int) RemoteQuery    { return q.with("limitToFirst(" + formatNumber(float64(n)) + ")") }
func (q fakeQuery) LimitToLast(n int) RemoteQuery     { return q.with("limitToLast(" + formatNumber(float64(n)) + ")") }
func (q fakeQuery) StartAt(v Value, key string) RemoteQuery {
	return q.with("startAt(" + v.String() + "," + key + ")")
}
func (q fakeQuery) EndAt(v Value, key string) RemoteQuery {
	return q.with("endAt(" + v.String() + "," + key + ")")
}
func (q fakeQuery) EqualTo(v Value, key string) RemoteQuery {
	return q.with("equalTo(" + v.String() + "," + key + ")")
}

func (r *fakeRemote) Ref(path string) RemoteQuery {
	return fakeQuery{remote: r, path: path}
}

func (r *fakeRemote) Listen(q RemoteQuery, deliver func(Delivery)) (Listener, error) {
	fq, ok := q.(fakeQuery)
	if !ok {
		return nil, errors.New("fake: foreign query")
	}
	key := fq.key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[key]; err != nil {
		return nil, err
	}
	r.opened = append(r.opened, key)
	r.live[key] = deliver
	return ListenerFunc(func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closed = append(r.closed, key)
		delete(r.live, key)
		return r.closeErr[key]
	}), nil
}

func (r *fakeRemote) push(key string, v Value) bool {
	r.mu.Lock()
	deliver := r.live[key]
	r.mu.Unlock()
	if deliver == nil {
		return false
	}
	deliver(Delivery{Value: v})
	return true
}

func (r *fakeRemote) pushErr(key string, err error) bool {
	r.mu.Lock()
	deliver := r.live[key]
	r.mu.Unlock()
	if deliver == nil {
		return false
	}
	deliver(Delivery{Err: err})
	return true
}

func (r *fakeRemote) counts() (opened, closed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.opened), len(r.closed)
}

func (r *fakeRemote) liveKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(PathSet, len(r.live))
	for key := range r.live {
		set[key] = Path{Key: key}
	}
	return set.Keys()
}

// recordingSink keeps every dispatched event.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Dispatch(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = EventName(e)
	}
	return out
}
