package mirror

import (
	"errors"
	"fmt"
)

// ErrRemoteClosed is returned by remotes that no longer accept listeners.
var ErrRemoteClosed = errors.New("mirror: remote closed")

// Remote is the push-subscription service the mirror reads from. Ref starts a
// staged query over path; Listen opens a long-lived listener that calls
// deliver for every value or error the service pushes until the listener is
// closed. Deliveries may arrive on any goroutine.
type Remote interface {
	Ref(path string) RemoteQuery
	Listen(q RemoteQuery, deliver func(Delivery)) (Listener, error)
}

// RemoteQuery is the remote service's own staged builder. Implementations may
// reject calls made out of order; ToRemoteQuery always applies options in the
// order the service expects.
type RemoteQuery interface {
	OrderByKey() RemoteQuery
	OrderByChild(path string) RemoteQuery
	OrderByPriority() RemoteQuery
	OrderByValue() RemoteQuery
	LimitToFirst(n int) RemoteQuery
	LimitToLast(n int) RemoteQuery
	StartAt(v Value, key string) RemoteQuery
	EndAt(v Value, key string) RemoteQuery
	EqualTo(v Value, key string) RemoteQuery
}

// Listener is the handle for an open remote listener. Close is the only
// cancellation primitive; deliveries already queued may still arrive after it
// returns.
type Listener interface {
	Close() error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func() error

// Close implements Listener.
func (f ListenerFunc) Close() error {
	if f == nil {
		return nil
	}
	return f()
}

// Delivery is one push from the remote: a value, a patch, or an error.
//
// A Delivery with a nil Patch is a full snapshot of the listened node. A
// non-nil Patch is a partial update keyed by paths relative to the node, where
// a null entry means the child was deleted; Value is ignored then.
type Delivery struct {
	Value Value
	Patch map[string]Value
	Err   error
}

// RemoteError records a failure raised while opening a listener for Key.
type RemoteError struct {
	Key string
	Err error
}

func (e *RemoteError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("mirror: listen %q: %v", e.Key, e.Err)
}

func (e *RemoteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ToRemoteQuery translates spec into r's builder. Options are applied in a
// fixed order: orderBy, limitToFirst, limitToLast, startAt, endAt, equalTo.
func ToRemoteQuery(r Remote, spec QuerySpec) RemoteQuery {
	q := r.Ref(spec.Path)
	if spec.OrderBy != nil {
		switch spec.OrderBy.Type {
		case OrderByKey:
			q = q.OrderByKey()
		case OrderByChild:
			q = q.OrderByChild(spec.OrderBy.ChildPath)
		case OrderByPriority:
			q = q.OrderByPriority()
		case OrderByValue:
			q = q.OrderByValue()
		}
	}
	if spec.LimitToFirst != nil {
		q = q.LimitToFirst(*spec.LimitToFirst)
	}
	if spec.LimitToLast != nil {
		q = q.LimitToLast(*spec.LimitToLast)
	}
	if spec.StartAt != nil {
		q = q.StartAt(spec.StartAt.Value, spec.StartAt.Key)
	}
	if spec.EndAt != nil {
		q = q.EndAt(spec.EndAt.Value, spec.EndAt.Key)
	}
	if spec.EqualTo != nil {
		q = q.EqualTo(spec.EqualTo.Value, spec.EqualTo.Key)
	}
	return q
}

// QueryFor returns the remote query backing p: the translated QuerySpec when
// p carries one, a plain ref otherwise.
func QueryFor(r Remote, p Path) RemoteQuery {
	if p.Query != nil {
		return ToRemoteQuery(r, *p.Query)
	}
	return r.Ref(CanonicalKey(p))
}
