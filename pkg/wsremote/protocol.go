// Package wsremote carries mirror listeners over a websocket. Client is a
// mirror.Remote that forwards Listen calls to a Server, which opens them on
// any other mirror.Remote and streams the deliveries back.
package wsremote

import (
	"fmt"

	mirror "github.com/goliatone/go-treemirror"
)

// MessageType tags every frame.
type MessageType string

const (
	// MessageListen asks the server to open a listener (client to server).
	MessageListen MessageType = "listen"
	// MessageUnlisten closes a listener (client to server).
	MessageUnlisten MessageType = "unlisten"
	// MessageAck confirms a listen or unlisten (server to client).
	MessageAck MessageType = "ack"
	// MessageValue carries a delivered value (server to client).
	MessageValue MessageType = "value"
	// MessagePatch carries a partial update (server to client). Patch keys
	// are paths relative to the listener; a null entry is a removal.
	MessagePatch MessageType = "patch"
	// MessageError carries a delivered or listen error (server to client).
	MessageError MessageType = "error"
)

// Message is the single frame shape used in both directions. ID is the
// client-chosen subscription id.
type Message struct {
	Type  MessageType `json:"type" cbor:"type"`
	ID    string      `json:"id,omitempty" cbor:"id,omitempty"`
	Path  string      `json:"path,omitempty" cbor:"path,omitempty"`
	Query *WireQuery  `json:"query,omitempty" cbor:"query,omitempty"`
	Value any            `json:"value" cbor:"value"`
	Patch map[string]any `json:"patch,omitempty" cbor:"patch,omitempty"`
	Error string         `json:"error,omitempty" cbor:"error,omitempty"`
}

func patchMessage(id string, patch map[string]mirror.Value) Message {
	out := make(map[string]any, len(patch))
	for key, v := range patch {
		out[key] = v.Interface()
	}
	return Message{Type: MessagePatch, ID: id, Patch: out}
}

func (m Message) delivery() (mirror.Delivery, error) {
	if m.Type != MessagePatch {
		v, err := mirror.FromAny(m.Value)
		return mirror.Delivery{Value: v}, err
	}
	patch := make(map[string]mirror.Value, len(m.Patch))
	for key, raw := range m.Patch {
		v, err := mirror.FromAny(raw)
		if err != nil {
			return mirror.Delivery{}, fmt.Errorf("patch key %q: %w", key, err)
		}
		patch[key] = v
	}
	return mirror.Delivery{Patch: patch}, nil
}

// WireQuery is the serialized form of a staged remote query.
type WireQuery struct {
	OrderBy      string     `json:"orderBy,omitempty" cbor:"orderBy,omitempty"`
	ChildPath    string     `json:"childPath,omitempty" cbor:"childPath,omitempty"`
	LimitToFirst int        `json:"limitToFirst,omitempty" cbor:"limitToFirst,omitempty"`
	LimitToLast  int        `json:"limitToLast,omitempty" cbor:"limitToLast,omitempty"`
	StartAt      *WireBound `json:"startAt,omitempty" cbor:"startAt,omitempty"`
	EndAt        *WireBound `json:"endAt,omitempty" cbor:"endAt,omitempty"`
	EqualTo      *WireBound `json:"equalTo,omitempty" cbor:"equalTo,omitempty"`
}

// WireBound is a range endpoint.
type WireBound struct {
	Value any    `json:"value" cbor:"value"`
	Key   string `json:"key,omitempty" cbor:"key,omitempty"`
}

func (w WireQuery) empty() bool {
	return w.OrderBy == "" && w.LimitToFirst == 0 && w.LimitToLast == 0 &&
		w.StartAt == nil && w.EndAt == nil && w.EqualTo == nil
}

func wireBound(v mirror.Value, key string) *WireBound {
	return &WireBound{Value: v.Interface(), Key: key}
}

func (b *WireBound) bound() (*mirror.Bound, error) {
	if b == nil {
		return nil, nil
	}
	v, err := mirror.FromAny(b.Value)
	if err != nil {
		return nil, err
	}
	return &mirror.Bound{Value: v, Key: b.Key}, nil
}

// Spec converts w into a QuerySpec over path, ready for mirror.ToRemoteQuery.
func (w *WireQuery) Spec(path string) (mirror.QuerySpec, error) {
	spec := mirror.QuerySpec{Path: mirror.Normalize(path)}
	if w == nil {
		return spec, nil
	}
	switch mirror.OrderByType(w.OrderBy) {
	case "":
	case mirror.OrderByKey, mirror.OrderByPriority, mirror.OrderByValue:
		spec.OrderBy = &mirror.OrderBy{Type: mirror.OrderByType(w.OrderBy)}
	case mirror.OrderByChild:
		spec.OrderBy = &mirror.OrderBy{Type: mirror.OrderByChild, ChildPath: w.ChildPath}
	default:
		return spec, fmt.Errorf("wsremote: unknown order %q", w.OrderBy)
	}
	if w.LimitToFirst > 0 {
		n := w.LimitToFirst
		spec.LimitToFirst = &n
	}
	if w.LimitToLast > 0 {
		n := w.LimitToLast
		spec.LimitToLast = &n
	}
	var err error
	if spec.StartAt, err = w.StartAt.bound(); err != nil {
		return spec, fmt.Errorf("wsremote: startAt: %w", err)
	}
	if spec.EndAt, err = w.EndAt.bound(); err != nil {
		return spec, fmt.Errorf("wsremote: endAt: %w", err)
	}
	if spec.EqualTo, err = w.EqualTo.bound(); err != nil {
		return spec, fmt.Errorf("wsremote: equalTo: %w", err)
	}
	return spec, nil
}
