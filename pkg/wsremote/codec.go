package wsremote

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Codec encodes frames. Subprotocol is negotiated during the websocket
// handshake so both ends agree on the codec.
type Codec interface {
	Name() string
	Subprotocol() string
	FrameType() int
	Marshal(Message) ([]byte, error)
	Unmarshal([]byte, *Message) error
}

// JSONCodec sends text frames.
type JSONCodec struct{}

func (JSONCodec) Name() string        { return "json" }
func (JSONCodec) Subprotocol() string { return "treemirror.json" }
func (JSONCodec) FrameType() int      { return websocket.TextMessage }

func (JSONCodec) Marshal(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSONCodec) Unmarshal(data []byte, m *Message) error {
	return json.Unmarshal(data, m)
}

// CBORCodec sends binary frames with deterministic core encoding.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds the CBOR codec.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("wsremote: cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("wsremote: cbor decoder: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (*CBORCodec) Name() string        { return "cbor" }
func (*CBORCodec) Subprotocol() string { return "treemirror.cbor" }
func (*CBORCodec) FrameType() int      { return websocket.BinaryMessage }

func (c *CBORCodec) Marshal(m Message) ([]byte, error) {
	return c.enc.Marshal(m)
}

func (c *CBORCodec) Unmarshal(data []byte, m *Message) error {
	return c.dec.Unmarshal(data, m)
}

// CodecByName returns the codec for "json" or "cbor".
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("wsremote: unknown codec %q", name)
	}
}

func codecBySubprotocol(proto string) (Codec, error) {
	name := strings.TrimPrefix(proto, "treemirror.")
	return CodecByName(name)
}
