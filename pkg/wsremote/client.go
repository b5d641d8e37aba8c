package wsremote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	mirror "github.com/goliatone/go-treemirror"
)

var (
	// ErrForeignQuery is returned when Listen receives a query built by
	// another remote.
	ErrForeignQuery = errors.New("wsremote: query was not built by this client")
	// ErrConnectionLost is delivered to every open listener when the
	// connection drops.
	ErrConnectionLost = errors.New("wsremote: connection lost")
	// ErrSubprotocol is returned when the server did not accept the codec.
	ErrSubprotocol = errors.New("wsremote: server rejected codec subprotocol")
)

// ServerError is a failure reported by the server for one listener.
type ServerError struct {
	ID      string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("wsremote: listener %s: %s", e.ID, e.Message)
}

// ClientOption configures Dial.
type ClientOption func(*clientConfig)

type clientConfig struct {
	codec        Codec
	logger       mirror.Logger
	dialTimeout  time.Duration
	writeTimeout time.Duration
	header       http.Header
}

// WithCodec selects the frame codec. JSON is the default.
func WithCodec(codec Codec) ClientOption {
	return func(c *clientConfig) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger mirror.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithDialTimeout bounds the websocket handshake.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.dialTimeout = d
	}
}

// WithWriteTimeout bounds every frame write.
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.writeTimeout = d
	}
}

// WithHeader adds request headers to the handshake.
func WithHeader(header http.Header) ClientOption {
	return func(c *clientConfig) {
		c.header = header.Clone()
	}
}

// Client is a mirror.Remote backed by a websocket connection to a Server.
// Deliveries are made on the client's read goroutine.
type Client struct {
	conn         *websocket.Conn
	codec        Codec
	logger       mirror.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]func(mirror.Delivery)
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ mirror.Remote = (*Client)(nil)

// Dial connects to a Server at url.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{
		codec:        JSONCodec{},
		dialTimeout:  10 * time.Second,
		writeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.dialTimeout,
		Subprotocols:     []string{cfg.codec.Subprotocol()},
	}
	conn, _, err := dialer.DialContext(ctx, url, cfg.header)
	if err != nil {
		return nil, fmt.Errorf("wsremote: dial %s: %w", url, err)
	}
	if conn.Subprotocol() != cfg.codec.Subprotocol() {
		conn.Close()
		return nil, fmt.Errorf("%w: want %q, got %q", ErrSubprotocol, cfg.codec.Subprotocol(), conn.Subprotocol())
	}

	c := &Client{
		conn:         conn,
		codec:        cfg.codec,
		logger:       cfg.logger,
		writeTimeout: cfg.writeTimeout,
		subs:         make(map[string]func(mirror.Delivery)),
		done:         make(chan struct{}),
	}
	if c.logger == nil {
		c.logger = mirror.NopLogger{}
	}
	go c.readLoop()
	return c, nil
}

// Ref starts a query over path.
func (c *Client) Ref(path string) mirror.RemoteQuery {
	return Query{client: c, path: mirror.Normalize(path)}
}

// Listen registers deliver under a fresh subscription id and asks the server
// to open the listener. Failures on the server side arrive as a ServerError
// delivery.
func (c *Client) Listen(q mirror.RemoteQuery, deliver func(mirror.Delivery)) (mirror.Listener, error) {
	query, ok := q.(Query)
	if !ok || query.client != c {
		return nil, ErrForeignQuery
	}
	id := uuid.NewString()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, mirror.ErrRemoteClosed
	}
	c.subs[id] = deliver
	c.mu.Unlock()

	msg := Message{Type: MessageListen, ID: id, Path: query.path}
	if !query.wire.empty() {
		wire := query.wire
		msg.Query = &wire
	}
	if err := c.write(msg); err != nil {
		c.drop(id)
		return nil, err
	}
	c.logger.Debug("wsremote: listen", "id", id, "path", query.path)

	var once sync.Once
	return mirror.ListenerFunc(func() error {
		var err error
		once.Do(func() {
			if !c.drop(id) {
				return
			}
			err = c.write(Message{Type: MessageUnlisten, ID: id})
			if errors.Is(err, mirror.ErrRemoteClosed) {
				err = nil
			}
		})
		return err
	}), nil
}

// Subscriptions returns the number of open listeners.
func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and waits for the read loop to exit. Open
// listeners receive nothing further.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return c.closeConn()
	}
	c.closed = true
	c.subs = make(map[string]func(mirror.Delivery))
	c.mu.Unlock()

	c.writeMu.Lock()
	deadline := time.Now().Add(c.writeTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(c.writeTimeout):
	}
	return c.closeConn()
}

func (c *Client) closeConn() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Client) drop(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[id]; !ok {
		return false
	}
	delete(c.subs, id)
	return true
}

func (c *Client) write(msg Message) error {
	data, err := c.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wsremote: encode %s: %w", msg.Type, err)
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return mirror.ErrRemoteClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
		return fmt.Errorf("wsremote: write %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.lost(err)
			_ = c.closeConn()
			return
		}
		var msg Message
		if err := c.codec.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("wsremote: malformed frame", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	switch msg.Type {
	case MessageAck:
		c.logger.Debug("wsremote: ack", "id", msg.ID)
		return
	case MessageValue, MessagePatch, MessageError:
	default:
		c.logger.Warn("wsremote: unexpected frame", "type", msg.Type)
		return
	}

	c.mu.Lock()
	deliver, ok := c.subs[msg.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	if msg.Type == MessageError {
		deliver(mirror.Delivery{Err: &ServerError{ID: msg.ID, Message: msg.Error}})
		return
	}
	d, err := msg.delivery()
	if err != nil {
		deliver(mirror.Delivery{Err: fmt.Errorf("wsremote: decode value: %w", err)})
		return
	}
	deliver(d)
}

// lost tells every open listener the connection is gone, unless Close was
// the cause.
func (c *Client) lost(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[string]func(mirror.Delivery))
	c.mu.Unlock()

	c.logger.Warn("wsremote: connection lost", "error", cause, "listeners", len(subs))
	err := fmt.Errorf("%w: %v", ErrConnectionLost, cause)
	for _, deliver := range subs {
		deliver(mirror.Delivery{Err: err})
	}
}

// Query accumulates remote query options for a Client.
type Query struct {
	client *Client
	path   string
	wire   WireQuery
}

func (q Query) OrderByKey() mirror.RemoteQuery {
	q.wire.OrderBy = string(mirror.OrderByKey)
	return q
}

func (q Query) OrderByChild(path string) mirror.RemoteQuery {
	q.wire.OrderBy = string(mirror.OrderByChild)
	q.wire.ChildPath = path
	return q
}

func (q Query) OrderByPriority() mirror.RemoteQuery {
	q.wire.OrderBy = string(mirror.OrderByPriority)
	return q
}

func (q Query) OrderByValue() mirror.RemoteQuery {
	q.wire.OrderBy = string(mirror.OrderByValue)
	return q
}

func (q Query) LimitToFirst(n int) mirror.RemoteQuery {
	q.wire.LimitToFirst = n
	return q
}

func (q Query) LimitToLast(n int) mirror.RemoteQuery {
	q.wire.LimitToLast = n
	return q
}

func (q Query) StartAt(v mirror.Value, key string) mirror.RemoteQuery {
	q.wire.StartAt = wireBound(v, key)
	return q
}

func (q Query) EndAt(v mirror.Value, key string) mirror.RemoteQuery {
	q.wire.EndAt = wireBound(v, key)
	return q
}

func (q Query) EqualTo(v mirror.Value, key string) mirror.RemoteQuery {
	q.wire.EqualTo = wireBound(v, key)
	return q
}

// Path returns the normalized ref path.
func (q Query) Path() string { return q.path }
