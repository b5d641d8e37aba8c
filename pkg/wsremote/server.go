package wsremote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	mirror "github.com/goliatone/go-treemirror"
)

var errSessionClosed = errors.New("wsremote: session closed")

// ServerOption configures NewServer.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(logger mirror.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerWriteTimeout bounds every frame write.
func WithServerWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// WithOutboundBuffer sizes the per-connection delivery queue.
func WithOutboundBuffer(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithCheckOrigin replaces the handshake origin check.
func WithCheckOrigin(check func(*http.Request) bool) ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = check
	}
}

// Server exposes a mirror.Remote over websocket. Every connection is a
// session owning the listeners it opened; they are closed when the
// connection ends.
type Server struct {
	remote       mirror.Remote
	upgrader     websocket.Upgrader
	logger       mirror.Logger
	writeTimeout time.Duration
	buffer       int
	sessions     atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer wraps remote.
func NewServer(remote mirror.Remote, opts ...ServerOption) *Server {
	s := &Server{
		remote: remote,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{JSONCodec{}.Subprotocol(), (&CBORCodec{}).Subprotocol()},
		},
		writeTimeout: 5 * time.Second,
		buffer:       64,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = mirror.NopLogger{}
	}
	return s
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int {
	return int(s.sessions.Load())
}

// ServeHTTP upgrades the request and serves the session until either side
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("wsremote: upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	codec, err := codecBySubprotocol(conn.Subprotocol())
	if err != nil {
		s.logger.Warn("wsremote: codec", "error", err)
		conn.Close()
		return
	}

	sess := &session{
		id:        uuid.NewString(),
		server:    s,
		conn:      conn,
		codec:     codec,
		out:       make(chan Message, s.buffer),
		listeners: make(map[string]mirror.Listener),
	}
	s.sessions.Add(1)
	defer s.sessions.Add(-1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.logger.Info("wsremote: session opened", "session_id", sess.id, "codec", codec.Name(), "remote_addr", r.RemoteAddr)
	err = sess.run(ctx)
	if err != nil {
		s.logger.Warn("wsremote: session ended", "session_id", sess.id, "error", err)
		return
	}
	s.logger.Info("wsremote: session closed", "session_id", sess.id)
}

// Close ends every open session with a going-away close frame. Connections
// accepted afterwards are closed immediately.
func (s *Server) Close() error {
	s.cancel()
	return nil
}

type session struct {
	id        string
	server    *Server
	conn      *websocket.Conn
	codec     Codec
	out       chan Message
	listeners map[string]mirror.Listener
}

func (s *session) run(parent context.Context) error {
	g, ctx := errgroup.WithContext(parent)
	g.Go(func() error { return s.readLoop(ctx) })
	g.Go(func() error { return s.writeLoop(ctx) })
	err := g.Wait()

	var closeErr error
	for id, l := range s.listeners {
		closeErr = errors.Join(closeErr, l.Close())
		delete(s.listeners, id)
	}
	if closeErr != nil {
		s.server.logger.Warn("wsremote: closing listeners", "session_id", s.id, "error", closeErr)
	}

	if errors.Is(err, errSessionClosed) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

// readLoop never returns nil so the errgroup context is always cancelled when
// the peer goes away.
func (s *session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return errSessionClosed
			}
			return err
		}
		var msg Message
		if err := s.codec.Unmarshal(data, &msg); err != nil {
			s.server.logger.Warn("wsremote: malformed frame", "session_id", s.id, "error", err)
			continue
		}
		switch msg.Type {
		case MessageListen:
			s.listen(ctx, msg)
		case MessageUnlisten:
			s.unlisten(ctx, msg)
		default:
			s.server.logger.Warn("wsremote: unexpected frame", "session_id", s.id, "type", msg.Type)
		}
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(s.server.writeTimeout)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
			s.conn.Close()
			return errSessionClosed
		case msg := <-s.out:
			data, err := s.codec.Marshal(msg)
			if err != nil {
				s.server.logger.Error("wsremote: encode", "session_id", s.id, "id", msg.ID, "error", err)
				continue
			}
			if s.server.writeTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
			}
			if err := s.conn.WriteMessage(s.codec.FrameType(), data); err != nil {
				return fmt.Errorf("wsremote: write: %w", err)
			}
		}
	}
}

func (s *session) send(ctx context.Context, msg Message) {
	select {
	case s.out <- msg:
	case <-ctx.Done():
	}
}

func (s *session) listen(ctx context.Context, msg Message) {
	if msg.ID == "" {
		s.server.logger.Warn("wsremote: listen without id", "session_id", s.id)
		return
	}
	if _, exists := s.listeners[msg.ID]; exists {
		s.send(ctx, Message{Type: MessageError, ID: msg.ID, Error: "duplicate listener id"})
		return
	}
	spec, err := msg.Query.Spec(msg.Path)
	if err != nil {
		s.send(ctx, Message{Type: MessageError, ID: msg.ID, Error: err.Error()})
		return
	}

	id := msg.ID
	q := mirror.ToRemoteQuery(s.server.remote, spec)
	l, err := s.server.remote.Listen(q, func(d mirror.Delivery) {
		if d.Err != nil {
			s.send(ctx, Message{Type: MessageError, ID: id, Error: d.Err.Error()})
			return
		}
		if d.Patch != nil {
			s.send(ctx, patchMessage(id, d.Patch))
			return
		}
		s.send(ctx, Message{Type: MessageValue, ID: id, Value: d.Value.Interface()})
	})
	if err != nil {
		s.server.logger.Warn("wsremote: listen failed", "session_id", s.id, "id", id, "path", spec.Path, "error", err)
		s.send(ctx, Message{Type: MessageError, ID: id, Error: err.Error()})
		return
	}
	s.listeners[id] = l
	s.server.logger.Debug("wsremote: listener opened", "session_id", s.id, "id", id, "query", spec.String())
	s.send(ctx, Message{Type: MessageAck, ID: id})
}

func (s *session) unlisten(ctx context.Context, msg Message) {
	l, ok := s.listeners[msg.ID]
	if !ok {
		return
	}
	delete(s.listeners, msg.ID)
	if err := l.Close(); err != nil {
		s.server.logger.Warn("wsremote: close listener", "session_id", s.id, "id", msg.ID, "error", err)
	}
	s.send(ctx, Message{Type: MessageAck, ID: msg.ID})
}
