package mirror

import (
	"fmt"
	"os"
	"time"

	"github.com/goliatone/go-treemirror/pkg/activity"
	"github.com/google/uuid"
)

// SessionOption configures NewSession.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	id        string
	logger    Logger
	hooks     activity.Hooks
	functions *FunctionRegistry
	cache     ProgramCache
	clock     func() time.Time
	auth      AuthSource
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.id = id
	}
}

// WithLogger replaces the logger built from Config.Log.
func WithLogger(logger Logger) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.logger = logger
	}
}

// WithActivityHooks adds hooks that receive lifecycle activity when
// Config.Activity.Enabled is set.
func WithActivityHooks(hooks ...activity.ActivityHook) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.hooks = append(cfg.hooks, hooks...)
	}
}

// WithFunctions exposes registry to the session's path expressions.
func WithFunctions(registry *FunctionRegistry) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.functions = registry
	}
}

// WithSessionProgramCache replaces the per-session program cache.
func WithSessionProgramCache(cache ProgramCache) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.cache = cache
	}
}

// WithSessionClock sets the clock used for load timestamps.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.clock = now
	}
}

// WithAuthSource mirrors identity changes from src.
func WithAuthSource(src AuthSource) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.auth = src
	}
}

// Session wires a Store, a Manager, an optional AuthMirror and the path
// expression evaluator for one remote. Sessions are constructed explicitly;
// there is no process-wide default.
//
// The Manager, and therefore Bind, Binding.Update and Close, belong to the
// goroutine that owns the session. State and OnChange may be used from any
// goroutine.
type Session struct {
	id        string
	config    Config
	logger    Logger
	store     *Store
	manager   *Manager
	auth      *AuthMirror
	emitter   *activity.Emitter
	evaluator Evaluator
	evalLog   EvaluatorLogger
	bindings  map[*Binding]struct{}
}

// NewSession validates cfg and composes a session over remote.
func NewSession(remote Remote, cfg Config, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc := sessionConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&sc)
		}
	}
	if sc.id == "" {
		sc.id = uuid.NewString()
	}
	if sc.logger == nil {
		sc.logger = cfg.Log.NewLogger(os.Stderr)
	}
	if sc.cache == nil && !cfg.Evaluator.DisableCache {
		sc.cache = NewMapProgramCache()
	}

	emitter := activity.NewEmitter(sc.hooks, activity.Config{
		Enabled:   cfg.Activity.Enabled,
		Channel:   cfg.Activity.Channel,
		ActorID:   cfg.Activity.ActorID,
		TenantID:  cfg.Activity.TenantID,
		SessionID: sc.id,
	})

	var evalOpts []EvaluatorOption
	if sc.cache != nil {
		evalOpts = append(evalOpts, WithProgramCache(sc.cache))
	}
	if sc.functions != nil {
		evalOpts = append(evalOpts, WithFunctionRegistry(sc.functions))
	}
	evaluator, err := NewEvaluator(cfg.Evaluator.Engine, evalOpts...)
	if err != nil {
		return nil, err
	}

	logger := sc.logger
	storeOpts := []StoreOption{WithStoreLogger(logger)}
	if sc.clock != nil {
		storeOpts = append(storeOpts, WithClock(sc.clock))
	}
	store := NewStore(storeOpts...)

	s := &Session{
		id:        sc.id,
		config:    cfg,
		logger:    logger,
		store:     store,
		manager:   NewManager(remote, store, WithManagerLogger(logger), WithActivity(emitter)),
		emitter:   emitter,
		evaluator: evaluator,
		evalLog:   EvaluatorLoggerFor(logger),
		bindings:  make(map[*Binding]struct{}),
	}
	if sc.auth != nil {
		s.auth = NewAuthMirror(sc.auth, store, WithAuthActivity(emitter), WithAuthLogger(logger))
	}
	logger.Debug("mirror: session created", "session", s.id, "engine", cfg.Evaluator.Engine)
	return s, nil
}

// ID returns the session id stamped on activity events.
func (s *Session) ID() string { return s.id }

// Config returns the configuration the session was built from.
func (s *Session) Config() Config { return s.config }

func (s *Session) Store() *Store { return s.store }

func (s *Session) Manager() *Manager { return s.manager }

func (s *Session) Evaluator() Evaluator { return s.evaluator }

// State returns the latest tree.
func (s *Session) State() Tree { return s.store.State() }

// OnChange registers fn on the session store.
func (s *Session) OnChange(fn func(prev, next Tree)) (cancel func()) {
	return s.store.OnChange(fn)
}

// Snapshot reads loc from the latest tree.
func (s *Session) Snapshot(loc Locator) *Snapshot {
	return NewSnapshot(s.store.State(), loc)
}

// Start begins mirroring identity when an AuthSource was supplied.
func (s *Session) Start() error {
	if s.auth == nil {
		return nil
	}
	return s.auth.Start()
}

// Bind compiles exprs with the session evaluator and returns an unmounted
// binding.
func (s *Session) Bind(exprs []string, opts ...PathSourceOption) (*Binding, error) {
	base := []PathSourceOption{WithEvaluator(s.evaluator), WithEvaluatorLogger(s.evalLog)}
	src, err := NewExprPathSource(exprs, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return s.BindSource(src), nil
}

// BindSource returns an unmounted binding over src. Close closes it; a
// binding closed on its own is forgotten by the session.
func (s *Session) BindSource(src PathSource) *Binding {
	b := NewBinding(s.manager, src)
	b.onClose = s.forget
	s.bindings[b] = struct{}{}
	return b
}

// Bindings returns the number of open bindings.
func (s *Session) Bindings() int { return len(s.bindings) }

func (s *Session) forget(b *Binding) {
	delete(s.bindings, b)
}

// Close releases every binding, stops the auth mirror and closes any
// listener still open.
func (s *Session) Close() error {
	for b := range s.bindings {
		b.Close()
	}
	if s.auth != nil {
		s.auth.Stop()
	}
	if err := s.manager.Close(); err != nil {
		return fmt.Errorf("mirror: close session %s: %w", s.id, err)
	}
	s.logger.Debug("mirror: session closed", "session", s.id)
	return nil
}
