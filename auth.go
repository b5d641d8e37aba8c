package mirror

import (
	"context"
	"errors"
	"sync"

	"github.com/goliatone/go-treemirror/pkg/activity"
)

// ErrAuthStarted is returned by Start on a mirror that is already running.
var ErrAuthStarted = errors.New("mirror: auth mirror already started")

// UserInfo is the identity published by an AuthSource.
type UserInfo struct {
	UID            string `json:"uid" yaml:"uid"`
	ProviderID     string `json:"providerId" yaml:"provider_id"`
	DisplayName    string `json:"displayName,omitempty" yaml:"display_name,omitempty"`
	Email          string `json:"email,omitempty" yaml:"email,omitempty"`
	EmailVerified  bool   `json:"emailVerified" yaml:"email_verified"`
	IsAnonymous    bool   `json:"isAnonymous" yaml:"is_anonymous"`
	PhoneNumber    string `json:"phoneNumber,omitempty" yaml:"phone_number,omitempty"`
	PhotoURL       string `json:"photoURL,omitempty" yaml:"photo_url,omitempty"`
	CreationTime   string `json:"creationTime,omitempty" yaml:"creation_time,omitempty"`
	LastSignInTime string `json:"lastSignInTime,omitempty" yaml:"last_sign_in_time,omitempty"`
}

func (u *UserInfo) clone() *UserInfo {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

// AuthSource publishes identity changes. fn receives the current user (nil
// when signed out) or an error; cancel stops delivery.
type AuthSource interface {
	OnAuthStateChanged(fn func(user *UserInfo, err error)) (cancel func(), err error)
}

// AuthMirror forwards an AuthSource into an EventSink as auth events.
type AuthMirror struct {
	src      AuthSource
	sink     EventSink
	activity *activity.Emitter
	logger   Logger

	mu     sync.Mutex
	cancel func()
}

// AuthOption configures an AuthMirror.
type AuthOption func(*AuthMirror)

// WithAuthActivity reports identity changes to emitter.
func WithAuthActivity(emitter *activity.Emitter) AuthOption {
	return func(a *AuthMirror) {
		a.activity = emitter
	}
}

// WithAuthLogger attaches a logger.
func WithAuthLogger(logger Logger) AuthOption {
	return func(a *AuthMirror) {
		a.logger = loggerOrNop(logger)
	}
}

// NewAuthMirror constructs a stopped mirror.
func NewAuthMirror(src AuthSource, sink EventSink, opts ...AuthOption) *AuthMirror {
	if sink == nil {
		sink = SinkFunc(nil)
	}
	a := &AuthMirror{src: src, sink: sink, logger: NopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Start emits AuthFetchStarted and begins forwarding. A registration
// failure is dispatched as AuthError and returned.
func (a *AuthMirror) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return ErrAuthStarted
	}
	a.sink.Dispatch(AuthFetchStarted{})
	if a.src == nil {
		err := errors.New("mirror: auth source not configured")
		a.sink.Dispatch(AuthError{Err: err})
		return err
	}
	cancel, err := a.src.OnAuthStateChanged(a.forward)
	if err != nil {
		a.sink.Dispatch(AuthError{Err: err})
		return err
	}
	if cancel == nil {
		cancel = func() {}
	}
	a.cancel = cancel
	return nil
}

// Stop cancels the source registration. It is safe to call more than once.
func (a *AuthMirror) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *AuthMirror) forward(user *UserInfo, err error) {
	if err != nil {
		a.logger.Warn("mirror: auth error", "error", err)
		a.sink.Dispatch(AuthError{Err: err})
		return
	}
	a.sink.Dispatch(AuthStateChanged{User: user.clone()})
	if !a.activity.Enabled() {
		return
	}
	input := activity.SubscriptionEventInput{}
	if user != nil {
		input.ObjectID = user.UID
		input.UserID = user.UID
		input.Metadata = map[string]any{"provider_id": user.ProviderID, "anonymous": user.IsAnonymous}
	} else {
		input.Metadata = map[string]any{"signed_out": true}
	}
	if emitErr := a.activity.Emit(context.Background(), activity.BuildAuthChangedEvent(input)); emitErr != nil {
		a.logger.Warn("mirror: activity hook failed", "verb", activity.VerbAuthChanged, "error", emitErr)
	}
}
