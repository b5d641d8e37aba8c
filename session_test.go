package mirror

import (
	"errors"
	"strings"
	"testing"

	"github.com/goliatone/go-treemirror/pkg/activity"
	"github.com/google/go-cmp/cmp"
)

func newTestSession(t *testing.T, r Remote, cfg Config, opts ...SessionOption) *Session {
	t.Helper()
	base := []SessionOption{WithLogger(NopLogger{}), WithSessionID("sess-1"), WithSessionClock(fixedClock())}
	s, err := NewSession(r, cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestSessionBindMirrorsPaths(t *testing.T) {
	r := newFakeRemote()
	s := newTestSession(t, r, DefaultConfig())

	b, err := s.Bind([]string{`path("rooms", props.room)`}, WithPathLabel("room"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var versions []uint64
	s.OnChange(func(_, next Tree) { versions = append(versions, next.Version()) })

	if err := b.Update(map[string]any{"room": "lobby"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Snapshot(Locate("rooms/lobby")).IsFetching() {
		t.Fatalf("expected rooms/lobby fetching")
	}
	r.push("rooms/lobby", MustValue(map[string]any{"topic": "hello"}))

	snap := s.Snapshot(Locate("/rooms/lobby/"))
	if !snap.HasLoaded() {
		t.Fatalf("expected rooms/lobby loaded")
	}
	if got, _ := snap.Val().Child("topic").Text(); got != "hello" {
		t.Fatalf("expected topic hello, got %q", got)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 changes, got %v", versions)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"rooms/lobby"}, r.closed); diff != "" {
		t.Fatalf("expected close to release listeners (-want +got):\n%s", diff)
	}
	if err := b.Update(map[string]any{"room": "garden"}); !errors.Is(err, ErrBindingClosed) {
		t.Fatalf("expected ErrBindingClosed after session close, got %v", err)
	}
}

func TestSessionUsesConfiguredEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Evaluator.Engine = EngineCEL
	r := newFakeRemote()
	s := newTestSession(t, r, cfg)
	if evaluatorEngineName(s.Evaluator()) != EngineCEL {
		t.Fatalf("expected cel evaluator, got %T", s.Evaluator())
	}

	b, err := s.Bind([]string{`path(["users", uid])`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Update(map[string]any{"uid": "ada"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Manager().Count("users/ada") != 1 {
		t.Fatalf("expected users/ada subscribed, got %v", s.Manager().Keys())
	}
}

func TestSessionFunctions(t *testing.T) {
	r := newFakeRemote()
	registry := NewFunctionRegistry().MustRegister("upper", upperFunction)
	s := newTestSession(t, r, DefaultConfig(), WithFunctions(registry))
	b, err := s.Bind([]string{`path("teams", upper(props.team))`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Update(map[string]any{"team": "red"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"teams/RED"}, s.Manager().Keys()); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}
}

func TestSessionActivityAndAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Activity.Enabled = true
	cfg.Activity.ActorID = "svc"
	capture := &activity.CaptureHook{}
	src := &fakeAuthSource{}
	r := newFakeRemote()
	s := newTestSession(t, r, cfg, WithActivityHooks(capture), WithAuthSource(src))

	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	src.emit(&UserInfo{UID: "ada"}, nil)
	if got := s.State().Auth().User; got == nil || got.UID != "ada" {
		t.Fatalf("expected ada mirrored, got %+v", got)
	}

	b := s.BindSource(StaticPaths(PathOf("inbox")))
	if err := b.Update(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.cancelled != 1 {
		t.Fatalf("expected auth listener cancelled, got %d", src.cancelled)
	}

	var verbs []string
	for _, e := range capture.Events {
		verbs = append(verbs, e.Verb)
		if e.Metadata["session_id"] != "sess-1" {
			t.Fatalf("expected session id on %s, got %v", e.Verb, e.Metadata)
		}
	}
	want := []string{activity.VerbAuthChanged, activity.VerbSubscriptionOpened, activity.VerbSubscriptionClosed}
	if diff := cmp.Diff(want, verbs); diff != "" {
		t.Fatalf("unexpected verbs (-want +got):\n%s", diff)
	}
}

func TestSessionForgetsClosedBindings(t *testing.T) {
	r := newFakeRemote()
	s := newTestSession(t, r, DefaultConfig())

	for i := 0; i < 50; i++ {
		b, err := s.Bind([]string{`path("rooms", props.room)`})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := b.Update(map[string]any{"room": "lobby"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b.Close()
		b.Close()
	}
	if n := s.Bindings(); n != 0 {
		t.Fatalf("expected closed bindings to be released, got %d", n)
	}

	kept := s.BindSource(nil)
	if n := s.Bindings(); n != 1 {
		t.Fatalf("expected 1 open binding, got %d", n)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := s.Bindings(); n != 0 {
		t.Fatalf("expected session close to release bindings, got %d", n)
	}
	if err := kept.Update(nil); !errors.Is(err, ErrBindingClosed) {
		t.Fatalf("expected ErrBindingClosed, got %v", err)
	}
}

func TestSessionCloseReportsListenerErrors(t *testing.T) {
	r := newFakeRemote()
	r.closeErr["feed"] = errors.New("already gone")
	s := newTestSession(t, r, DefaultConfig())
	s.Manager().Subscribe(PathOf("feed"))
	err := s.Close()
	if err == nil || !strings.Contains(err.Error(), "sess-1") {
		t.Fatalf("expected close error naming the session, got %v", err)
	}
}

func TestNewSessionRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.Codec = "xml"
	if _, err := NewSession(newFakeRemote(), cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	s, err := NewSession(newFakeRemote(), DefaultConfig(), WithLogger(NopLogger{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID() == "" {
		t.Fatalf("expected generated session id")
	}
	if s.Start() != nil {
		t.Fatalf("expected Start without auth source to be a no-op")
	}
}
