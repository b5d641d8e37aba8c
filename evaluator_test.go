package mirror

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func upperFunction(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("upper takes one argument, got %d", len(args))
	}
	return strings.ToUpper(fmt.Sprint(args[0])), nil
}

func TestNewEvaluatorEngines(t *testing.T) {
	for _, engine := range []string{"", "expr", " EXPR ", "cel"} {
		e, err := NewEvaluator(engine)
		if err != nil || e == nil {
			t.Fatalf("engine %q: unexpected error: %v", engine, err)
		}
	}
	if _, err := NewEvaluator("lua"); !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("expected ErrUnknownEngine, got %v", err)
	}
}

func TestExprEvaluatorBindings(t *testing.T) {
	e := NewExprEvaluator()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ctx := RuleContext{
		Input: map[string]any{"room": "lobby", "props": "shadowed"},
		Args:  map[string]any{"prefix": "chat"},
		Now:   &now,
	}

	cases := map[string]any{
		`path(args.prefix, props.room, "messages")`: "chat/lobby/messages",
		`room`:                        "lobby",
		`props.props`:                 "shadowed",
		`now.Year()`:                  2024,
		`path("a", nil, ["b", "c"])`:  "a/b/c",
		`props.missing == nil`:        true,
	}
	for expr, want := range cases {
		got, err := e.Evaluate(ctx, expr)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", expr, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s: unexpected result (-want +got):\n%s", expr, diff)
		}
	}
}

func TestExprEvaluatorValueInput(t *testing.T) {
	e := NewExprEvaluator()
	input := MustValue(map[string]any{"user": map[string]any{"id": "ada"}})
	got, err := e.Evaluate(RuleContext{Input: input}, `path("users", props.user.id)`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "users/ada" {
		t.Fatalf("expected users/ada, got %v", got)
	}
}

func TestEvaluatorsCallRegistryFunctions(t *testing.T) {
	registry := NewFunctionRegistry().MustRegister("upper", upperFunction)

	exprEval, err := NewEvaluator(EngineExpr, WithFunctionRegistry(registry))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, expr := range []string{`upper(props.name)`, `call("upper", props.name)`} {
		got, err := exprEval.Evaluate(RuleContext{Input: map[string]any{"name": "ada"}}, expr)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", expr, err)
		}
		if got != "ADA" {
			t.Fatalf("%s: expected ADA, got %v", expr, got)
		}
	}

	celEval, err := NewEvaluator(EngineCEL, WithCustomFunction("upper", upperFunction))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := celEval.Evaluate(RuleContext{Input: map[string]any{"name": "ada"}}, `call("upper", [name])`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ADA" {
		t.Fatalf("expected ADA, got %v", got)
	}
}

func TestCELEvaluatorPaths(t *testing.T) {
	e := NewCELEvaluator()
	ctx := RuleContext{Input: map[string]any{"room": "lobby", "count": 3}}

	got, err := e.Evaluate(ctx, `path(["rooms", room, "messages"])`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "rooms/lobby/messages" {
		t.Fatalf("unexpected path %v", got)
	}

	got, err = e.Evaluate(ctx, `["users/" + props.room, "presence"]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]any{"users/lobby", "presence"}, got); diff != "" {
		t.Fatalf("unexpected list (-want +got):\n%s", diff)
	}

	if _, err := e.Compile(`path(`); err == nil {
		t.Fatalf("expected syntax error at compile")
	}
	rule, err := e.Compile(`"feed/" + room`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err = rule.Evaluate(ctx)
	if err != nil || got != "feed/lobby" {
		t.Fatalf("expected feed/lobby, got %v (%v)", got, err)
	}
}

func TestCELPathSourceReturnsQueryDescriptor(t *testing.T) {
	src, err := NewExprPathSource(
		[]string{`{"name": "byKey", "path": "scores/" + game, "orderBy": "key", "startAt": "b"}`},
		WithEvaluator(NewCELEvaluator()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	paths, err := src.Paths(map[string]any{"game": "go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `scores/go?orderByType="key"&startAtValue="b"`
	if len(paths) != 1 || paths[0].Key != want {
		t.Fatalf("expected %s, got %+v", want, paths)
	}
}

func TestEvaluatorErrorsCarryMetadata(t *testing.T) {
	for _, engine := range []string{EngineExpr, EngineCEL} {
		e, _ := NewEvaluator(engine)
		_, err := e.Evaluate(RuleContext{Label: "feed"}, `1 +`)
		var evalErr *EvaluationError
		if !errors.As(err, &evalErr) {
			t.Fatalf("%s: expected EvaluationError, got %v", engine, err)
		}
		if evalErr.Engine != engine || evalErr.Expr != `1 +` {
			t.Fatalf("%s: unexpected metadata %+v", engine, evalErr)
		}
		if _, err := e.Evaluate(RuleContext{}, ""); err == nil {
			t.Fatalf("%s: expected error for empty expression", engine)
		}
		if _, err := e.Compile(""); err == nil {
			t.Fatalf("%s: expected error compiling empty expression", engine)
		}
	}
}

func TestJSEngineRequiresBuildTag(t *testing.T) {
	if NewJSEvaluator() != nil {
		t.Skip("built with js_eval")
	}
	if _, err := NewEvaluator(EngineJS); !errors.Is(err, ErrNoEvaluator) {
		t.Fatalf("expected ErrNoEvaluator, got %v", err)
	}
}

func TestProgramCacheReusesPrograms(t *testing.T) {
	for _, engine := range []string{EngineExpr, EngineCEL} {
		cache := NewMapProgramCache()
		e, err := NewEvaluator(engine, WithProgramCache(cache))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ctx := RuleContext{Input: map[string]any{"room": "lobby"}}
		for i := 0; i < 3; i++ {
			if _, err := e.Evaluate(ctx, `"rooms/" + props.room`); err != nil {
				t.Fatalf("%s: unexpected error: %v", engine, err)
			}
		}
		if cache.Len() != 1 {
			t.Fatalf("%s: expected one cached program, got %d", engine, cache.Len())
		}
	}
}

type logLine struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	lines []logLine
}

func (l *recordingLogger) record(level, msg string, args []any) {
	l.lines = append(l.lines, logLine{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

func TestEvaluatorLoggerForLevels(t *testing.T) {
	logger := &recordingLogger{}
	evalLog := EvaluatorLoggerFor(logger)
	evalLog.LogEvaluation(EvaluatorLogEvent{Engine: EngineExpr, Expr: "a"})
	evalLog.LogEvaluation(EvaluatorLogEvent{Engine: EngineExpr, Expr: "b", Err: errors.New("boom")})

	if len(logger.lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(logger.lines))
	}
	if logger.lines[0].level != "debug" || logger.lines[1].level != "warn" {
		t.Fatalf("unexpected levels %+v", logger.lines)
	}
	last := logger.lines[1].args
	if last[len(last)-2] != "error" {
		t.Fatalf("expected error attribute last, got %v", last)
	}

	EvaluatorLoggerFor(nil).LogEvaluation(EvaluatorLogEvent{})
}
