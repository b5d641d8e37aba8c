package mirror

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoEvaluator   = errors.New("mirror: evaluator not configured")
	ErrUnknownEngine = errors.New("mirror: unknown evaluator engine")
)

// Engine names accepted by NewEvaluator and the evaluator config section.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

// EvaluatorOption configures NewEvaluator and the per-engine constructors.
type EvaluatorOption func(*engineConfig)

type engineConfig struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

func newEngineConfig(opts []EvaluatorOption) engineConfig {
	cfg := engineConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithProgramCache shares compiled programs through cache.
func WithProgramCache(cache ProgramCache) EvaluatorOption {
	return func(cfg *engineConfig) {
		cfg.cache = cache
	}
}

// WithFunctionRegistry exposes a copy of registry to expressions. Later
// registrations on registry are not seen.
func WithFunctionRegistry(registry *FunctionRegistry) EvaluatorOption {
	return func(cfg *engineConfig) {
		if registry == nil {
			return
		}
		cfg.registry = registry.Clone()
	}
}

// WithCustomFunction registers fn under name. Registration errors, such as
// a reserved name, drop the function.
func WithCustomFunction(name string, fn Function) EvaluatorOption {
	return func(cfg *engineConfig) {
		if cfg.registry == nil {
			cfg.registry = NewFunctionRegistry()
		}
		_ = cfg.registry.Register(name, fn)
	}
}

// NewEvaluator builds the evaluator for engine. An empty engine selects expr.
// The js engine requires the js_eval build tag and reports ErrNoEvaluator
// without it.
func NewEvaluator(engine string, opts ...EvaluatorOption) (Evaluator, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineExpr:
		return NewExprEvaluator(opts...), nil
	case EngineCEL:
		return NewCELEvaluator(opts...), nil
	case EngineJS:
		evaluator := NewJSEvaluator(opts...)
		if evaluator == nil {
			return nil, fmt.Errorf("%w: js engine requires the js_eval build tag", ErrNoEvaluator)
		}
		return evaluator, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
}

// cachedProgram returns the program stored under key, compiling and storing
// it on a miss. Entries of another type are treated as misses.
func cachedProgram[P any](cache ProgramCache, key string, compile func() (P, error)) (P, error) {
	if cache != nil {
		if cached, ok := cache.Get(key); ok {
			if program, ok := cached.(P); ok {
				return program, nil
			}
		}
	}
	program, err := compile()
	if err != nil {
		return program, err
	}
	if cache != nil {
		cache.Set(key, program)
	}
	return program, nil
}

// evaluateLogged runs rule (or expr when rule is nil) and reports the attempt
// to logger.
func evaluateLogged(e Evaluator, rule CompiledRule, logger EvaluatorLogger, ctx RuleContext, expr string) (any, error) {
	if expr == "" {
		return nil, fmt.Errorf("mirror: expression must not be empty")
	}
	if e == nil && rule == nil {
		return nil, ErrNoEvaluator
	}
	if logger == nil {
		logger = EvaluatorLoggerFunc(nil)
	}
	ctx = ctx.withDefaults()
	engine := evaluatorEngineName(e)
	start := time.Now()
	var (
		value   any
		evalErr error
	)
	if rule != nil {
		value, evalErr = rule.Evaluate(ctx)
	} else {
		value, evalErr = e.Evaluate(ctx, expr)
	}
	duration := time.Since(start)
	evalErr = describeFailure(evalErr, EvaluationError{Engine: engine, Expr: expr, Label: ctx.label()})
	logger.LogEvaluation(EvaluatorLogEvent{
		Engine:   engine,
		Expr:     expr,
		Label:    ctx.label(),
		Duration: duration,
		Err:      evalErr,
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return value, nil
}

func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	switch fmt.Sprintf("%T", e) {
	case "*mirror.exprEvaluator":
		return EngineExpr
	case "*mirror.celEvaluator":
		return EngineCEL
	case "*mirror.jsEvaluator":
		return EngineJS
	default:
		return "custom"
	}
}
