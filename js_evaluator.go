//go:build js_eval

package mirror

import (
	"fmt"

	"github.com/dop251/goja"
)

// jsEvaluator compiles expressions once and runs every evaluation in a fresh
// goja runtime, since a runtime is not safe for concurrent use.
type jsEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewJSEvaluator constructs an Evaluator backed by goja.
func NewJSEvaluator(opts ...EvaluatorOption) Evaluator {
	cfg := newEngineConfig(opts)
	return &jsEvaluator{cache: cfg.cache, registry: cfg.registry}
}

func (e *jsEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *jsEvaluator) Compile(expression string) (CompiledRule, error) {
	if expression == "" {
		return nil, engineError(EngineJS, fmt.Errorf("expression must not be empty"))
	}
	program, err := cachedProgram(e.cache, EngineJS+":"+expression, func() (*goja.Program, error) {
		return goja.Compile("", "(function(){ return ("+expression+"); })()", false)
	})
	if err != nil {
		return nil, describeFailure(err, EvaluationError{Engine: EngineJS, Expr: expression})
	}
	return jsRule{evaluator: e, program: program, expression: expression}, nil
}

// globals lists what a runtime sees besides the context bindings.
func (e *jsEvaluator) globals() map[string]any {
	out := map[string]any{
		"path": func(segments ...any) string { return joinPath(segments...) },
	}
	if e.registry == nil {
		return out
	}
	out["call"] = func(name string, arguments ...any) (any, error) {
		return e.registry.Call(name, arguments...)
	}
	for _, name := range e.registry.Names() {
		out[name] = func(arguments ...any) (any, error) {
			return e.registry.Call(name, arguments...)
		}
	}
	return out
}

type jsRule struct {
	evaluator  *jsEvaluator
	program    *goja.Program
	expression string
}

func (r jsRule) Evaluate(ctx RuleContext) (any, error) {
	ctx = ctx.withDefaults()
	vm := goja.New()
	for _, set := range []map[string]any{ctx.bindings(), r.evaluator.globals()} {
		for name, value := range set {
			if err := vm.Set(name, value); err != nil {
				return nil, describeFailure(err, EvaluationError{Engine: EngineJS, Expr: r.expression, Label: ctx.label()})
			}
		}
	}
	value, err := vm.RunProgram(r.program)
	if err != nil {
		return nil, describeFailure(err, EvaluationError{Engine: EngineJS, Expr: r.expression, Label: ctx.label()})
	}
	return value.Export(), nil
}
