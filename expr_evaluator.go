package mirror

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// exprEvaluator runs path expressions with expr-lang/expr. Variables are
// resolved at run time, so one compiled program serves every input.
type exprEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewExprEvaluator constructs an Evaluator backed by expr-lang/expr.
func NewExprEvaluator(opts ...EvaluatorOption) Evaluator {
	cfg := newEngineConfig(opts)
	return &exprEvaluator{cache: cfg.cache, registry: cfg.registry}
}

func (e *exprEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *exprEvaluator) Compile(expression string) (CompiledRule, error) {
	if expression == "" {
		return nil, engineError(EngineExpr, fmt.Errorf("expression must not be empty"))
	}
	program, err := cachedProgram(e.cache, EngineExpr+":"+expression, func() (*exprvm.Program, error) {
		return exprlang.Compile(expression, e.compileOptions()...)
	})
	if err != nil {
		return nil, describeFailure(err, EvaluationError{Engine: EngineExpr, Expr: expression})
	}
	return exprRule{evaluator: e, program: program, expression: expression}, nil
}

func (e *exprEvaluator) compileOptions() []exprlang.Option {
	options := []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.Function("path", func(segments ...any) (any, error) {
			return joinPath(segments...), nil
		}),
	}
	if e.registry == nil {
		return options
	}
	for _, name := range e.registry.Names() {
		options = append(options, exprlang.Function(name, e.bound(name)))
	}
	return options
}

func (e *exprEvaluator) bound(name string) func(...any) (any, error) {
	return func(arguments ...any) (any, error) {
		return e.registry.Call(name, arguments...)
	}
}

type exprRule struct {
	evaluator  *exprEvaluator
	program    *exprvm.Program
	expression string
}

func (r exprRule) Evaluate(ctx RuleContext) (any, error) {
	ctx = ctx.withDefaults()
	env := ctx.bindings()
	if r.evaluator.registry != nil {
		env["call"] = r.evaluator.registry.Call
	}
	result, err := exprlang.Run(r.program, env)
	if err != nil {
		return nil, describeFailure(err, EvaluationError{Engine: EngineExpr, Expr: r.expression, Label: ctx.label()})
	}
	return result, nil
}
