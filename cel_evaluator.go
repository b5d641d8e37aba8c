package mirror

import (
	"fmt"
	"regexp"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

type celProgram struct {
	env     *celgo.Env
	program celgo.Program
}

// celEvaluator declares every binding as dyn. Programs are keyed by the
// expression and the set of declared names, since the input's top-level keys
// become variables.
type celEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELEvaluator constructs an Evaluator backed by cel-go.
func NewCELEvaluator(opts ...EvaluatorOption) Evaluator {
	cfg := newEngineConfig(opts)
	return &celEvaluator{cache: cfg.cache, registry: cfg.registry}
}

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	if expression == "" {
		return nil, engineError(EngineCEL, fmt.Errorf("expression must not be empty"))
	}
	return e.run(ctx.withDefaults(), expression)
}

func (e *celEvaluator) Compile(expression string) (CompiledRule, error) {
	if expression == "" {
		return nil, engineError(EngineCEL, fmt.Errorf("expression must not be empty"))
	}
	// Variables depend on the input, so only syntax is checked here.
	env, err := e.buildEnv(nil)
	if err != nil {
		return nil, describeFailure(err, EvaluationError{Engine: EngineCEL, Expr: expression})
	}
	if _, issues := env.Parse(expression); issues != nil && issues.Err() != nil {
		return nil, describeFailure(issues.Err(), EvaluationError{Engine: EngineCEL, Expr: expression})
	}
	return &celCompiledRule{evaluator: e, expression: expression}, nil
}

func (e *celEvaluator) run(ctx RuleContext, expression string) (any, error) {
	activation := e.activation(ctx)
	program, err := e.loadOrCompile(expression, activation)
	if err != nil {
		return nil, err
	}
	out, _, err := program.program.Eval(activation)
	if err != nil {
		return nil, describeFailure(err, EvaluationError{Engine: EngineCEL, Expr: expression, Label: ctx.label()})
	}
	return celToNative(out), nil
}

var celIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var celReserved = map[string]struct{}{
	"true": {}, "false": {}, "null": {}, "in": {}, "as": {}, "break": {}, "const": {},
	"continue": {}, "else": {}, "for": {}, "function": {}, "if": {}, "import": {},
	"let": {}, "loop": {}, "package": {}, "namespace": {}, "return": {}, "var": {}, "void": {}, "while": {},
}

// celNames returns the binding names CEL can declare.
func celNames(activation map[string]any) []string {
	var names []string
	for _, name := range sortedBindingNames(activation) {
		if _, reserved := celReserved[name]; reserved || !celIdentifier.MatchString(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (e *celEvaluator) loadOrCompile(expression string, activation map[string]any) (*celProgram, error) {
	names := celNames(activation)
	key := EngineCEL + ":" + strings.Join(names, ",") + ":" + expression
	program, err := cachedProgram(e.cache, key, func() (*celProgram, error) {
		env, err := e.buildEnv(names)
		if err != nil {
			return nil, err
		}
		ast, issues := env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, issues.Err()
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, err
		}
		return &celProgram{env: env, program: prg}, nil
	})
	if err != nil {
		return nil, describeFailure(err, EvaluationError{Engine: EngineCEL, Expr: expression})
	}
	return program, nil
}

func (e *celEvaluator) buildEnv(names []string) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Function("path",
			celgo.Overload("path_list", []*celgo.Type{celgo.ListType(celgo.DynType)}, celgo.StringType,
				celgo.UnaryBinding(func(segments ref.Val) ref.Val {
					list, _ := celToNative(segments).([]any)
					return types.String(joinPath(list...))
				}),
			),
		),
	}
	if e.registry != nil {
		opts = append(opts, celgo.Function("call",
			celgo.Overload("call_string", []*celgo.Type{celgo.StringType}, celgo.DynType,
				celgo.UnaryBinding(func(name ref.Val) ref.Val {
					return e.call(name, nil)
				}),
			),
			celgo.Overload("call_string_list", []*celgo.Type{celgo.StringType, celgo.ListType(celgo.DynType)}, celgo.DynType,
				celgo.BinaryBinding(func(name, args ref.Val) ref.Val {
					return e.call(name, args)
				}),
			),
		))
	}
	for _, name := range names {
		if name == "now" {
			opts = append(opts, celgo.Variable(name, celgo.TimestampType))
			continue
		}
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	return celgo.NewEnv(opts...)
}

func (e *celEvaluator) activation(ctx RuleContext) map[string]any {
	return ctx.bindings()
}

type celCompiledRule struct {
	evaluator  *celEvaluator
	expression string
}

func (r *celCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil {
		return nil, engineError(EngineCEL, fmt.Errorf("compiled rule missing evaluator"))
	}
	return r.evaluator.run(ctx.withDefaults(), r.expression)
}

func (e *celEvaluator) call(name ref.Val, args ref.Val) ref.Val {
	fn, ok := name.Value().(string)
	if !ok {
		return types.NewErr("mirror: call name must be string")
	}
	var arguments []any
	if args != nil {
		arguments, _ = celToNative(args).([]any)
	}
	result, err := e.registry.Call(fn, arguments...)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	if result == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(result)
}

// celToNative converts CEL results into plain Go data: maps become
// map[string]any and lists []any, recursively.
func celToNative(val ref.Val) any {
	if val == nil || val.Type() == types.NullType {
		return nil
	}
	switch v := val.(type) {
	case traits.Mapper:
		out := map[string]any{}
		it := v.Iterator()
		for it.HasNext() == types.True {
			key := it.Next()
			out[fmt.Sprint(key.Value())] = celToNative(v.Get(key))
		}
		return out
	case traits.Lister:
		size, _ := v.Size().(types.Int)
		out := make([]any, 0, int(size))
		for i := types.Int(0); i < size; i++ {
			out = append(out, celToNative(v.Get(i)))
		}
		return out
	}
	return val.Value()
}
