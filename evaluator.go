package mirror

import (
	"maps"
	"slices"
	"time"
)

// RuleContext carries the inputs available to a path expression.
type RuleContext struct {
	// Input is the consumer input the expression derives paths from. It is
	// bound as props; when it is a map its keys are also bound at top level.
	Input    any
	Now      *time.Time
	Args     map[string]any
	Metadata map[string]any
	// Label names the binding in errors and logs.
	Label string
}

// withDefaults stamps the current time when Now is unset and replaces nil
// maps with empty ones so expressions can index them.
func (ctx RuleContext) withDefaults() RuleContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

func (ctx RuleContext) label() string {
	if ctx.Label != "" {
		return ctx.Label
	}
	return "unknown"
}

// props returns the input as plain Go data.
func (ctx RuleContext) props() any {
	switch typed := ctx.Input.(type) {
	case Value:
		return typed.Interface()
	case *Snapshot:
		if typed == nil {
			return nil
		}
		return typed.Val().Interface()
	default:
		return typed
	}
}

// bindings returns the variables every engine exposes: now, args, metadata,
// props, and the top-level keys of a map input.
func (ctx RuleContext) bindings() map[string]any {
	ctx = ctx.withDefaults()
	props := ctx.props()
	env := map[string]any{
		"now":      *ctx.Now,
		"args":     ctx.Args,
		"metadata": ctx.Metadata,
		"props":    props,
	}
	if m, ok := props.(map[string]any); ok {
		for key, value := range m {
			if _, reserved := env[key]; reserved {
				continue
			}
			env[key] = value
		}
	}
	return env
}

func sortedBindingNames(env map[string]any) []string {
	return slices.Sorted(maps.Keys(env))
}

// Evaluator executes expressions against a rule context.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}
