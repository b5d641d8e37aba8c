package mirror

import (
	"errors"
	"fmt"
	"strings"
)

// EvaluationError reports a path expression that failed to compile or run.
//
// Label names the binding or path source the expression belongs to, as given
// by WithPathLabel; it is empty for expressions evaluated on their own.
// Position is the 1-based index of the expression within that source, zero
// when unknown.
type EvaluationError struct {
	Engine   string
	Expr     string
	Label    string
	Position int
	Err      error
}

// Error renders e as, for example:
//
//	mirror: source=chat expression[2] "props.room" engine=expr: boom
func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("mirror: ")
	if e.Label != "" {
		fmt.Fprintf(&b, "source=%s ", e.Label)
	}
	b.WriteString("expression")
	if e.Position > 0 {
		fmt.Fprintf(&b, "[%d]", e.Position)
	}
	if e.Expr == "" {
		b.WriteString(" <empty>")
	} else {
		fmt.Fprintf(&b, " %q", e.Expr)
	}
	if e.Engine != "" {
		fmt.Fprintf(&b, " engine=%s", e.Engine)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// describeFailure attaches what the caller knows about the failing
// expression to err. An EvaluationError already in the chain keeps its own
// fields and only gains the ones it lacks.
func describeFailure(err error, at EvaluationError) error {
	if err == nil {
		return nil
	}
	var known *EvaluationError
	if !errors.As(err, &known) {
		at.Err = err
		return &at
	}
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&known.Engine, at.Engine)
	fill(&known.Expr, at.Expr)
	fill(&known.Label, at.Label)
	if known.Position == 0 {
		known.Position = at.Position
	}
	return known
}

// engineError prefixes a failure that is not tied to one expression, such as
// a misconfigured engine. Errors already carrying the package prefix pass
// through.
func engineError(engine string, err error) error {
	if err == nil {
		return nil
	}
	var known *EvaluationError
	if errors.As(err, &known) || strings.HasPrefix(err.Error(), "mirror:") {
		return err
	}
	return fmt.Errorf("mirror: %s evaluator: %w", engine, err)
}
