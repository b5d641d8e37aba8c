//go:build !js_eval

package mirror

// NewJSEvaluator is unavailable without the js_eval build tag and returns nil;
// NewEvaluator reports that as ErrNoEvaluator.
func NewJSEvaluator(...EvaluatorOption) Evaluator {
	return nil
}
