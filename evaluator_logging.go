package mirror

import "time"

// EvaluatorLogEvent records one run of a path expression. Label is the
// binding or path source the expression belongs to (see WithPathLabel), so
// log lines from different consumers of the same Manager can be told apart.
// Err is the EvaluationError when the run failed.
type EvaluatorLogEvent struct {
	Engine   string
	Expr     string
	Label    string
	Duration time.Duration
	Err      error
}

func (e EvaluatorLogEvent) attrs() []any {
	attrs := []any{"engine", e.Engine, "expr", e.Expr, "duration", e.Duration}
	if e.Label != "" {
		attrs = append(attrs, "source", e.Label)
	}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}
	return attrs
}

// EvaluatorLogger receives an event after every path expression run.
type EvaluatorLogger interface {
	LogEvaluation(EvaluatorLogEvent)
}

// EvaluatorLoggerFunc adapts a function to EvaluatorLogger. A nil func
// discards events.
type EvaluatorLoggerFunc func(EvaluatorLogEvent)

// LogEvaluation implements EvaluatorLogger.
func (f EvaluatorLoggerFunc) LogEvaluation(event EvaluatorLogEvent) {
	if f != nil {
		f(event)
	}
}

// EvaluatorLoggerFor writes evaluation events to logger: failures at warn,
// successes at debug. The source attribute carries the event's Label.
func EvaluatorLoggerFor(logger Logger) EvaluatorLogger {
	logger = loggerOrNop(logger)
	return EvaluatorLoggerFunc(func(event EvaluatorLogEvent) {
		if event.Err != nil {
			logger.Warn("mirror: path expression failed", event.attrs()...)
			return
		}
		logger.Debug("mirror: path expression evaluated", event.attrs()...)
	})
}
