// internal/agent/executor.go
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
)

// Executor dispatches planned actions to the domain's handlers, at most
// budget actions per tick. Handler panics are contained and recorded as
// failed outcomes so one bad handler cannot take the loop down.
type Executor struct {
	logger   *zap.Logger
	handlers map[schemas.ActionKind]schemas.ActionHandler
	budget   int
	history  *History
}

// NewExecutor builds an executor over the domain's handler set.
func NewExecutor(logger *zap.Logger, handlers map[schemas.ActionKind]schemas.ActionHandler, budget int, history *History) *Executor {
	if budget <= 0 {
		budget = 3
	}
	return &Executor{
		logger:   logger.Named("executor"),
		handlers: handlers,
		budget:   budget,
		history:  history,
	}
}

// Execute runs the plan in order, truncated to the per-tick budget. Every
// executed action produces exactly one outcome, appended to the history in
// execution order and returned.
func (e *Executor) Execute(ctx context.Context, plan []schemas.PlannedAction) []schemas.ActionOutcome {
	if len(plan) > e.budget {
		for _, deferred := range plan[e.budget:] {
			e.logger.Info("Deferring action beyond per-tick budget",
				zap.String("kind", string(deferred.Kind)),
				zap.String("target", deferred.Target),
				zap.Int("priority", deferred.Priority))
		}
		plan = plan[:e.budget]
	}

	outcomes := make([]schemas.ActionOutcome, 0, len(plan))
	for _, action := range plan {
		if ctx.Err() != nil {
			e.logger.Warn("Context cancelled, abandoning remaining actions",
				zap.Int("remaining", len(plan)-len(outcomes)))
			break
		}

		outcome := e.dispatch(ctx, action)
		e.history.Append(outcome)
		outcomes = append(outcomes, outcome)

		if outcome.Success {
			e.logger.Info("Action executed",
				zap.String("kind", string(action.Kind)),
				zap.String("target", action.Target),
				zap.Duration("duration", outcome.Duration))
		} else {
			e.logger.Warn("Action failed",
				zap.String("kind", string(action.Kind)),
				zap.String("target", action.Target),
				zap.String("error", outcome.Err))
		}
	}
	return outcomes
}

// dispatch runs a single handler with panic containment.
func (e *Executor) dispatch(ctx context.Context, action schemas.PlannedAction) (outcome schemas.ActionOutcome) {
	start := time.Now()
	outcome = schemas.ActionOutcome{Action: action}

	defer func() {
		outcome.Duration = time.Since(start)
		outcome.FinishedAt = time.Now().UTC()
		if r := recover(); r != nil {
			e.logger.Error("Handler panicked",
				zap.String("kind", string(action.Kind)),
				zap.Any("panic", r),
				zap.Stack("stack"))
			outcome.Success = false
			outcome.Err = fmt.Sprintf("handler panicked: %v", r)
		}
	}()

	handler, ok := e.handlers[action.Kind]
	if !ok {
		// The planner validates kinds; reaching this means the domain's
		// catalog and handler map disagree.
		outcome.Err = fmt.Sprintf("no handler registered for action kind %q", action.Kind)
		return outcome
	}

	result, err := handler.Handle(ctx, action)
	if err != nil {
		outcome.Err = err.Error()
		return outcome
	}
	outcome.Success = true
	outcome.Result = result
	return outcome
}
