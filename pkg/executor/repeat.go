package executor

import (
	"context"
	"log/slog"

	"github.com/arpanauts/biomapper-sub014/pkg/expr"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// runRepeat evaluates repeat.while_condition before each iteration and
// invokes the step body while it holds true, binding ${repeat.iteration}
// (1-based). Iteration is capped at the lesser of the step's configured
// max_iterations and the engine-wide HardMaxRepeatIterations, so a
// strategy author's always-true condition cannot hang a job forever.
func (e *Executor) runRepeat(ctx context.Context, s *model.Strategy, step model.Step, execCtx *model.ExecutionContext, log *slog.Logger) error {
	spec := step.Repeat
	limit := model.HardMaxRepeatIterations
	if spec.MaxIterations > 0 && spec.MaxIterations < limit {
		limit = spec.MaxIterations
	}

	for iteration := 1; iteration <= limit; iteration++ {
		if ctx.Err() != nil {
			return model.NewError(model.KindCancelled, step.Name, step.ActionType, "job cancelled during repeat")
		}

		repeatBinding := map[string]any{"iteration": float64(iteration)}
		env := buildEnv(s, execCtx, nil, repeatBinding)
		cont, err := expr.EvalBool(spec.WhileCondition, env)
		if err != nil {
			return err
		}
		if !cont {
			break
		}

		if err := e.invokeWithPolicy(ctx, s, step, execCtx, log, nil, repeatBinding); err != nil {
			return err
		}

		if iteration == limit {
			log.Warn("repeat step reached its iteration cap", "step", step.Name, "limit", limit)
		}
	}
	return nil
}
