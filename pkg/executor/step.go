package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/arpanauts/biomapper-sub014/pkg/expr"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

type stepOutcome struct {
	skipped   bool
	err       error
	stopChain bool
}

// StepEvent is emitted to Executor.OnStep (when set) at each step
// transition, feeding the job manager's current_step/progress reporting and
// any streaming status variant layered on top.
type StepEvent struct {
	JobID    string
	StepName string
	Event    string // started | finished | failed | skipped
	Metrics  map[string]any
}

func (e *Executor) emit(execCtx *model.ExecutionContext, stepName, event string, metrics map[string]any) {
	if e.OnStep != nil {
		e.OnStep(StepEvent{JobID: execCtx.JobID, StepName: stepName, Event: event, Metrics: metrics})
	}
}

// runStep evaluates a step's skip_if_exists/condition, expands for_each and
// repeat, invokes the action (with retry per on_error policy), records its
// StepOutput, applies set_variables, and checkpoints before/after as
// configured.
func (e *Executor) runStep(ctx context.Context, s *model.Strategy, step model.Step, execCtx *model.ExecutionContext, log *slog.Logger) stepOutcome {
	env := buildEnv(s, execCtx, nil, nil)

	if step.SkipIfExists != "" {
		// skip_if_exists is a filesystem check: substitute expressions to a
		// path, then skip the step when that path already exists.
		pathVal, err := expr.Substitute(step.SkipIfExists, env)
		if err != nil {
			return stepOutcome{err: err, stopChain: true}
		}
		path := fmt.Sprintf("%v", pathVal)
		if _, statErr := os.Stat(path); statErr == nil {
			log.Info("step skipped (skip_if_exists)", "step", step.Name, "path", path)
			execCtx.SetStepOutput(step.Name, model.StepOutput{Skipped: true})
			e.emit(execCtx, step.Name, "skipped", nil)
			return stepOutcome{skipped: true}
		}
	}

	if step.Condition != "" {
		run, err := expr.EvalBool(step.Condition, env)
		if err != nil {
			return stepOutcome{err: err, stopChain: true}
		}
		if !run {
			log.Info("step skipped (condition false)", "step", step.Name)
			execCtx.SetStepOutput(step.Name, model.StepOutput{Skipped: true})
			e.emit(execCtx, step.Name, "skipped", nil)
			return stepOutcome{skipped: true}
		}
	}

	e.emit(execCtx, step.Name, "started", nil)
	e.checkpointIfConfigured(ctx, s, step, execCtx, model.CheckpointBefore, log)

	var err error
	switch {
	case step.Repeat != nil:
		err = e.runRepeat(ctx, s, step, execCtx, log)
	case step.ForEach != nil:
		err = e.runForEach(ctx, s, step, execCtx, log)
	default:
		err = e.invokeWithPolicy(ctx, s, step, execCtx, log, nil, nil)
	}

	e.checkpointIfConfigured(ctx, s, step, execCtx, model.CheckpointAfter, log)
	if s.Checkpointing.Enabled && s.Checkpointing.Strategy == model.CheckpointAfterEachStep && e.Checkpoint != nil {
		if cpErr := e.Checkpoint.Save(ctx, execCtx.JobID, step.Name, model.CheckpointAfter, execCtx); cpErr != nil {
			log.Warn("checkpoint save failed", "step", step.Name, "error", cpErr)
		}
	}

	if err != nil {
		e.emit(execCtx, step.Name, "failed", nil)
		return stepOutcome{err: err, stopChain: e.errorActionFor(s, step) == model.ErrorActionStop}
	}
	e.emit(execCtx, step.Name, "finished", execCtx.StepOutputSnapshot()[step.Name].Metrics)
	return stepOutcome{}
}

func (e *Executor) checkpointIfConfigured(ctx context.Context, s *model.Strategy, step model.Step, execCtx *model.ExecutionContext, point model.CheckpointPoint, log *slog.Logger) {
	if e.Checkpoint == nil || !checkpointPointOrNil(step, point) {
		return
	}
	if err := e.Checkpoint.Save(ctx, execCtx.JobID, step.Name, point, execCtx); err != nil {
		log.Warn("checkpoint save failed", "step", step.Name, "point", point, "error", err)
	}
}

func (e *Executor) errorActionFor(s *model.Strategy, step model.Step) model.ErrorAction {
	if step.OnError != nil && step.OnError.Action != "" {
		return step.OnError.Action
	}
	return s.DefaultErrorAction()
}

// invokeWithPolicy runs the action once, applying the step's on_error
// policy (stop/continue/skip/retry-with-fallback) to the result.
// foreach/repeat carry their loop-local bindings for expression
// substitution; both are nil on a plain, unwrapped step.
func (e *Executor) invokeWithPolicy(ctx context.Context, s *model.Strategy, step model.Step, execCtx *model.ExecutionContext, log *slog.Logger, foreach, repeat map[string]any) error {
	policy := step.OnError
	action := e.errorActionFor(s, step)

	attempt := func() error {
		return e.invokeOnce(ctx, s, step, execCtx, foreach, repeat)
	}

	err := attempt()
	if err == nil {
		return nil
	}

	if action != model.ErrorActionRetry || policy == nil || policy.Retry == nil {
		return e.handleNonRetryOutcome(action, step, execCtx, log, err)
	}

	retry := policy.Retry
	var lastErr = err
	attempts := 1
	for i := 1; i < retry.MaxAttempts; i++ {
		// linear: delay, 2*delay, 3*delay, ...; exponential: delay, 2*delay,
		// 4*delay, ...
		delay := retry.Delay * float64(i)
		if retry.Backoff == model.BackoffExponential {
			delay = retry.Delay * float64(int(1)<<uint(i-1))
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return model.NewError(model.KindCancelled, step.Name, step.ActionType, "job cancelled during retry backoff")
			case <-time.After(durationFromDelay(delay)):
			}
		}
		log.Info("retrying step", "step", step.Name, "attempt", i+1, "max_attempts", retry.MaxAttempts)
		lastErr = attempt()
		attempts++
		if lastErr == nil {
			recordAttempts(execCtx, step.Name, attempts)
			return nil
		}
	}
	recordAttempts(execCtx, step.Name, attempts)

	if retry.Fallback != nil {
		if fbErr := applySetVariables(retry.Fallback.SetVariables, buildEnv(s, execCtx, foreach, repeat), execCtx); fbErr != nil {
			log.Warn("fallback set_variables failed", "step", step.Name, "error", fbErr)
		}
		return e.handleNonRetryOutcome(retry.Fallback.Action, step, execCtx, log, lastErr)
	}
	return lastErr
}

// recordAttempts folds the attempt count into the step's recorded metrics,
// so status and later expressions can see how many tries a retried step took.
func recordAttempts(execCtx *model.ExecutionContext, stepName string, attempts int) {
	out := execCtx.StepOutputSnapshot()[stepName]
	if out.Metrics == nil {
		out.Metrics = map[string]any{}
	}
	out.Metrics["attempts"] = attempts
	execCtx.SetStepOutput(stepName, out)
}

func (e *Executor) handleNonRetryOutcome(action model.ErrorAction, step model.Step, execCtx *model.ExecutionContext, log *slog.Logger, err error) error {
	if action == model.ErrorActionContinue || action == model.ErrorActionSkip {
		log.Warn("step failed, continuing per on_error policy", "step", step.Name, "action", action, "error", err)
	}
	// Merge into whatever the step already recorded (e.g. a retry attempt
	// count) instead of replacing it wholesale.
	out := execCtx.StepOutputSnapshot()[step.Name]
	out.Failed = true
	out.Summary = err.Error()
	execCtx.SetStepOutput(step.Name, out)
	return err
}

// invokeOnce substitutes action_params, validates them against the
// action's declared schema, runs Execute, records the StepOutput, and
// applies set_variables on success.
func (e *Executor) invokeOnce(ctx context.Context, s *model.Strategy, step model.Step, execCtx *model.ExecutionContext, foreach, repeat map[string]any) error {
	env := buildEnv(s, execCtx, foreach, repeat)

	act, err := e.Registry.Lookup(step.ActionType)
	if err != nil {
		return err
	}

	rawParams, err := expr.SubstituteParams(step.ActionParams, env)
	if err != nil {
		return err
	}

	validated, err := act.ParamsSchema().Validate(step.Name, step.ActionType, rawParams)
	if err != nil {
		return err
	}

	result, err := act.Execute(ctx, validated, execCtx)
	if err != nil {
		// Keep an already-classified error's kind (e.g. RESOLVER_TIMEOUT,
		// DATASET_NOT_FOUND) so on_error retriability still sees it;
		// anything unclassified is an internal error.
		if merr, ok := err.(*model.Error); ok {
			if merr.StepName == "" {
				merr.StepName = step.Name
			}
			return merr
		}
		return model.Wrap(model.KindInternalError, step.Name, step.ActionType, err)
	}
	if result == nil {
		return model.NewError(model.KindInternalError, step.Name, step.ActionType, "action returned a nil result without an error")
	}

	execCtx.SetStepOutput(step.Name, model.StepOutput{
		Summary: result.Message,
		Metrics: result.Metrics,
		Outputs: result.Outputs,
		Failed:  !result.Success,
	})

	if !result.Success {
		if result.Err != nil {
			return result.Err
		}
		return model.NewError(model.KindInternalError, step.Name, step.ActionType, result.Message)
	}

	if len(step.SetVariables) > 0 {
		if err := applySetVariables(step.SetVariables, env, execCtx); err != nil {
			return err
		}
	}
	return nil
}
