// Package executor runs a loaded Strategy against an ExecutionContext:
// sequential or DAG-ordered step scheduling, condition/skip_if_exists
// evaluation, for_each/repeat expansion, on_error policy enforcement,
// checkpointing, and finally_steps — the pipeline-running heart of
// biomapper, modeled on the teacher's chain executor in pkg/queue/executor.go.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/arpanauts/biomapper-sub014/pkg/expr"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
)

// CheckpointStore is the collaborator the executor calls before/after steps
// whose checkpoint point matches, and after each step when a strategy's
// checkpointing.strategy is after_each_step. Implemented by pkg/checkpoint;
// declared here (structurally, not by import) so executor never depends on
// the storage backend.
type CheckpointStore interface {
	Save(ctx context.Context, jobID, stepName string, point model.CheckpointPoint, execCtx *model.ExecutionContext) error
}

// Outcome is the terminal result of running a Strategy.
type Outcome struct {
	Status         model.JobStatus
	CompletedSteps []string
	FailedStep     string
	Err            error
}

// Executor runs strategies against a shared action registry.
type Executor struct {
	Registry   *registry.Registry
	Checkpoint CheckpointStore
	Logger     *slog.Logger

	// OnStep, when set, receives a StepEvent at each step transition
	// (started/finished/failed/skipped). The job manager uses it to keep a
	// job's current_step and revision fresh while the job runs. Set it
	// before any job starts; it is read concurrently by every worker.
	OnStep func(StepEvent)
}

// New builds an Executor. A nil checkpoint store disables checkpointing
// regardless of what a strategy's checkpointing block requests.
func New(reg *registry.Registry, cp CheckpointStore, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{Registry: reg, Checkpoint: cp, Logger: logger}
}

// Run executes every main step of s (topological, wave-parallel for DAG
// mode; declared order for sequential), then every finally step
// unconditionally, and reports the aggregate Outcome.
func (e *Executor) Run(ctx context.Context, s *model.Strategy, execCtx *model.ExecutionContext) *Outcome {
	log := e.Logger.With("job_id", execCtx.JobID, "strategy", s.Name)
	log.Info("executor: starting strategy run")

	var completed []string
	var failedStep string
	var runErr error
	if s.ExecutionModeOrDefault() == model.ExecutionModeDAG {
		completed, failedStep, runErr = e.runDAG(ctx, s, execCtx, log)
	} else {
		completed, failedStep, runErr = e.runSequential(ctx, s, execCtx, log)
	}

	e.runFinally(ctx, s, execCtx, log)

	status := model.JobStatusSucceeded
	if runErr != nil {
		status = model.JobStatusFailed
	}
	log.Info("executor: strategy run finished", "status", status, "completed_steps", len(completed))
	return &Outcome{Status: status, CompletedSteps: completed, FailedStep: failedStep, Err: runErr}
}

// runSequential runs every main step in declared order, one at a time.
func (e *Executor) runSequential(ctx context.Context, s *model.Strategy, execCtx *model.ExecutionContext, log *slog.Logger) (completed []string, failedStep string, runErr error) {
	order := orderedSteps(s)

	for _, step := range order {
		if ctx.Err() != nil {
			runErr = model.NewError(model.KindCancelled, step.Name, step.ActionType, "job cancelled")
			failedStep = step.Name
			break
		}

		outcome := e.runStep(ctx, s, step, execCtx, log)
		if outcome.skipped {
			completed = append(completed, step.Name)
			continue
		}
		if outcome.err != nil {
			failedStep = step.Name
			runErr = outcome.err
			if outcome.stopChain {
				break
			}
			// on_error=continue/skip: record failure but keep going.
			completed = append(completed, step.Name)
			continue
		}
		completed = append(completed, step.Name)
	}
	return completed, failedStep, runErr
}

// waveStepOutcome pairs a step with the stepOutcome its goroutine produced,
// so results can be reassembled in declaration order once every step in the
// wave has finished (order of completion across goroutines is otherwise
// unspecified).
type waveStepOutcome struct {
	step    model.Step
	outcome stepOutcome
}

// runDAG runs s's main steps wave-by-wave: dagWaves groups steps so every
// step in a wave has all its depends_on already satisfied by earlier waves,
// and every step within a wave is independent of every other step in that
// wave. Steps within a wave run concurrently, bounded by a worker-pool
// semaphore sized to the strategy's execution.max_workers (default
// model.DefaultDAGMaxWorkers), mirroring the teacher's executeStage
// fan-out/fan-in shape (pkg/queue/executor.go: launch one goroutine per
// item, collect results over a buffered channel, wg.Wait() before moving
// on) generalized with a bounded semaphore since a wave can be larger than
// the configured pool. A wave whose dependencies were never satisfied
// because an earlier wave halted with a stopping failure never runs.
func (e *Executor) runDAG(ctx context.Context, s *model.Strategy, execCtx *model.ExecutionContext, log *slog.Logger) (completed []string, failedStep string, runErr error) {
	maxWorkers := s.MaxWorkersOrDefault()

	for _, wave := range dagWaves(s.Steps) {
		if ctx.Err() != nil {
			runErr = model.NewError(model.KindCancelled, "", "", "job cancelled")
			return completed, failedStep, runErr
		}

		results := make(chan waveStepOutcome, len(wave))
		sem := make(chan struct{}, maxWorkers)
		var wg sync.WaitGroup

		for _, step := range wave {
			wg.Add(1)
			sem <- struct{}{}
			go func(step model.Step) {
				defer wg.Done()
				defer func() { <-sem }()
				results <- waveStepOutcome{step: step, outcome: e.runStep(ctx, s, step, execCtx, log)}
			}(step)
		}
		wg.Wait()
		close(results)

		byName := make(map[string]stepOutcome, len(wave))
		for r := range results {
			byName[r.step.Name] = r.outcome
		}

		stopChain := false
		for _, step := range wave {
			outcome := byName[step.Name]
			if outcome.skipped {
				completed = append(completed, step.Name)
				continue
			}
			if outcome.err != nil {
				failedStep = step.Name
				runErr = outcome.err
				if outcome.stopChain {
					stopChain = true
				}
				completed = append(completed, step.Name)
				continue
			}
			completed = append(completed, step.Name)
		}

		if stopChain {
			break
		}
	}
	return completed, failedStep, runErr
}

// runFinally executes finally_steps best-effort: a failure in one does not
// stop the others, matching "cleanup always attempted" semantics. It never
// runs if the strategy never started (Run is never called in that case —
// see the Open Question decision in DESIGN.md).
func (e *Executor) runFinally(ctx context.Context, s *model.Strategy, execCtx *model.ExecutionContext, log *slog.Logger) {
	for _, step := range s.FinallySteps {
		if outcome := e.runStep(ctx, s, step, execCtx, log); outcome.err != nil {
			log.Warn("finally step failed", "step", step.Name, "error", outcome.err)
		}
	}
}

func buildEnv(s *model.Strategy, execCtx *model.ExecutionContext, foreach, repeat map[string]any) expr.Env {
	steps := make(map[string]expr.StepView, len(execCtx.StepOutputs))
	for name, out := range execCtx.StepOutputSnapshot() {
		steps[name] = expr.StepView{Metrics: out.Metrics, Outputs: out.Outputs, Failed: out.Failed}
	}
	osEnv := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				osEnv[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	// Job-scoped metadata (e.g. OUTPUT_ROOT) overrides the process
	// environment of the same name, so ${env.X} sees per-job values set on
	// ExecutionContext.Env without requiring a real OS environment variable.
	for k, v := range execCtx.Env {
		osEnv[k] = v
	}
	return expr.NewEnv(execCtx.ParametersSnapshot(), execCtx.VariablesSnapshot(), osEnv, steps, foreach, repeat)
}

func applySetVariables(setVars map[string]any, env expr.Env, execCtx *model.ExecutionContext) error {
	for name, raw := range setVars {
		var val any
		switch v := raw.(type) {
		case string:
			sv, err := expr.Substitute(v, env)
			if err != nil {
				return err
			}
			val = sv
		default:
			val = v
		}
		execCtx.SetVariable(name, val)
	}
	return nil
}

func checkpointPointOrNil(step model.Step, point model.CheckpointPoint) bool {
	return step.Checkpoint != nil && *step.Checkpoint == point
}

func durationFromDelay(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func fmtStep(step model.Step) string {
	return fmt.Sprintf("%s(%s)", step.Name, step.ActionType)
}
