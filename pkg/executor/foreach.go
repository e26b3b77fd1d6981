package executor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arpanauts/biomapper-sub014/pkg/expr"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// runForEach evaluates for_each.items and invokes the step body once per
// item, sequentially unless parallel is set (bounded by max_workers,
// default 1). Every iteration writes to the same ExecutionContext step-name
// key, so results are last-writer-wins by construction. Colliding writes
// are neither rejected nor detected: nothing is logged for a collision,
// only for a failed iteration.
func (e *Executor) runForEach(ctx context.Context, s *model.Strategy, step model.Step, execCtx *model.ExecutionContext, log *slog.Logger) error {
	spec := step.ForEach
	baseEnv := buildEnv(s, execCtx, nil, nil)
	items, err := expr.EvalList(spec.Items, baseEnv)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	if !spec.Parallel {
		for i, item := range items {
			if ctx.Err() != nil {
				return model.NewError(model.KindCancelled, step.Name, step.ActionType, "job cancelled during for_each")
			}
			foreach := map[string]any{"index": float64(i), "item": item}
			if err := e.invokeWithPolicy(ctx, s, step, execCtx, log, foreach, nil); err != nil {
				if spec.FailFast {
					return err
				}
				log.Warn("for_each iteration failed, continuing (fail_fast=false)", "step", step.Name, "index", i, "error", err)
			}
		}
		return nil
	}

	workers := spec.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, item := range items {
		if cctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			defer func() { <-sem }()
			if cctx.Err() != nil {
				return
			}
			foreach := map[string]any{"index": float64(i), "item": item}
			if err := e.invokeWithPolicy(cctx, s, step, execCtx, log, foreach, nil); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				shouldCancel := spec.FailFast
				mu.Unlock()
				if shouldCancel {
					cancel()
				} else {
					log.Warn("for_each iteration failed, continuing (fail_fast=false)", "step", step.Name, "index", i, "error", err)
				}
			}
		}(i, item)
	}
	wg.Wait()

	if spec.FailFast {
		return firstErr
	}
	return nil
}
