package job

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"

	"github.com/arpanauts/biomapper-sub014/pkg/checkpoint"
	"github.com/arpanauts/biomapper-sub014/pkg/executor"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/strategy"
)

// StrategyInfo is the list_strategies() response shape (spec.md §4.9).
type StrategyInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Parameters  []string `json:"parameters"`
}

// HealthInfo is the health() response shape.
type HealthInfo struct {
	OK               bool `json:"ok"`
	LoadedStrategies int  `json:"loaded_strategies"`
	Workers          int  `json:"workers"`
}

// Manager is the job-oriented API surface (component I): it validates and
// enqueues execute requests, persists job state through a Store, and runs a
// bounded pool of workers that poll for pending work and drive the
// executor, mirroring the teacher's WorkerPool/Worker split in pkg/queue.
type Manager struct {
	Strategies *strategy.Registry
	Store      Store
	Executor   *executor.Executor
	Checkpoint *checkpoint.Store
	OutputRoot string
	Workers    int
	PollEvery  time.Duration

	Logger *slog.Logger

	mu        sync.Mutex
	cancelFns map[string]context.CancelFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Manager. Call Start to begin polling for pending jobs.
func New(strategies *strategy.Registry, store Store, exec *executor.Executor, cp *checkpoint.Store, outputRoot string, workers int, logger *slog.Logger) *Manager {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		Strategies: strategies,
		Store:      store,
		Executor:   exec,
		Checkpoint: cp,
		OutputRoot: outputRoot,
		Workers:    workers,
		PollEvery:  500 * time.Millisecond,
		Logger:     logger,
		cancelFns:  make(map[string]context.CancelFunc),
		stopCh:     make(chan struct{}),
	}
}

// Start recovers any in-flight jobs from a previous process lifetime (per
// spec.md §4.9: "in-flight jobs at restart are marked failed") and spawns
// the worker pool.
func (m *Manager) Start(ctx context.Context) error {
	n, err := m.Store.RecoverInFlight(ctx)
	if err != nil {
		return fmt.Errorf("recover in-flight jobs: %w", err)
	}
	if n > 0 {
		m.Logger.Warn("job manager: recovered in-flight jobs as failed on restart", "count", n)
	}

	m.Executor.OnStep = m.handleStepEvent

	for i := 0; i < m.Workers; i++ {
		m.wg.Add(1)
		go m.runWorker(ctx, i)
	}
	return nil
}

// Stop signals every worker to finish its current job and stop polling,
// then waits for them to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// ListStrategies implements list_strategies().
func (m *Manager) ListStrategies() []StrategyInfo {
	all := m.Strategies.All()
	out := make([]StrategyInfo, 0, len(all))
	for _, s := range all {
		params := make([]string, 0, len(s.Parameters))
		for name := range s.Parameters {
			params = append(params, name)
		}
		out = append(out, StrategyInfo{Name: s.Name, Description: s.Description, Parameters: params})
	}
	return out
}

// Health implements health().
func (m *Manager) Health() HealthInfo {
	return HealthInfo{OK: true, LoadedStrategies: len(m.Strategies.Names()), Workers: m.Workers}
}

// Submit implements submit(strategy_name, parameters): validates the
// strategy exists, merges job parameters over the strategy's defaults, and
// persists a new pending Job. A worker picks it up asynchronously.
func (m *Manager) Submit(ctx context.Context, strategyName string, params map[string]any) (*model.Job, error) {
	strat, ok := m.Strategies.Get(strategyName)
	if !ok {
		return nil, model.NewError(model.KindUnknownActionType, "", strategyName, fmt.Sprintf("unknown strategy %q", strategyName))
	}

	merged := map[string]any{}
	for k, v := range strat.Parameters {
		merged[k] = v
	}
	if err := mergo.Merge(&merged, params, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge job parameters: %w", err)
	}

	j := &model.Job{
		JobID:        uuid.NewString(),
		StrategyName: strategyName,
		Parameters:   merged,
		Status:       model.JobStatusPending,
		SubmittedAt:  time.Now(),
	}
	if err := m.Store.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("persist submitted job: %w", err)
	}
	m.Logger.Info("job submitted", "job_id", j.JobID, "strategy", strategyName)
	return j, nil
}

// Status implements status(job_id).
func (m *Manager) Status(ctx context.Context, jobID string) (*model.Job, error) {
	return m.Store.Get(ctx, jobID)
}

// Result implements result(job_id): the same condensed record as Status —
// the Job already carries output file paths and the metrics snapshot.
func (m *Manager) Result(ctx context.Context, jobID string) (*model.Job, error) {
	return m.Store.Get(ctx, jobID)
}

// Cancel implements cancel(job_id) -> ok|not_cancellable. It signals
// cancellation to a worker currently running this job on this process; a
// job not running here (queued, or owned by another process) is reported
// not_cancellable even though it may still be running elsewhere.
func (m *Manager) Cancel(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	cancel, ok := m.cancelFns[jobID]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	cancel()

	j, err := m.Store.Get(ctx, jobID)
	if err == nil {
		j.CancelRequested = true
		_ = m.Store.Save(ctx, j)
	}
	return true, nil
}

// handleStepEvent keeps the persisted job record's current_step and
// revision fresh as the executor moves through steps, so status polling
// sees progress (and the revision bump spec.md §6 requires for change
// detection) without waiting for the job to finish.
func (m *Manager) handleStepEvent(ev executor.StepEvent) {
	j, err := m.Store.Get(context.Background(), ev.JobID)
	if err != nil {
		return
	}
	switch ev.Event {
	case "started":
		j.CurrentStep = ev.StepName
	case "finished", "failed", "skipped":
		if j.CurrentStep == ev.StepName {
			j.CurrentStep = ""
		}
		j.CompletedSteps = append(j.CompletedSteps, ev.StepName)
	}
	j.Revision++
	if err := m.Store.Save(context.Background(), j); err != nil {
		m.Logger.Warn("persist step event failed", "job_id", ev.JobID, "step", ev.StepName, "error", err)
	}
}

func (m *Manager) registerCancel(jobID string, cancel context.CancelFunc) {
	m.mu.Lock()
	m.cancelFns[jobID] = cancel
	m.mu.Unlock()
}

func (m *Manager) unregisterCancel(jobID string) {
	m.mu.Lock()
	delete(m.cancelFns, jobID)
	m.mu.Unlock()
}

// runWorker is one polling worker goroutine: claim, run, repeat, until Stop.
func (m *Manager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()
	log := m.Logger.With("worker", id)
	ticker := time.NewTicker(m.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			j, err := m.Store.ClaimPending(ctx)
			if err != nil {
				log.Error("claim pending job failed", "error", err)
				continue
			}
			if j == nil {
				continue
			}
			m.runJob(ctx, j, log)
		}
	}
}

// runJob drives one claimed Job to a terminal state through the executor.
func (m *Manager) runJob(parent context.Context, j *model.Job, log *slog.Logger) {
	log = log.With("job_id", j.JobID, "strategy", j.StrategyName)
	log.Info("worker: starting job")

	strat, ok := m.Strategies.Get(j.StrategyName)
	if !ok {
		j.Status = model.JobStatusFailed
		j.ErrorKind = string(model.KindUnknownActionType)
		j.ErrorMessage = fmt.Sprintf("strategy %q no longer loaded", j.StrategyName)
		m.finish(parent, j)
		return
	}

	jobCtx, cancel := context.WithCancel(parent)
	m.registerCancel(j.JobID, cancel)
	defer m.unregisterCancel(j.JobID)
	defer cancel()

	execCtx := model.NewExecutionContext(j.JobID, j.StrategyName, j.Parameters, cloneVars(strat.Variables))
	outDir := filepath.Join(m.OutputRoot, j.JobID)
	execCtx.Env["OUTPUT_ROOT"] = outDir

	outcome := m.Executor.Run(jobCtx, strat, execCtx)

	j.CompletedSteps = outcome.CompletedSteps
	j.MetricsSnapshot = execCtx.StatisticsSnapshot()
	j.OutputFiles = execCtx.OutputFilesSnapshot()

	switch {
	case outcome.Status == model.JobStatusFailed && jobCtx.Err() != nil:
		j.Status = model.JobStatusCancelled
	default:
		j.Status = outcome.Status
	}
	if outcome.Err != nil {
		j.FailedStep = outcome.FailedStep
		if merr, ok := outcome.Err.(*model.Error); ok {
			j.ErrorKind = string(merr.Kind)
		}
		j.ErrorMessage = outcome.Err.Error()
	}

	m.finish(parent, j)
	log.Info("worker: job finished", "status", j.Status)
}

func (m *Manager) finish(ctx context.Context, j *model.Job) {
	now := time.Now()
	j.CompletedAt = &now
	// Step events bumped the stored revision while this worker held a stale
	// copy; re-sync so revision stays monotonic for change detection.
	if latest, err := m.Store.Get(ctx, j.JobID); err == nil && latest.Revision > j.Revision {
		j.Revision = latest.Revision
	}
	j.Revision++
	if err := m.Store.Save(ctx, j); err != nil {
		m.Logger.Error("persist job completion failed", "job_id", j.JobID, "error", err)
	}
}

func cloneVars(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
