package model

import (
	"sync"
	"time"
)

// StepOutput is the record the executor stores for each completed step,
// readable by later steps' expressions (${steps.S.metrics.M}, etc.).
type StepOutput struct {
	Summary string         `json:"summary"`
	Metrics map[string]any `json:"metrics"`
	Outputs map[string]any `json:"outputs"`
	Failed  bool           `json:"failed"`
	Skipped bool           `json:"skipped"`
	Raw     any            `json:"-"`
}

// StageStats is the per-stage progress record produced by the progressive
// wrapper, per spec.md §3.
type StageStats struct {
	StageNumber      int           `json:"stage_number"`
	StageName        string        `json:"stage_name"`
	Method           string        `json:"method"`
	NewMatches       int           `json:"new_matches"`
	CumulativeMatched int          `json:"cumulative_matched"`
	Unmatched        int           `json:"unmatched"`
	CumulativeRate   float64       `json:"cumulative_rate"`
	WallTime         time.Duration `json:"wall_time"`
	ConfidenceAvg    float64       `json:"confidence_avg"`
}

// ProgressiveStats is the aggregate progressive-mapping bookkeeping carried
// in ExecutionContext.ProgressiveStats.
type ProgressiveStats struct {
	Stages          map[int]StageStats `json:"stages"`
	TotalProcessed  int                `json:"total_processed"`
	FinalMatchRate  float64            `json:"final_match_rate"`
	TotalTime       time.Duration      `json:"total_time"`
	// Matched tracks, per source_id, which stage first matched it — used to
	// enforce "first stage to match wins" across the whole run.
	Matched map[string]int `json:"-"`
}

// NewProgressiveStats returns an empty, ready-to-use ProgressiveStats.
func NewProgressiveStats() *ProgressiveStats {
	return &ProgressiveStats{
		Stages:  make(map[int]StageStats),
		Matched: make(map[string]int),
	}
}

// ExecutionContext is the shared mutable workspace of one job. In
// sequential mode one step at a time mutates it; in DAG mode every step of
// a wave runs on its own goroutine and may read and write it concurrently.
// The accessor methods take the embedded RWMutex, which is what makes those
// concurrent accesses safe; direct access to the exported maps is not
// guarded.
type ExecutionContext struct {
	mu sync.RWMutex

	JobID        string
	StrategyName string
	StartTime    time.Time
	Env          map[string]string

	Datasets         map[string]*Dataset
	Statistics       map[string]any
	StepOutputs      map[string]StepOutput
	Variables        map[string]any
	Parameters       map[string]any
	ProgressiveStats *ProgressiveStats
	OutputFiles      map[string]string
}

// NewExecutionContext creates a fresh, empty ExecutionContext for a job.
func NewExecutionContext(jobID, strategyName string, parameters, variables map[string]any) *ExecutionContext {
	if parameters == nil {
		parameters = map[string]any{}
	}
	if variables == nil {
		variables = map[string]any{}
	}
	return &ExecutionContext{
		JobID:            jobID,
		StrategyName:     strategyName,
		StartTime:        time.Now(),
		Env:              map[string]string{},
		Datasets:         map[string]*Dataset{},
		Statistics:       map[string]any{},
		StepOutputs:      map[string]StepOutput{},
		Variables:        variables,
		Parameters:       parameters,
		ProgressiveStats: NewProgressiveStats(),
		OutputFiles:      map[string]string{},
	}
}

// GetDataset reads a dataset by key under the read lock, suitable for
// status-polling code that runs concurrently with the executing step.
func (c *ExecutionContext) GetDataset(key string) (*Dataset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.Datasets[key]
	return d, ok
}

// SetDataset writes a dataset by key under the write lock. Actions call
// this rather than mutating c.Datasets directly so concurrent status reads
// never observe a torn map.
func (c *ExecutionContext) SetDataset(key string, d *Dataset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Datasets[key] = d
}

// DatasetsSnapshot returns a shallow copy of the current dataset map
// (individual Datasets are not copied, since they are never mutated in
// place once set — see Dataset's doc comment).
func (c *ExecutionContext) DatasetsSnapshot() map[string]*Dataset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*Dataset, len(c.Datasets))
	for k, v := range c.Datasets {
		out[k] = v
	}
	return out
}

// SetStepOutput records a completed step's output.
func (c *ExecutionContext) SetStepOutput(stepName string, out StepOutput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StepOutputs[stepName] = out
}

// StepOutputSnapshot returns a copy of the current step outputs, safe for
// concurrent reads from status polling.
func (c *ExecutionContext) StepOutputSnapshot() map[string]StepOutput {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]StepOutput, len(c.StepOutputs))
	for k, v := range c.StepOutputs {
		out[k] = v
	}
	return out
}

// SetVariable sets a strategy variable mid-run (set_variables support).
func (c *ExecutionContext) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Variables[name] = value
}

// VariablesSnapshot returns a shallow copy of the current variables map, for
// building an expression environment without exposing the live map.
func (c *ExecutionContext) VariablesSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.Variables))
	for k, v := range c.Variables {
		out[k] = v
	}
	return out
}

// ParametersSnapshot returns a shallow copy of the job's parameters.
func (c *ExecutionContext) ParametersSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.Parameters))
	for k, v := range c.Parameters {
		out[k] = v
	}
	return out
}

// StatisticsSnapshot returns a shallow copy of the running statistics map,
// read by the job manager's status endpoint.
func (c *ExecutionContext) StatisticsSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.Statistics))
	for k, v := range c.Statistics {
		out[k] = v
	}
	return out
}

// SetStatistic records a named run-wide statistic (e.g. total rows loaded),
// written by primitive actions like calculate_set_overlap.
func (c *ExecutionContext) SetStatistic(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statistics[name] = value
}

// SetOutputFile records a file an action wrote, surfaced to job status/result.
func (c *ExecutionContext) SetOutputFile(key, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OutputFiles[key] = path
}

// OutputFilesSnapshot returns a shallow copy of recorded output files.
func (c *ExecutionContext) OutputFilesSnapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.OutputFiles))
	for k, v := range c.OutputFiles {
		out[k] = v
	}
	return out
}
