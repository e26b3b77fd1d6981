package model

// ExecutionMode controls how a Strategy's steps are scheduled.
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeDAG        ExecutionMode = "dag"
)

// ErrorAction names an on_error behavior.
type ErrorAction string

const (
	ErrorActionStop     ErrorAction = "stop"
	ErrorActionContinue ErrorAction = "continue"
	ErrorActionSkip     ErrorAction = "skip"
	ErrorActionRetry    ErrorAction = "retry"
)

// BackoffKind names a retry backoff strategy.
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// CheckpointPoint names when a checkpoint is taken relative to a step.
type CheckpointPoint string

const (
	CheckpointBefore CheckpointPoint = "before"
	CheckpointAfter  CheckpointPoint = "after"
)

// CheckpointStrategyKind names the checkpointing cadence for a whole Strategy.
type CheckpointStrategyKind string

const (
	CheckpointAfterEachStep      CheckpointStrategyKind = "after_each_step"
	CheckpointAfterCriticalSteps CheckpointStrategyKind = "after_critical_steps"
	CheckpointManual             CheckpointStrategyKind = "manual"
)

// RetryPolicy configures the on_error: retry behavior of a Step.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1"`
	Backoff     BackoffKind   `yaml:"backoff"`
	Delay       float64       `yaml:"delay"` // seconds
	Fallback    *FallbackSpec `yaml:"fallback,omitempty"`
}

// FallbackSpec describes what happens when a retry policy is exhausted.
type FallbackSpec struct {
	Action       ErrorAction    `yaml:"action"` // stop | skip | continue
	SetVariables map[string]any `yaml:"set_variables,omitempty"`
}

// OnErrorSpec is the on_error block attached to a Step, overriding the
// strategy-level default.
type OnErrorSpec struct {
	Action ErrorAction  `yaml:"action"`
	Retry  *RetryPolicy `yaml:"retry,omitempty"`
}

// ForEachSpec drives iteration over a list of items, binding
// ${foreach.item} / ${foreach.index} inside the step body.
type ForEachSpec struct {
	Items      string `yaml:"items"` // expression evaluating to a list
	Parallel   bool   `yaml:"parallel,omitempty"`
	MaxWorkers int    `yaml:"max_workers,omitempty"`
	FailFast   bool   `yaml:"fail_fast,omitempty"`
}

// RepeatSpec drives bounded repetition of a step body.
type RepeatSpec struct {
	WhileCondition string `yaml:"while_condition"`
	MaxIterations  int    `yaml:"max_iterations,omitempty"`
}

// HardMaxRepeatIterations is the absolute cap on repeat iterations
// regardless of configured max_iterations, per spec.md §4.6.
const HardMaxRepeatIterations = 1000

// Step is one invocation of an action within a Strategy, optionally
// wrapped in control flow.
type Step struct {
	Name         string         `yaml:"name" validate:"required"`
	ActionType   string         `yaml:"action_type" validate:"required"`
	ActionParams map[string]any `yaml:"action_params,omitempty"`

	Condition     string           `yaml:"condition,omitempty"`
	DependsOn     []string         `yaml:"depends_on,omitempty"`
	ForEach       *ForEachSpec     `yaml:"for_each,omitempty"`
	Repeat        *RepeatSpec      `yaml:"repeat,omitempty"`
	OnError       *OnErrorSpec     `yaml:"on_error,omitempty"`
	SetVariables  map[string]any   `yaml:"set_variables,omitempty"`
	IsCritical    bool             `yaml:"is_critical,omitempty"`
	Checkpoint    *CheckpointPoint `yaml:"checkpoint,omitempty"`
	SkipIfExists  string           `yaml:"skip_if_exists,omitempty"`
}

// ErrorHandlingConfig is the strategy-level default error policy.
type ErrorHandlingConfig struct {
	Default    ErrorAction `yaml:"default"`
	MaxRetries int         `yaml:"max_retries,omitempty"`
	RetryDelay float64     `yaml:"retry_delay,omitempty"`
}

// CheckpointingConfig is the strategy-level checkpoint policy.
type CheckpointingConfig struct {
	Enabled   bool                   `yaml:"enabled"`
	Strategy  CheckpointStrategyKind `yaml:"strategy,omitempty"`
	Storage   string                 `yaml:"storage,omitempty"`
	Path      string                 `yaml:"path,omitempty"`
	Retention string                 `yaml:"retention,omitempty"`
}

// ExecutionConfig is the strategy-level execution.mode block.
type ExecutionConfig struct {
	Mode       ExecutionMode `yaml:"mode,omitempty"`
	MaxWorkers int           `yaml:"max_workers,omitempty"`
}

// DefaultDAGMaxWorkers is the bounded worker-pool size used for DAG-mode
// parallel steps when a strategy doesn't declare execution.max_workers,
// per spec.md §5.
const DefaultDAGMaxWorkers = 4

// MaxWorkersOrDefault returns the strategy's configured DAG worker-pool
// size, defaulting to DefaultDAGMaxWorkers when unset or non-positive.
func (s *Strategy) MaxWorkersOrDefault() int {
	if s.Execution.MaxWorkers <= 0 {
		return DefaultDAGMaxWorkers
	}
	return s.Execution.MaxWorkers
}

// Strategy is an immutable, declarative pipeline over actions, loaded once
// at process startup and shared-read by jobs.
type Strategy struct {
	Name           string                `yaml:"name" validate:"required"`
	Description    string                `yaml:"description,omitempty"`
	Parameters     map[string]any        `yaml:"parameters,omitempty"`
	Variables      map[string]any        `yaml:"variables,omitempty"`
	Execution      ExecutionConfig       `yaml:"execution,omitempty"`
	ErrorHandling  ErrorHandlingConfig   `yaml:"error_handling,omitempty"`
	Checkpointing  CheckpointingConfig   `yaml:"checkpointing,omitempty"`
	Steps          []Step                `yaml:"steps" validate:"required,min=1,dive"`
	FinallySteps   []Step                `yaml:"finally_steps,omitempty"`

	// SourcePath records the file the strategy was loaded from, for
	// STRATEGY_LOAD_ERROR messages.
	SourcePath string `yaml:"-"`
}

// ExecutionModeOrDefault returns the strategy's execution mode, defaulting
// to sequential when unset, per spec.md §6.
func (s *Strategy) ExecutionModeOrDefault() ExecutionMode {
	if s.Execution.Mode == "" {
		return ExecutionModeSequential
	}
	return s.Execution.Mode
}

// DefaultErrorAction returns the strategy-level default on_error action,
// defaulting to "stop" per spec.md §6.
func (s *Strategy) DefaultErrorAction() ErrorAction {
	if s.ErrorHandling.Default == "" {
		return ErrorActionStop
	}
	return s.ErrorHandling.Default
}

// StepByName looks up a step (main or finally) by name.
func (s *Strategy) StepByName(name string) (Step, bool) {
	for _, st := range s.Steps {
		if st.Name == name {
			return st, true
		}
	}
	for _, st := range s.FinallySteps {
		if st.Name == name {
			return st, true
		}
	}
	return Step{}, false
}
