package action

import (
	"context"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// Class classifies an action by its role in a strategy, per spec.md §4.3.
type Class string

const (
	ClassLoaderSink  Class = "loader_sink"
	ClassTransformer Class = "transformer"
	ClassMapper      Class = "mapper"
	ClassAnalyzer    Class = "analyzer"
	ClassReporter    Class = "reporter"
)

// Result is the outcome of one action execution. Success is the primary
// signal the executor inspects; Metrics and Outputs feed later steps'
// expressions (${steps.S.metrics.M}, ${steps.S.outputs.K}).
type Result struct {
	Success bool
	Message string
	Metrics map[string]any
	Outputs map[string]any

	// MappingResults is populated by mapper actions: the raw
	// StandardMappingResult records produced, consumed by the progressive
	// wrapper.
	MappingResults []model.StandardMappingResult

	// Err carries the underlying *model.Error when Success is false,
	// letting the executor inspect Kind/Retriable without re-parsing Message.
	Err error
}

// Action is the contract every registered action type implements. An
// action declares its parameter and result shapes as data (see Schema) and
// documents, by convention in its Consumes/Produces methods, which context
// keys it reads and writes — the executor enforces no additional locking
// beyond linearizing steps (spec.md §4.3).
type Action interface {
	// Type returns the registry key this action is registered under.
	Type() string

	// Class reports the action's role.
	Class() Class

	// ParamsSchema declares the shape of action_params this action accepts.
	ParamsSchema() Schema

	// ResultSchema declares the shape of the metrics/outputs this action
	// produces, for documentation and introspection (list_strategies).
	ResultSchema() Schema

	// Consumes lists the ExecutionContext dataset-keys/statistics this
	// action reads, for the action-isolation testable property.
	Consumes() []string

	// Produces lists the ExecutionContext keys this action writes.
	Produces() []string

	// Execute runs the action against validated params and the shared
	// context. validatedParams has already been checked against
	// ParamsSchema() by the executor.
	Execute(ctx context.Context, validatedParams map[string]any, execCtx *model.ExecutionContext) (*Result, error)
}

// Base provides Class/Consumes/Produces/ResultSchema defaults that most
// concrete actions embed and override selectively, the way the teacher's
// BaseAgent centralizes shared agent behavior.
type Base struct {
	TypeName    string
	ActionClass Class
	ConsumesKeys []string
	ProducesKeys []string
}

func (b Base) Type() string        { return b.TypeName }
func (b Base) Class() Class         { return b.ActionClass }
func (b Base) Consumes() []string  { return b.ConsumesKeys }
func (b Base) Produces() []string  { return b.ProducesKeys }
func (b Base) ResultSchema() Schema {
	return Schema{Fields: []Field{
		{Name: "success", Type: FieldBool, Required: true},
		{Name: "message", Type: FieldString},
	}}
}
