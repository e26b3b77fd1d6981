package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper-sub014/pkg/action"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
)

type itemCapturingAction struct {
	action.Base
	mu    sync.Mutex
	items []any
}

func (a *itemCapturingAction) ParamsSchema() action.Schema {
	return action.Schema{Fields: []action.Field{{Name: "item", Type: action.FieldString}}}
}

func (a *itemCapturingAction) Execute(ctx context.Context, params map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	a.mu.Lock()
	a.items = append(a.items, params["item"])
	a.mu.Unlock()
	return &action.Result{Success: true}, nil
}

func TestExecutor_ForEach_SequentialBindsEachItem(t *testing.T) {
	act := &itemCapturingAction{Base: action.Base{TypeName: "capture", ActionClass: action.ClassTransformer}}
	reg := registry.New()
	reg.MustRegister("capture", func() action.Action { return act })
	exec := New(reg, nil, nil)

	strat := newStrategy(model.Step{
		Name:       "each",
		ActionType: "capture",
		ForEach:    &model.ForEachSpec{Items: "${parameters.ids}"},
		ActionParams: map[string]any{
			"item": "${foreach.item}",
		},
	})
	execCtx := model.NewExecutionContext("job-1", "test", map[string]any{"ids": []any{"P1", "P2", "P3"}}, nil)

	outcome := exec.Run(context.Background(), strat, execCtx)
	require.NoError(t, outcome.Err)
	assert.ElementsMatch(t, []any{"P1", "P2", "P3"}, act.items)
}

func TestExecutor_ForEach_EmptyListIsNoOp(t *testing.T) {
	act := &itemCapturingAction{Base: action.Base{TypeName: "capture", ActionClass: action.ClassTransformer}}
	reg := registry.New()
	reg.MustRegister("capture", func() action.Action { return act })
	exec := New(reg, nil, nil)

	strat := newStrategy(model.Step{
		Name:       "each",
		ActionType: "capture",
		ForEach:    &model.ForEachSpec{Items: "${parameters.ids}"},
	})
	execCtx := model.NewExecutionContext("job-1", "test", map[string]any{"ids": []any{}}, nil)

	outcome := exec.Run(context.Background(), strat, execCtx)
	require.NoError(t, outcome.Err)
	assert.Empty(t, act.items)
}

func TestExecutor_Repeat_StopsWhenConditionFalse(t *testing.T) {
	act := &recordingAction{Base: action.Base{TypeName: "noop", ActionClass: action.ClassTransformer}}
	reg := newRegistryWith("noop", act)
	exec := New(reg, nil, nil)

	strat := newStrategy(model.Step{
		Name:       "loop",
		ActionType: "noop",
		Repeat:     &model.RepeatSpec{WhileCondition: "${repeat.iteration <= 3}", MaxIterations: 10},
	})
	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)

	outcome := exec.Run(context.Background(), strat, execCtx)
	require.NoError(t, outcome.Err)
	assert.EqualValues(t, 3, act.calls)
}

func TestExecutor_Repeat_HardCapIsNeverExceeded(t *testing.T) {
	act := &recordingAction{Base: action.Base{TypeName: "noop", ActionClass: action.ClassTransformer}}
	reg := newRegistryWith("noop", act)
	exec := New(reg, nil, nil)

	strat := newStrategy(model.Step{
		Name:       "loop",
		ActionType: "noop",
		Repeat:     &model.RepeatSpec{WhileCondition: "${repeat.iteration >= 0}", MaxIterations: 5000},
	})
	execCtx := model.NewExecutionContext("job-1", "test", nil, nil)

	outcome := exec.Run(context.Background(), strat, execCtx)
	require.NoError(t, outcome.Err)
	assert.LessOrEqual(t, int(act.calls), model.HardMaxRepeatIterations)
}
