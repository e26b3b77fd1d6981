package job

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper-sub014/pkg/action"
	"github.com/arpanauts/biomapper-sub014/pkg/executor"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
	"github.com/arpanauts/biomapper-sub014/pkg/strategy"
)

// blockingAction runs until its context is cancelled or release is closed,
// so manager tests can exercise Cancel and worker polling deterministically.
type blockingAction struct {
	action.Base
	started  chan struct{}
	release  chan struct{}
}

func (a *blockingAction) Type() string        { return "blocking_action" }
func (a *blockingAction) Class() action.Class { return action.ClassTransformer }
func (a *blockingAction) ParamsSchema() action.Schema { return action.Schema{} }
func (a *blockingAction) Execute(ctx context.Context, p map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	close(a.started)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.release:
		return &action.Result{Success: true}, nil
	}
}

type echoAction struct {
	action.Base
}

func (a *echoAction) Type() string        { return "echo_action" }
func (a *echoAction) Class() action.Class { return action.ClassTransformer }
func (a *echoAction) ParamsSchema() action.Schema {
	return action.Schema{Fields: []action.Field{{Name: "value", Type: action.FieldString}}}
}
func (a *echoAction) Execute(ctx context.Context, p map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	return &action.Result{Success: true, Metrics: map[string]any{"value": p["value"]}}, nil
}

func writeManagerStrategy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const echoStrategyYAML = `
name: echo_strategy
description: test strategy
parameters:
  value: default_value
steps:
  - name: echo
    action_type: echo_action
    action_params:
      value: ${parameters.value}
`

func newTestManager(t *testing.T, reg *registry.Registry, strategiesDir string) *Manager {
	t.Helper()
	knownTypes := func(name string) bool { return reg.Has(name) }
	stratReg, err := strategy.LoadDir(strategiesDir, knownTypes)
	require.NoError(t, err)

	exec := executor.New(reg, nil, nil)
	mgr := New(stratReg, NewMemStore(), exec, nil, t.TempDir(), 1, nil)
	return mgr
}

func TestManager_SubmitMergesParametersOverStrategyDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManagerStrategy(t, dir, "echo.yaml", echoStrategyYAML)

	reg := registry.New()
	require.NoError(t, reg.Register("echo_action", func() action.Action { return &echoAction{} }))

	mgr := newTestManager(t, reg, dir)

	j, err := mgr.Submit(context.Background(), "echo_strategy", map[string]any{"value": "overridden"})
	require.NoError(t, err)
	assert.Equal(t, "overridden", j.Parameters["value"])
	assert.Equal(t, model.JobStatusPending, j.Status)
}

func TestManager_SubmitUnknownStrategyFails(t *testing.T) {
	dir := t.TempDir()
	writeManagerStrategy(t, dir, "echo.yaml", echoStrategyYAML)

	reg := registry.New()
	require.NoError(t, reg.Register("echo_action", func() action.Action { return &echoAction{} }))
	mgr := newTestManager(t, reg, dir)

	_, err := mgr.Submit(context.Background(), "does_not_exist", nil)
	require.Error(t, err)
	merr, ok := err.(*model.Error)
	require.True(t, ok)
	assert.Equal(t, model.KindUnknownActionType, merr.Kind)
}

func TestManager_StartRunsSubmittedJobToCompletion(t *testing.T) {
	dir := t.TempDir()
	writeManagerStrategy(t, dir, "echo.yaml", echoStrategyYAML)

	reg := registry.New()
	require.NoError(t, reg.Register("echo_action", func() action.Action { return &echoAction{} }))
	mgr := newTestManager(t, reg, dir)
	mgr.PollEvery = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop()

	j, err := mgr.Submit(context.Background(), "echo_strategy", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := mgr.Status(context.Background(), j.JobID)
		return err == nil && got.Status.IsTerminal()
	}, time.Second, 5*time.Millisecond)

	final, err := mgr.Result(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSucceeded, final.Status)
}

func TestManager_CancelStopsARunningJob(t *testing.T) {
	dir := t.TempDir()
	const blockingStrategyYAML = `
name: blocking_strategy
steps:
  - name: block
    action_type: blocking_action
`
	writeManagerStrategy(t, dir, "blocking.yaml", blockingStrategyYAML)

	reg := registry.New()
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, reg.Register("blocking_action", func() action.Action {
		return &blockingAction{started: started, release: release}
	}))
	mgr := newTestManager(t, reg, dir)
	mgr.PollEvery = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop()
	defer close(release)

	j, err := mgr.Submit(context.Background(), "blocking_strategy", nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("blocking action never started")
	}

	ok, err := mgr.Cancel(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		got, err := mgr.Status(context.Background(), j.JobID)
		return err == nil && got.Status.IsTerminal()
	}, time.Second, 5*time.Millisecond)

	final, err := mgr.Result(context.Background(), j.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, final.Status)
}

func TestManager_CancelUnknownJobReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	writeManagerStrategy(t, dir, "echo.yaml", echoStrategyYAML)
	reg := registry.New()
	require.NoError(t, reg.Register("echo_action", func() action.Action { return &echoAction{} }))
	mgr := newTestManager(t, reg, dir)

	ok, err := mgr.Cancel(context.Background(), "no-such-job")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_ListStrategiesAndHealth(t *testing.T) {
	dir := t.TempDir()
	writeManagerStrategy(t, dir, "echo.yaml", echoStrategyYAML)
	reg := registry.New()
	require.NoError(t, reg.Register("echo_action", func() action.Action { return &echoAction{} }))
	mgr := newTestManager(t, reg, dir)

	strategies := mgr.ListStrategies()
	require.Len(t, strategies, 1)
	assert.Equal(t, "echo_strategy", strategies[0].Name)

	health := mgr.Health()
	assert.True(t, health.OK)
	assert.Equal(t, 1, health.LoadedStrategies)
}
