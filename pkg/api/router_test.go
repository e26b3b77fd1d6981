package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper-sub014/pkg/action"
	"github.com/arpanauts/biomapper-sub014/pkg/checkpoint"
	"github.com/arpanauts/biomapper-sub014/pkg/executor"
	"github.com/arpanauts/biomapper-sub014/pkg/job"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
	"github.com/arpanauts/biomapper-sub014/pkg/registry"
	"github.com/arpanauts/biomapper-sub014/pkg/strategy"
)

type noopAction struct{ action.Base }

func (a *noopAction) Type() string                  { return "noop_action" }
func (a *noopAction) Class() action.Class           { return action.ClassTransformer }
func (a *noopAction) ParamsSchema() action.Schema    { return action.Schema{} }
func (a *noopAction) Execute(ctx context.Context, p map[string]any, execCtx *model.ExecutionContext) (*action.Result, error) {
	return &action.Result{Success: true}, nil
}

const noopStrategyYAML = `
name: noop_strategy
description: test
parameters:
  foo: bar
steps:
  - name: step1
    action_type: noop_action
`

func newTestServer(t *testing.T) (*gin.Engine, *job.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noop.yaml"), []byte(noopStrategyYAML), 0o644))

	reg := registry.New()
	require.NoError(t, reg.Register("noop_action", func() action.Action { return &noopAction{} }))

	stratReg, err := strategy.LoadDir(dir, func(name string) bool { return reg.Has(name) })
	require.NoError(t, err)

	cpStore, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	exec := executor.New(reg, cpStore, nil)
	mgr := job.New(stratReg, job.NewMemStore(), exec, cpStore, t.TempDir(), 1, nil)

	return NewRouter(mgr), mgr
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
}

func TestRouter_ListStrategies(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodGet, "/strategies", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "noop_strategy")
}

func TestRouter_SubmitJob_ReturnsAcceptedWithJobID(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodPost, "/jobs", map[string]any{"strategy_name": "noop_strategy"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["job_id"])
}

func TestRouter_SubmitJob_UnknownStrategyReturnsNotFound(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodPost, "/jobs", map[string]any{"strategy_name": "does_not_exist"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_SubmitJob_MissingStrategyNameReturnsBadRequest(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodPost, "/jobs", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_JobStatus_UnknownJobReturnsNotFound(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodGet, "/jobs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_JobStatusAndResult_AfterSubmit(t *testing.T) {
	r, mgr := newTestServer(t)
	mgr.PollEvery = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mgr.Start(ctx))
	defer mgr.Stop()

	submitRec := doJSON(t, r, http.MethodPost, "/jobs", map[string]any{"strategy_name": "noop_strategy"})
	require.Equal(t, http.StatusAccepted, submitRec.Code)
	var submitBody map[string]any
	require.NoError(t, json.Unmarshal(submitRec.Body.Bytes(), &submitBody))
	jobID := submitBody["job_id"].(string)

	require.Eventually(t, func() bool {
		rec := doJSON(t, r, http.MethodGet, "/jobs/"+jobID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var status map[string]any
		_ = json.Unmarshal(rec.Body.Bytes(), &status)
		return status["status"] == string(model.JobStatusSucceeded)
	}, time.Second, 5*time.Millisecond)

	resultRec := doJSON(t, r, http.MethodGet, "/jobs/"+jobID+"/result", nil)
	assert.Equal(t, http.StatusOK, resultRec.Code)
}

func TestRouter_CancelJob_UnknownJobReturnsConflict(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodPost, "/jobs/does-not-exist/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouter_JobCheckpoints_EmptyForUnknownJob(t *testing.T) {
	r, _ := newTestServer(t)
	rec := doJSON(t, r, http.MethodGet, "/jobs/does-not-exist/checkpoints", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "checkpoints")
}
