// Package checkpoint persists a point-in-time snapshot of a job's
// ExecutionContext to disk for later inspection. No code path resumes a job
// from a checkpoint: a job in flight at restart is marked failed. Layout:
// <path>/<job_id>/<step_name>.<before|after>.json, per spec.md's
// checkpointing.path contract.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// Snapshot is the serialized form of an ExecutionContext at a checkpoint
// point.
type Snapshot struct {
	JobID       string                      `json:"job_id"`
	StepName    string                      `json:"step_name"`
	Point       model.CheckpointPoint       `json:"point"`
	Datasets    map[string]*model.Dataset   `json:"datasets"`
	Variables   map[string]any              `json:"variables"`
	Parameters  map[string]any              `json:"parameters"`
	Statistics  map[string]any              `json:"statistics"`
	StepOutputs map[string]model.StepOutput `json:"step_outputs"`
	OutputFiles map[string]string           `json:"output_files"`
}

// Store writes and reads checkpoint snapshots under a root directory.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir, creating it if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %q: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// Save implements executor.CheckpointStore.
func (s *Store) Save(ctx context.Context, jobID, stepName string, point model.CheckpointPoint, execCtx *model.ExecutionContext) error {
	snap := Snapshot{
		JobID:       jobID,
		StepName:    stepName,
		Point:       point,
		Datasets:    execCtx.DatasetsSnapshot(),
		Variables:   execCtx.VariablesSnapshot(),
		Parameters:  execCtx.ParametersSnapshot(),
		Statistics:  execCtx.StatisticsSnapshot(),
		StepOutputs: execCtx.StepOutputSnapshot(),
		OutputFiles: execCtx.OutputFilesSnapshot(),
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint for job %s step %s: %w", jobID, stepName, err)
	}

	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint job directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.%s.json", stepName, point))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return model.Wrap(model.KindFileWriteFailed, stepName, "", err)
	}
	return nil
}

// Load reads back the most recent checkpoint for a job at a given step and
// point, for resume/debugging tooling.
func (s *Store) Load(jobID, stepName string, point model.CheckpointPoint) (*Snapshot, error) {
	path := filepath.Join(s.root, jobID, fmt.Sprintf("%s.%s.json", stepName, point))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewError(model.KindFileNotFound, stepName, "", fmt.Sprintf("no checkpoint at %s", path))
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return &snap, nil
}

// ListSteps returns the name of every checkpoint file for jobID
// ("<step>.<before|after>.json"), in directory order; a step with both a
// before and an after checkpoint appears twice.
func (s *Store) ListSteps(jobID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
