package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arpanauts/biomapper-sub014/pkg/job"
	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// JobStore is the Postgres-backed implementation of job.Store, claiming
// pending work with SELECT ... FOR UPDATE SKIP LOCKED the way the teacher's
// pkg/queue claims sessions, generalized from ent-generated queries to
// direct SQL (see DESIGN.md).
type JobStore struct {
	Client *Client
}

// NewJobStore wraps a connected Client as a job.Store.
func NewJobStore(c *Client) *JobStore {
	return &JobStore{Client: c}
}

var _ job.Store = (*JobStore)(nil)

func (s *JobStore) Save(ctx context.Context, j *model.Job) error {
	params, err := json.Marshal(j.Parameters)
	if err != nil {
		return fmt.Errorf("marshal job parameters: %w", err)
	}
	steps, err := json.Marshal(j.CompletedSteps)
	if err != nil {
		return fmt.Errorf("marshal completed steps: %w", err)
	}
	metrics, err := json.Marshal(j.MetricsSnapshot)
	if err != nil {
		return fmt.Errorf("marshal metrics snapshot: %w", err)
	}
	outputs, err := json.Marshal(j.OutputFiles)
	if err != nil {
		return fmt.Errorf("marshal output files: %w", err)
	}

	_, err = s.Client.Pool.Exec(ctx, `
		INSERT INTO jobs (
			job_id, strategy_name, parameters, status, revision,
			submitted_at, started_at, completed_at,
			current_step, completed_steps, failed_step,
			error_kind, error_message, metrics_snapshot, output_files,
			restart_reason, cancel_requested
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			revision = EXCLUDED.revision,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			current_step = EXCLUDED.current_step,
			completed_steps = EXCLUDED.completed_steps,
			failed_step = EXCLUDED.failed_step,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			metrics_snapshot = EXCLUDED.metrics_snapshot,
			output_files = EXCLUDED.output_files,
			restart_reason = EXCLUDED.restart_reason,
			cancel_requested = EXCLUDED.cancel_requested
	`,
		j.JobID, j.StrategyName, params, string(j.Status), j.Revision,
		j.SubmittedAt, j.StartedAt, j.CompletedAt,
		j.CurrentStep, steps, j.FailedStep,
		j.ErrorKind, j.ErrorMessage, metrics, outputs,
		j.RestartReason, j.CancelRequested,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.JobID, err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.Client.Pool.QueryRow(ctx, `
		SELECT job_id, strategy_name, parameters, status, revision,
			submitted_at, started_at, completed_at,
			current_step, completed_steps, failed_step,
			error_kind, error_message, metrics_snapshot, output_files,
			restart_reason, cancel_requested
		FROM jobs WHERE job_id = $1
	`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrNotFound
	}
	return j, err
}

func (s *JobStore) List(ctx context.Context) ([]*model.Job, error) {
	rows, err := s.Client.Pool.Query(ctx, `
		SELECT job_id, strategy_name, parameters, status, revision,
			submitted_at, started_at, completed_at,
			current_step, completed_steps, failed_step,
			error_kind, error_message, metrics_snapshot, output_files,
			restart_reason, cancel_requested
		FROM jobs ORDER BY submitted_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ClaimPending picks one pending job, locking its row with FOR UPDATE SKIP
// LOCKED so concurrent workers (in this process or another) never claim the
// same job twice.
func (s *JobStore) ClaimPending(ctx context.Context) (*model.Job, error) {
	tx, err := s.Client.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT job_id FROM jobs
		WHERE status = $1
		ORDER BY submitted_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, string(model.JobStatusPending))

	var jobID string
	if err := row.Scan(&jobID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending job: %w", err)
	}

	now := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $1, started_at = $2, revision = revision + 1
		WHERE job_id = $3
	`, string(model.JobStatusRunning), now, jobID); err != nil {
		return nil, fmt.Errorf("claim job %s: %w", jobID, err)
	}

	claimedRow := tx.QueryRow(ctx, `
		SELECT job_id, strategy_name, parameters, status, revision,
			submitted_at, started_at, completed_at,
			current_step, completed_steps, failed_step,
			error_kind, error_message, metrics_snapshot, output_files,
			restart_reason, cancel_requested
		FROM jobs WHERE job_id = $1
	`, jobID)
	j, err := scanJob(claimedRow)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim transaction: %w", err)
	}
	return j, nil
}

// RecoverInFlight marks every pending/running job as failed with
// RestartReason "process_restart", per spec.md §4.9.
func (s *JobStore) RecoverInFlight(ctx context.Context) (int, error) {
	now := time.Now()
	tag, err := s.Client.Pool.Exec(ctx, `
		UPDATE jobs
		SET status = $1, restart_reason = 'process_restart', completed_at = $2, revision = revision + 1
		WHERE status IN ($3, $4)
	`, string(model.JobStatusFailed), now, string(model.JobStatusPending), string(model.JobStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("recover in-flight jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// rowScanner covers both pgx.Row (QueryRow) and pgx.Rows (Query) since both
// implement Scan with this signature.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		j                                    model.Job
		status, currentStep, failedStep      string
		errorKind, errorMessage, restartMsg  string
		parametersRaw, stepsRaw              []byte
		metricsRaw, outputsRaw               []byte
		cancelRequested                      bool
	)
	if err := row.Scan(
		&j.JobID, &j.StrategyName, &parametersRaw, &status, &j.Revision,
		&j.SubmittedAt, &j.StartedAt, &j.CompletedAt,
		&currentStep, &stepsRaw, &failedStep,
		&errorKind, &errorMessage, &metricsRaw, &outputsRaw,
		&restartMsg, &cancelRequested,
	); err != nil {
		return nil, err
	}

	j.Status = model.JobStatus(status)
	j.CurrentStep = currentStep
	j.FailedStep = failedStep
	j.ErrorKind = errorKind
	j.ErrorMessage = errorMessage
	j.RestartReason = restartMsg
	j.CancelRequested = cancelRequested

	if err := json.Unmarshal(parametersRaw, &j.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal job parameters: %w", err)
	}
	if err := json.Unmarshal(stepsRaw, &j.CompletedSteps); err != nil {
		return nil, fmt.Errorf("unmarshal completed steps: %w", err)
	}
	if err := json.Unmarshal(metricsRaw, &j.MetricsSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshal metrics snapshot: %w", err)
	}
	if err := json.Unmarshal(outputsRaw, &j.OutputFiles); err != nil {
		return nil, fmt.Errorf("unmarshal output files: %w", err)
	}
	return &j, nil
}
