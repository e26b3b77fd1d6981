// Package job implements the job manager / API surface (spec.md §4.9):
// submitting strategy executions, persisting their lifecycle, claiming and
// running pending work on a bounded worker pool, and serving status/result/
// cancel queries. Modeled on the teacher's pkg/queue worker pool, with
// entgo.io/ent's session-claiming queries replaced by direct SQL through
// pkg/database (see DESIGN.md).
package job

import (
	"context"
	"errors"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// Store persists Job records and supports claiming pending work. A single
// Store may be polled by many worker goroutines (within one process) or,
// for the Postgres implementation, by many processes concurrently.
type Store interface {
	// Save upserts a Job record by JobID. Callers own revision bookkeeping.
	Save(ctx context.Context, j *model.Job) error

	// Get returns a Job by ID, or ErrNotFound.
	Get(ctx context.Context, jobID string) (*model.Job, error)

	// List returns every known Job, most recently submitted first.
	List(ctx context.Context) ([]*model.Job, error)

	// ClaimPending atomically picks one pending Job, marks it running with
	// a fresh StartedAt, persists the transition, and returns it. Returns
	// (nil, nil) when no pending job is available.
	ClaimPending(ctx context.Context) (*model.Job, error)

	// RecoverInFlight marks every Job left in a non-terminal state (pending
	// or running) as failed with RestartReason "process_restart", per
	// spec.md §4.9. Returns the number of jobs recovered. Call once at
	// startup before workers begin polling.
	RecoverInFlight(ctx context.Context) (int, error)
}

// ErrNotFound is returned by Store.Get when no job exists with the given ID.
var ErrNotFound = errors.New("job not found")
