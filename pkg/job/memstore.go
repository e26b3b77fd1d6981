package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arpanauts/biomapper-sub014/pkg/model"
)

// MemStore is an in-process Store, used when no Postgres configuration is
// supplied (local/dev runs, and the test suite's substitutable context
// pattern — see the duck-typed-context design note). Not safe across
// process restarts: RecoverInFlight is a no-op since nothing survives a
// restart in memory anyway.
type MemStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[string]*model.Job)}
}

func (s *MemStore) Save(_ context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.JobID] = &cp
	return nil
}

func (s *MemStore) Get(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemStore) List(_ context.Context) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt.After(out[k].SubmittedAt) })
	return out, nil
}

func (s *MemStore) ClaimPending(_ context.Context) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *model.Job
	for _, j := range s.jobs {
		if j.Status != model.JobStatusPending {
			continue
		}
		if oldest == nil || j.SubmittedAt.Before(oldest.SubmittedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	now := time.Now()
	oldest.Status = model.JobStatusRunning
	oldest.StartedAt = &now
	oldest.Revision++
	cp := *oldest
	return &cp, nil
}

func (s *MemStore) RecoverInFlight(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status.IsTerminal() {
			continue
		}
		j.Status = model.JobStatusFailed
		j.RestartReason = "process_restart"
		now := time.Now()
		j.CompletedAt = &now
		j.Revision++
		n++
	}
	return n, nil
}
