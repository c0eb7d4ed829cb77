package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"codexmd/internal/domain"
)

// ErrJobNotFound is returned when a job id references no tracked job.
var ErrJobNotFound = errors.New("job not found")

// ErrJobFinished is returned for updates against a terminal job.
var ErrJobFinished = errors.New("job already reached a terminal status")

// Tracker owns the in-memory table of transcription jobs. Terminal records
// stay queryable until the sweep evicts them, so a final status poll after
// completion or cancellation still succeeds.
type Tracker struct {
	mu    sync.RWMutex
	jobs  map[string]*domain.Job
	now   func() time.Time
	newID func() string
}

// NewTracker creates a tracker with an empty job table.
func NewTracker() *Tracker {
	return &Tracker{
		jobs:  make(map[string]*domain.Job),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// NewTrackerForTests creates a tracker with injectable clock and ids.
func NewTrackerForTests(now func() time.Time, newID func() string) *Tracker {
	t := NewTracker()
	if now != nil {
		t.now = now
	}
	if newID != nil {
		t.newID = newID
	}
	return t
}

// Create registers a new job in preparing state and returns its snapshot.
func (t *Tracker) Create(sourcePath, workDir string) domain.Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	created := t.now()
	job := &domain.Job{
		ID:         t.newID(),
		Status:     domain.JobStatusPreparing,
		SourcePath: sourcePath,
		WorkDir:    workDir,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	t.jobs[job.ID] = job
	return snapshot(job)
}

// Advance moves a live job to a non-terminal stage. Progress never goes
// backwards; it is advisory only.
func (t *Tracker) Advance(id string, status domain.JobStatus, progress int) error {
	if status.Terminal() {
		return fmt.Errorf("advance cannot apply terminal status %s", status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status.Terminal() {
		return ErrJobFinished
	}

	job.Status = status
	if progress > job.Progress {
		job.Progress = progress
	}
	job.UpdatedAt = t.now()
	return nil
}

// Complete marks a live job completed with its normalized result.
func (t *Tracker) Complete(id string, result domain.TranscriptResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status.Terminal() {
		return ErrJobFinished
	}

	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	job.Result = &result
	job.UpdatedAt = t.now()
	return nil
}

// Fail marks a live job failed and records the error detail.
func (t *Tracker) Fail(id, detail string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status.Terminal() {
		return ErrJobFinished
	}

	job.Status = domain.JobStatusFailed
	job.ErrorDetail = detail
	job.UpdatedAt = t.now()
	return nil
}

// Cancel marks a live job cancelled and returns its scratch directory for
// removal. Cancelling an unknown or already-terminal job is a no-op;
// cancellation is idempotent by contract.
func (t *Tracker) Cancel(id string) (workDir string, cancelled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok || job.Status.Terminal() {
		return "", false
	}

	job.Status = domain.JobStatusCancelled
	job.UpdatedAt = t.now()
	return job.WorkDir, true
}

// Snapshot returns a copy of one job's state.
func (t *Tracker) Snapshot(id string) (domain.Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return snapshot(job), true
}

// SweepExpired evicts terminal jobs older than grace and fails live jobs
// idle beyond maxIdle. Returns the number of affected jobs.
func (t *Tracker) SweepExpired(grace, maxIdle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	affected := 0
	for id, job := range t.jobs {
		idle := now.Sub(job.UpdatedAt)
		switch {
		case job.Status.Terminal() && idle > grace:
			delete(t.jobs, id)
			affected++
		case !job.Status.Terminal() && idle > maxIdle:
			job.Status = domain.JobStatusFailed
			job.ErrorDetail = "job expired after prolonged inactivity"
			job.UpdatedAt = now
			affected++
		}
	}
	return affected
}

// Count reports the number of tracked jobs, live and terminal.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}

// snapshot copies a job so callers never share tracker-owned memory.
func snapshot(job *domain.Job) domain.Job {
	out := *job
	if job.Result != nil {
		result := *job.Result
		out.Result = &result
	}
	return out
}
