package coordinator

import (
	"context"
	"sync"

	"github.com/eduinsight/eduinsight/core"
)

// jobEntry pairs a job with its own lock and the cancel function of its
// runner. Per-entry locking keeps status churn on one job from serializing
// lookups of another.
type jobEntry struct {
	mu     sync.Mutex
	job    *core.ReportJob
	cancel context.CancelFunc
}

// jobTable is the coordinator's in-memory job index, keyed by job id and by
// request id (latest job wins). All reads hand out clones; the table is the
// only writer of job state and enforces the transition rules.
type jobTable struct {
	mu        sync.RWMutex
	byID      map[string]*jobEntry
	byRequest map[string]string
}

func newJobTable() *jobTable {
	return &jobTable{
		byID:      make(map[string]*jobEntry),
		byRequest: make(map[string]string),
	}
}

// insert adds a job and indexes it under its request id.
func (t *jobTable) insert(job *core.ReportJob, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[job.JobID] = &jobEntry{job: job, cancel: cancel}
	t.byRequest[job.RequestID] = job.JobID
}

func (t *jobTable) entry(jobID string) (*jobEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[jobID]
	return e, ok
}

// get returns a clone of the job.
func (t *jobTable) get(jobID string) (*core.ReportJob, bool) {
	e, ok := t.entry(jobID)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), true
}

// byRequestID returns a clone of the latest job for the request id.
func (t *jobTable) byRequestID(requestID string) (*core.ReportJob, bool) {
	t.mu.RLock()
	jobID, ok := t.byRequest[requestID]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.get(jobID)
}

// update applies fn under the entry lock without a state transition.
func (t *jobTable) update(jobID string, fn func(j *core.ReportJob)) bool {
	e, ok := t.entry(jobID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.job)
	return true
}

// transition moves the job to next if the lifecycle rules allow it, applying
// fn under the same lock. Returns false when the move is illegal, which for
// the runner means the job was finished elsewhere (cancel) and the runner
// must stop. Terminal snapshots are immutable by construction.
func (t *jobTable) transition(jobID string, next core.JobState, fn func(j *core.ReportJob)) bool {
	e, ok := t.entry(jobID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.job.State.CanTransition(next) {
		return false
	}
	e.job.State = next
	if fn != nil {
		fn(e.job)
	}
	return true
}

// cancelRunner invokes the stored cancel func, if any.
func (t *jobTable) cancelRunner(jobID string) {
	e, ok := t.entry(jobID)
	if !ok {
		return
	}
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// snapshot returns clones of every job.
func (t *jobTable) snapshot() []*core.ReportJob {
	t.mu.RLock()
	entries := make([]*jobEntry, 0, len(t.byID))
	for _, e := range t.byID {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make([]*core.ReportJob, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.job.Clone())
		e.mu.Unlock()
	}
	return out
}
