package core

import "time"

// JobState models the report job lifecycle. Once a terminal state is reached
// the job is immutable; the coordinator's job table enforces that.
type JobState int

const (
	// StateQueued means the job was admitted but no stage has started.
	StateQueued JobState = iota
	// StateDispatched means the first stage was handed to an agent.
	StateDispatched
	// StateInProgress means some stage is actively executing.
	StateInProgress
	// StateCompleted is terminal success (possibly degraded).
	StateCompleted
	// StateFailed is terminal failure with a recorded error kind.
	StateFailed
	// StateTimedOut is terminal deadline expiry after retry exhaustion.
	StateTimedOut
	// StateCancelled is terminal cooperative cancellation.
	StateCancelled
)

// String returns the lowercase state name used in logs and snapshots.
func (s JobState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateDispatched:
		return "dispatched"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is legal. Cancelled is
// reachable from any non-terminal state; forward progress otherwise follows
// Queued -> Dispatched -> InProgress -> terminal, with InProgress allowed to
// loop for multi-stage jobs.
func (s JobState) CanTransition(next JobState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateCancelled {
		return true
	}
	switch s {
	case StateQueued:
		return next == StateDispatched || next == StateFailed || next == StateTimedOut
	case StateDispatched:
		return next == StateInProgress || next == StateFailed || next == StateTimedOut
	case StateInProgress:
		return next == StateInProgress || next == StateCompleted ||
			next == StateFailed || next == StateTimedOut
	default:
		return false
	}
}

// ReportResult is the rendered output of the report stage. Degraded marks the
// templated fallback taken when the narrative backend missed its sub-timeout;
// it is a first-class success outcome, not an error.
type ReportResult struct {
	ReportID   string       `json:"report_id"`
	Type       ReportType   `json:"report_type"`
	Format     ExportFormat `json:"format,omitempty"`
	Content    string       `json:"content"`
	Degraded   bool         `json:"degraded"`
	RenderedAt time.Time    `json:"rendered_at"`
}

// ReportJob tracks one submitted request through its capability chain. The
// coordinator is the sole writer of State; everything callers see is a clone.
type ReportJob struct {
	JobID      string         `json:"job_id"`
	RequestID  string         `json:"request_id"`
	Request    Request        `json:"request"`
	State      JobState       `json:"state"`
	Stage      string         `json:"stage,omitempty"`
	Findings   []Finding      `json:"findings,omitempty"`
	Result     *ReportResult  `json:"result,omitempty"`
	Export     *ExportOutcome `json:"export,omitempty"`
	ErrorKind  ErrorKind      `json:"error_kind,omitempty"`
	ErrorMsg   string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	Deadline   time.Time      `json:"deadline"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe for handing to callers.
func (j *ReportJob) Clone() *ReportJob {
	cp := *j
	if j.Findings != nil {
		cp.Findings = make([]Finding, len(j.Findings))
		copy(cp.Findings, j.Findings)
	}
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.Export != nil {
		e := *j.Export
		cp.Export = &e
	}
	return &cp
}

// Degraded reports whether the job completed on the templated fallback path.
func (j *ReportJob) Degraded() bool { return j.Result != nil && j.Result.Degraded }
