// Package coordinator implements the dispatcher at the center of the
// pipeline. It admits work requests under a concurrency ceiling, derives the
// capability chain from the request shape, resolves each stage to a live
// agent, enforces per-stage and whole-job deadlines, retries timed-out
// stages on a different agent and tracks every job through its lifecycle.
// Partial results accumulated before a failure stay on the job snapshot.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eduinsight/eduinsight/bus"
	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/logging"
	"github.com/eduinsight/eduinsight/metrics"
	"github.com/eduinsight/eduinsight/registry"
)

// ID is the bus address the coordinator subscribes under. Agents address
// their responses here implicitly by echoing the request sender.
const ID = "coordinator"

// Options configures the coordinator.
type Options struct {
	// MaxConcurrentJobs bounds jobs executing stages at once.
	MaxConcurrentJobs int
	// QueueDepth bounds admitted-but-waiting jobs. A submission beyond
	// slots plus queue is rejected as overloaded.
	QueueDepth int
	// StageTimeout bounds each stage dispatch, clamped to the remaining
	// job deadline.
	StageTimeout time.Duration
	// ReportDeadline bounds the whole job from admission.
	ReportDeadline time.Duration
	// StageRetries is how many times a timed-out stage is retried, each
	// time preferring an agent not tried before.
	StageRetries int
	// RetryBackoff is the pause before a stage retry.
	RetryBackoff time.Duration
	// ResolveRetries is how many extra resolution rounds to attempt when
	// no idle agent offers the capability.
	ResolveRetries int
	// ResolveBackoff is the pause between resolution rounds.
	ResolveBackoff time.Duration
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Coordinator owns the job table and drives capability chains over the bus.
type Coordinator struct {
	bus      *bus.Bus
	registry *registry.Registry
	jobs     *jobTable
	opts     Options
	logger   logging.Logger

	slots   chan struct{}
	admitMu sync.Mutex
	waiting int

	pendingMu sync.Mutex
	pending   map[string]chan core.Message

	runMu   sync.Mutex
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a coordinator bound to the bus and registry. Call Start
// before submitting work.
func New(b *bus.Bus, reg *registry.Registry, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		MaxConcurrentJobs: 8,
		QueueDepth:        64,
		StageTimeout:      5 * time.Minute,
		ReportDeadline:    30 * time.Minute,
		StageRetries:      1,
		RetryBackoff:      2 * time.Second,
		ResolveRetries:    3,
		ResolveBackoff:    500 * time.Millisecond,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Coordinator{
		bus:      b,
		registry: reg,
		jobs:     newJobTable(),
		opts:     opts,
		logger:   opts.Logger,
		slots:    make(chan struct{}, opts.MaxConcurrentJobs),
		pending:  make(map[string]chan core.Message),
	}
}

// Start subscribes the coordinator to the bus and launches the response
// dispatcher.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return errors.New("coordinator is already running")
	}

	inbox, err := c.bus.Subscribe(ID)
	if err != nil {
		return fmt.Errorf("coordinator subscribe: %w", err)
	}
	c.baseCtx, c.cancel = context.WithCancel(ctx)
	c.running = true

	c.wg.Add(1)
	go c.dispatchResponses(inbox)

	c.logger.Info("coordinator started",
		"max_concurrent_jobs", c.opts.MaxConcurrentJobs, "queue_depth", c.opts.QueueDepth)
	return nil
}

// Stop cancels every runner and stops accepting submissions. In-flight jobs
// finish as cancelled.
func (c *Coordinator) Stop() error {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return errors.New("coordinator is not running")
	}
	c.running = false
	c.runMu.Unlock()

	c.cancel()
	c.bus.Unsubscribe(ID)
	c.wg.Wait()
	c.logger.Info("coordinator stopped")
	return nil
}

// Submit admits a work request and starts its capability chain. The returned
// snapshot reflects the admitted job. A request id already completed returns
// that job again without re-running anything; a request id still in flight
// is rejected with a duplicate error; capacity exhaustion is rejected as
// overloaded.
func (c *Coordinator) Submit(req core.Request) (*core.ReportJob, error) {
	c.runMu.Lock()
	running := c.running
	c.runMu.Unlock()
	if !running {
		return nil, core.NewError(core.KindInternal, "coordinator.submit", "coordinator is not running")
	}
	if req.AnalysisType == "" {
		return nil, core.NewError(core.KindSchemaMismatch, "coordinator.submit", "analysis type is required")
	}
	if req.ID == "" {
		req.ID = core.NewID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	c.admitMu.Lock()
	if existing, ok := c.jobs.byRequestID(req.ID); ok {
		switch {
		case existing.State == core.StateCompleted:
			c.admitMu.Unlock()
			return existing, nil
		case !existing.State.Terminal():
			c.admitMu.Unlock()
			metrics.JobsRejected.WithLabelValues("duplicate_in_flight").Inc()
			return nil, core.NewError(core.KindDuplicateInFlight, "coordinator.submit",
				fmt.Sprintf("request %s already has job %s in flight", req.ID, existing.JobID))
		}
		// Failed, timed out or cancelled: a resubmission starts fresh.
	}

	acquired := false
	select {
	case c.slots <- struct{}{}:
		acquired = true
	default:
		if c.waiting >= c.opts.QueueDepth {
			c.admitMu.Unlock()
			metrics.JobsRejected.WithLabelValues("overloaded").Inc()
			return nil, core.NewError(core.KindOverloaded, "coordinator.submit",
				fmt.Sprintf("%d jobs running and %d queued", c.opts.MaxConcurrentJobs, c.waiting))
		}
		c.waiting++
	}

	now := time.Now().UTC()
	job := &core.ReportJob{
		JobID:     core.NewID(),
		RequestID: req.ID,
		Request:   req,
		State:     core.StateQueued,
		StartedAt: now,
		Deadline:  now.Add(c.opts.ReportDeadline),
	}
	// Snapshot before the job is shared with the table and the runner; after
	// insert the entry lock is the only safe way to read it.
	snap := job.Clone()
	runCtx, cancelRun := context.WithCancel(c.baseCtx)
	c.jobs.insert(job, cancelRun)
	c.admitMu.Unlock()

	metrics.JobsSubmitted.Inc()
	c.logger.Info("job admitted", "request_id", req.ID, "job_id", job.JobID,
		"analysis_type", req.AnalysisType, "queued", !acquired)

	c.wg.Add(1)
	go c.run(runCtx, job.JobID, acquired)
	return snap, nil
}

// Status returns a snapshot of the latest job for the request id.
func (c *Coordinator) Status(requestID string) (*core.ReportJob, error) {
	job, ok := c.jobs.byRequestID(requestID)
	if !ok {
		return nil, core.NewError(core.KindNotFound, "coordinator.status", "unknown request "+requestID)
	}
	return job, nil
}

// Cancel cooperatively stops the job for the request id. Stages already
// running are interrupted at the next boundary; results produced so far stay
// on the snapshot. Cancelling a terminal job is a no-op.
func (c *Coordinator) Cancel(requestID string) (*core.ReportJob, error) {
	job, ok := c.jobs.byRequestID(requestID)
	if !ok {
		return nil, core.NewError(core.KindNotFound, "coordinator.cancel", "unknown request "+requestID)
	}
	if job.State.Terminal() {
		return job, nil
	}

	c.finish(job.JobID, core.StateCancelled, "", "cancelled by caller")
	c.jobs.cancelRunner(job.JobID)

	job, _ = c.jobs.get(job.JobID)
	return job, nil
}

// Jobs returns snapshots of every tracked job.
func (c *Coordinator) Jobs() []*core.ReportJob {
	return c.jobs.snapshot()
}

// run drives one job through its chain. It owns all forward state
// transitions; Cancel may take the job terminal underneath it, which every
// transition call detects.
func (c *Coordinator) run(ctx context.Context, jobID string, acquired bool) {
	defer c.wg.Done()

	job, ok := c.jobs.get(jobID)
	if !ok {
		return
	}

	if !acquired {
		if !c.await(ctx, job.Deadline, jobID) {
			return
		}
	}
	defer func() { <-c.slots }()

	if !c.jobs.transition(jobID, core.StateDispatched, nil) {
		return
	}

	for _, st := range chainFor(job.Request) {
		stageName := st.name
		if !c.jobs.transition(jobID, core.StateInProgress, func(j *core.ReportJob) { j.Stage = stageName }) {
			return
		}
		if err := c.executeStage(ctx, jobID, st); err != nil {
			c.settle(jobID, st.name, err)
			return
		}
	}
	c.finish(jobID, core.StateCompleted, "", "")
}

// await blocks a queued job until a slot frees, the deadline passes or the
// runner is cancelled. Returns true once a slot is held.
func (c *Coordinator) await(ctx context.Context, deadline time.Time, jobID string) bool {
	release := func() {
		c.admitMu.Lock()
		c.waiting--
		c.admitMu.Unlock()
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case c.slots <- struct{}{}:
		release()
		return true
	case <-timer.C:
		release()
		c.finish(jobID, core.StateTimedOut, core.KindTimedOut, "deadline expired while queued")
		return false
	case <-ctx.Done():
		release()
		c.finish(jobID, core.StateCancelled, "", "cancelled while queued")
		return false
	}
}

// settle maps a stage error onto the terminal job state.
func (c *Coordinator) settle(jobID, stageName string, err error) {
	if errors.Is(err, context.Canceled) {
		c.finish(jobID, core.StateCancelled, "", "cancelled during stage "+stageName)
		return
	}
	kind := core.KindOf(err)
	if kind == core.KindTimedOut {
		c.finish(jobID, core.StateTimedOut, kind, err.Error())
		return
	}
	c.finish(jobID, core.StateFailed, kind, err.Error())
}

// finish takes the job terminal exactly once; late calls (already terminal)
// are silent no-ops so Cancel and the runner cannot double-count.
func (c *Coordinator) finish(jobID string, state core.JobState, kind core.ErrorKind, msg string) {
	moved := c.jobs.transition(jobID, state, func(j *core.ReportJob) {
		j.Stage = ""
		j.FinishedAt = time.Now().UTC()
		j.ErrorKind = kind
		j.ErrorMsg = msg
	})
	if !moved {
		return
	}
	metrics.JobsFinished.WithLabelValues(state.String()).Inc()
	if state == core.StateCompleted {
		c.logger.Info("job completed", "job_id", jobID)
	} else {
		c.logger.Warn("job finished", "job_id", jobID, "state", state.String(), "error_kind", string(kind), "error", msg)
	}
}

// executeStage resolves an agent and dispatches the stage, retrying timeouts
// and routing failures on a different agent up to the retry budget. Errors
// reported by the agent itself are final; retrying a deterministic failure
// would only repeat it.
func (c *Coordinator) executeStage(ctx context.Context, jobID string, st stage) error {
	attempts := c.opts.StageRetries + 1
	var tried []string

	for attempt := 0; ; attempt++ {
		agentID, err := c.resolve(ctx, st.capability, tried)
		if err != nil {
			return err
		}
		tried = append(tried, agentID)

		err = c.dispatch(ctx, jobID, st, agentID)
		if err == nil {
			return nil
		}
		kind := core.KindOf(err)
		retryable := kind == core.KindTimedOut || kind == core.KindRouting
		if !retryable || attempt >= attempts-1 || errors.Is(err, context.Canceled) {
			return err
		}

		c.logger.Warn("stage retry", "job_id", jobID, "stage", st.name, "failed_agent", agentID, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.RetryBackoff):
		}
	}
}

// resolve picks an idle agent for the capability, preferring one not in the
// exclude list. Empty resolution rounds back off and retry before giving up
// with a no-agent error.
func (c *Coordinator) resolve(ctx context.Context, capability string, exclude []string) (string, error) {
	rounds := c.opts.ResolveRetries + 1
	for round := 0; round < rounds; round++ {
		if round > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.opts.ResolveBackoff):
			}
		}
		candidates := c.registry.Resolve(capability)
		if len(candidates) == 0 {
			continue
		}
		for _, id := range candidates {
			if !contains(exclude, id) {
				return id, nil
			}
		}
		// Every candidate was tried already; reuse the freshest one
		// rather than failing a retry that still has somewhere to go.
		return candidates[0], nil
	}
	return "", core.NewError(core.KindNoAgentAvailable, "coordinator.resolve",
		fmt.Sprintf("no idle agent offers %q after %d rounds", capability, rounds))
}

// dispatch sends one stage request to one agent and waits for its response,
// the stage window or cancellation. The stage window is the configured stage
// timeout clamped to what remains of the job deadline.
func (c *Coordinator) dispatch(ctx context.Context, jobID string, st stage, agentID string) error {
	job, ok := c.jobs.get(jobID)
	if !ok {
		return core.NewError(core.KindInternal, "coordinator.dispatch", "job vanished from table")
	}
	remaining := time.Until(job.Deadline)
	if remaining <= 0 {
		return core.NewError(core.KindTimedOut, "coordinator.dispatch", "job deadline expired")
	}
	window := c.opts.StageTimeout
	if remaining < window {
		window = remaining
	}

	msg := core.NewRequest(ID, agentID, st.subject, st.buildTask(job)).
		WithDeadline(time.Now().Add(window))
	respCh := make(chan core.Message, 1)
	c.addPending(msg.CorrelationID, respCh)
	defer c.removePending(msg.CorrelationID)

	start := time.Now()
	if err := c.bus.Publish(msg); err != nil {
		return err
	}
	c.logger.Debug("stage dispatched", "job_id", jobID, "stage", st.name, "agent_id", agentID, "window", window)

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		metrics.StageDuration.WithLabelValues(st.name, "error").Observe(time.Since(start).Seconds())
		return ctx.Err()
	case <-timer.C:
		metrics.StageDuration.WithLabelValues(st.name, "timeout").Observe(time.Since(start).Seconds())
		return core.NewError(core.KindTimedOut, "coordinator.stage."+st.name,
			fmt.Sprintf("agent %s missed the %s window", agentID, window))
	case resp := <-respCh:
		elapsed := time.Since(start)
		if resp.IsError() {
			metrics.StageDuration.WithLabelValues(st.name, "error").Observe(elapsed.Seconds())
			kind := resp.ErrKind
			if kind == "" {
				kind = core.KindInternal
			}
			return core.NewError(kind, "coordinator.stage."+st.name, resp.Err)
		}

		applied := false
		c.jobs.update(jobID, func(j *core.ReportJob) {
			applied = st.applyOutcome(j, resp.Payload)
		})
		if !applied {
			metrics.StageDuration.WithLabelValues(st.name, "error").Observe(elapsed.Seconds())
			return core.NewError(core.KindInternal, "coordinator.stage."+st.name,
				fmt.Sprintf("agent %s returned payload %T", agentID, resp.Payload))
		}
		metrics.StageDuration.WithLabelValues(st.name, "ok").Observe(elapsed.Seconds())
		c.logger.Debug("stage completed", "job_id", jobID, "stage", st.name, "agent_id", agentID, "duration", elapsed)
		return nil
	}
}

// dispatchResponses routes response envelopes to the stage waiting on their
// correlation id. Responses nobody waits for (late arrivals after a timeout,
// duplicate deliveries) are discarded here; the buffered hand-off plus the
// map removal make delivery to a stage at-most-once.
func (c *Coordinator) dispatchResponses(inbox <-chan core.Message) {
	defer c.wg.Done()
	for {
		select {
		case <-c.baseCtx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			if msg.Kind != core.KindResponse {
				continue
			}
			c.pendingMu.Lock()
			ch, waiting := c.pending[msg.CorrelationID]
			c.pendingMu.Unlock()
			if !waiting {
				c.logger.Debug("discarding unexpected response", "correlation_id", msg.CorrelationID, "sender", msg.Sender)
				continue
			}
			select {
			case ch <- msg:
			default:
				c.logger.Debug("discarding duplicate response", "correlation_id", msg.CorrelationID, "sender", msg.Sender)
			}
		}
	}
}

func (c *Coordinator) addPending(correlationID string, ch chan core.Message) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending[correlationID] = ch
}

func (c *Coordinator) removePending(correlationID string) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pending, correlationID)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
