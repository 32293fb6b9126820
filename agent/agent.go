package agent

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

// Handler processes one request message and returns the response payload.
// Errors are converted into error responses preserving their core.ErrorKind;
// they never tear down the agent loop.
type Handler interface {
	Handle(ctx context.Context, msg core.Message) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg core.Message) (any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg core.Message) (any, error) { return f(ctx, msg) }

// Stats is a point-in-time snapshot of an agent's performance counters.
type Stats struct {
	Total           uint64        `json:"total_requests"`
	Succeeded       uint64        `json:"successful_requests"`
	Failed          uint64        `json:"failed_requests"`
	AverageDuration time.Duration `json:"average_response_time"`
	QueueLag        int           `json:"queue_lag"`
}

// Options configures a BaseAgent.
type Options struct {
	// Description is a human-readable purpose string.
	Description string
	// HeartbeatInterval overrides the registry beat cadence. Zero keeps
	// the default of 5s.
	HeartbeatInterval time.Duration
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// BaseAgent bundles the shared lifecycle (Start/Stop), the message loop and
// identity helpers. Embed it in concrete agent implementations and supply a
// Handler. All exported methods are goroutine-safe unless otherwise
// documented. Each agent processes exactly one message at a time from its
// own queue; concurrency in the system comes from running many agents.
type BaseAgent struct {
	id           string
	description  string
	capabilities []string
	handler      Handler
	bus          *bus.Bus
	registry     *registry.Registry
	logger       logging.Logger
	hbInterval   time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	statsMu   sync.Mutex
	total     uint64
	succeeded uint64
	failed    uint64
	totalDur  time.Duration
}

// New constructs a BaseAgent bound to the bus and registry. The handler is
// invoked from the agent's single processing goroutine.
func New(id string, capabilities []string, handler Handler, b *bus.Bus, reg *registry.Registry, optFns ...func(o *Options)) *BaseAgent {
	opts := Options{
		Description:       fmt.Sprintf("Agent %s", id),
		HeartbeatInterval: 5 * time.Second,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	return &BaseAgent{
		id:           id,
		description:  opts.Description,
		capabilities: append([]string(nil), capabilities...),
		handler:      handler,
		bus:          b,
		registry:     reg,
		logger:       opts.Logger,
		hbInterval:   opts.HeartbeatInterval,
	}
}

// ID returns the agent identifier used for addressing and registration.
func (a *BaseAgent) ID() string { return a.id }

// Description returns the human-readable purpose of this agent.
func (a *BaseAgent) Description() string { return a.description }

// Capabilities returns a copy of the declared capability tags.
func (a *BaseAgent) Capabilities() []string {
	return append([]string(nil), a.capabilities...)
}

// Start registers the agent, subscribes it to the bus and launches the
// processing loop plus the heartbeat ticker. It is an error to start an
// agent that is already running.
func (a *BaseAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.New("agent is already running")
	}

	inbox, err := a.bus.Subscribe(a.id, a.capabilities...)
	if err != nil {
		return fmt.Errorf("agent %s subscribe: %w", a.id, err)
	}
	a.registry.Register(registry.Descriptor{
		AgentID:      a.id,
		Capabilities: a.capabilities,
		Status:       registry.StatusIdle,
	})

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true

	a.wg.Add(2)
	go a.loop(runCtx, inbox)
	go a.heartbeat(runCtx)

	a.logger.Info("agent started", "agent_id", a.id, "capabilities", a.capabilities)
	return nil
}

// Stop cancels the loop, removes the bus subscription and deregisters the
// agent so resolve() stops offering it. A message already being handled is
// allowed to finish.
func (a *BaseAgent) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return errors.New("agent is not running")
	}
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.wg.Wait()
	a.bus.Unsubscribe(a.id)
	a.registry.Deregister(a.id)
	a.logger.Info("agent stopped", "agent_id", a.id)
	return nil
}

// Running reports whether the loop is active.
func (a *BaseAgent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Stats returns a snapshot of the performance counters.
func (a *BaseAgent) Stats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	s := Stats{Total: a.total, Succeeded: a.succeeded, Failed: a.failed}
	if a.total > 0 {
		s.AverageDuration = a.totalDur / time.Duration(a.total)
	}
	return s
}

func (a *BaseAgent) loop(ctx context.Context, inbox <-chan core.Message) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			if msg.Kind != core.KindRequest {
				continue
			}
			a.process(ctx, msg)
		}
	}
}

func (a *BaseAgent) process(ctx context.Context, msg core.Message) {
	// Work whose deadline already passed is answered with a timeout error
	// instead of being burned; the coordinator has moved on anyway.
	if msg.Expired(time.Now()) {
		a.logger.Warn("dropping expired request", "agent_id", a.id, "subject", msg.Subject, "correlation_id", msg.CorrelationID)
		a.reply(core.NewErrorResponse(msg, a.id,
			core.NewError(core.KindTimedOut, "agent.process", "deadline passed before processing")))
		return
	}

	if err := a.registry.SetStatus(a.id, registry.StatusBusy); err != nil {
		a.logger.Warn("status update failed", "agent_id", a.id, "error", err)
	}
	defer func() {
		if err := a.registry.SetStatus(a.id, registry.StatusIdle); err != nil {
			a.logger.Warn("status update failed", "agent_id", a.id, "error", err)
		}
	}()

	hctx := ctx
	if !msg.Deadline.IsZero() {
		var cancel context.CancelFunc
		hctx, cancel = context.WithDeadline(ctx, msg.Deadline)
		defer cancel()
	}

	start := time.Now()
	payload, err := a.safeHandle(hctx, msg)
	elapsed := time.Since(start)
	a.record(elapsed, err == nil)

	if err != nil {
		metrics.AgentMessages.WithLabelValues(a.id, "error").Inc()
		a.logger.Error("message handling failed", "agent_id", a.id, "subject", msg.Subject, "duration", elapsed, "error", err)
		a.reply(core.NewErrorResponse(msg, a.id, err))
		return
	}
	metrics.AgentMessages.WithLabelValues(a.id, "ok").Inc()
	a.logger.Debug("message handled", "agent_id", a.id, "subject", msg.Subject, "duration", elapsed)
	a.reply(core.NewResponse(msg, a.id, payload))
}

// safeHandle shields the loop from handler panics; a panicking algorithm
// becomes a reported error, never a crashed agent.
func (a *BaseAgent) safeHandle(ctx context.Context, msg core.Message) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.NewError(core.KindAlgorithm, "agent.handle", fmt.Sprintf("panic: %v", r))
		}
	}()
	return a.handler.Handle(ctx, msg)
}

func (a *BaseAgent) reply(msg core.Message) {
	if err := a.bus.Publish(msg); err != nil {
		a.logger.Warn("response undeliverable", "agent_id", a.id, "recipient", msg.Recipient, "error", err)
	}
}

func (a *BaseAgent) heartbeat(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.hbInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.registry.Heartbeat(a.id); err != nil {
				a.logger.Warn("heartbeat rejected", "agent_id", a.id, "error", err)
			}
		}
	}
}

func (a *BaseAgent) record(d time.Duration, ok bool) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	a.total++
	a.totalDur += d
	if ok {
		a.succeeded++
	} else {
		a.failed++
	}
}
