// Package registry tracks agent identity, declared capabilities and
// liveness. The coordinator resolves capability tags here before every
// dispatch; agents heartbeat while running and fall to unavailable after
// missing the configured number of intervals.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/logging"
)

// Status is the agent availability state tracked per descriptor.
type Status string

const (
	// StatusIdle means the agent is registered, live and not processing.
	StatusIdle Status = "idle"
	// StatusBusy means the agent is processing a message.
	StatusBusy Status = "busy"
	// StatusUnavailable means heartbeats stopped; excluded from resolve
	// until the agent re-registers.
	StatusUnavailable Status = "unavailable"
)

// Descriptor is the registered identity of one agent. Status and heartbeat
// are mutated only by the owning agent; the registry flips agents to
// unavailable after missed heartbeats.
type Descriptor struct {
	AgentID       string    `json:"agent_id"`
	Capabilities  []string  `json:"capabilities"`
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

type entry struct {
	mu sync.Mutex
	d  Descriptor
}

// Registry is a concurrency-safe agent directory. Membership is guarded by
// one RWMutex while each descriptor carries its own lock, so status churn on
// one agent never serializes lookups of another.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	heartbeatInterval time.Duration
	missThreshold     int
	logger            logging.Logger
	now               func() time.Time
}

// Options configures a Registry.
type Options struct {
	// HeartbeatInterval is the expected beat cadence.
	HeartbeatInterval time.Duration
	// MissThreshold is the number of consecutive missed intervals after
	// which an agent is marked unavailable.
	MissThreshold int
	// Logger receives liveness transitions. Defaults to NoOpLogger.
	Logger logging.Logger
}

// New constructs an empty registry.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{
		HeartbeatInterval: 5 * time.Second,
		MissThreshold:     3,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		entries:           make(map[string]*entry),
		heartbeatInterval: opts.HeartbeatInterval,
		missThreshold:     opts.MissThreshold,
		logger:            opts.Logger,
		now:               time.Now,
	}
}

// Register adds or replaces an agent descriptor. A re-registration clears an
// unavailable verdict and restarts liveness tracking.
func (r *Registry) Register(d Descriptor) {
	if d.Status == "" {
		d.Status = StatusIdle
	}
	d.LastHeartbeat = r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[d.AgentID] = &entry{d: d}
}

// Deregister removes the agent entirely.
func (r *Registry) Deregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, agentID)
}

// Heartbeat records a liveness beat. An unavailable agent does not revive on
// a stray beat; it must re-register.
func (r *Registry) Heartbeat(agentID string) error {
	e, ok := r.lookup(agentID)
	if !ok {
		return core.NewError(core.KindRouting, "registry.heartbeat", "unknown agent "+agentID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.d.Status == StatusUnavailable {
		return core.NewError(core.KindNoAgentAvailable, "registry.heartbeat", "agent "+agentID+" is unavailable, re-register")
	}
	e.d.LastHeartbeat = r.now()
	return nil
}

// SetStatus updates the availability state reported by the owning agent.
func (r *Registry) SetStatus(agentID string, s Status) error {
	e, ok := r.lookup(agentID)
	if !ok {
		return core.NewError(core.KindRouting, "registry.set_status", "unknown agent "+agentID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.d.Status = s
	return nil
}

// Resolve returns the ids of idle agents declaring the capability, most
// recent heartbeat first. An empty result signals NoAgentAvailable to the
// caller, which retries with backoff or fails the enclosing request.
func (r *Registry) Resolve(capability string) []string {
	r.mu.RLock()
	candidates := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		candidates = append(candidates, e)
	}
	r.mu.RUnlock()

	type scored struct {
		id   string
		beat time.Time
	}
	matches := make([]scored, 0, len(candidates))
	for _, e := range candidates {
		e.mu.Lock()
		d := e.d
		e.mu.Unlock()
		if d.Status != StatusIdle {
			continue
		}
		for _, tag := range d.Capabilities {
			if tag == capability {
				matches = append(matches, scored{id: d.AgentID, beat: d.LastHeartbeat})
				break
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].beat.After(matches[j].beat) })

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.id
	}
	return ids
}

// Get returns a copy of the descriptor for inspection.
func (r *Registry) Get(agentID string) (Descriptor, bool) {
	e, ok := r.lookup(agentID)
	if !ok {
		return Descriptor{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.d
	d.Capabilities = append([]string(nil), e.d.Capabilities...)
	return d, true
}

// Snapshot returns copies of every descriptor.
func (r *Registry) Snapshot() []Descriptor {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		d := e.d
		d.Capabilities = append([]string(nil), e.d.Capabilities...)
		e.mu.Unlock()
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// StartMonitor launches the liveness sweeper. It checks every heartbeat
// interval and marks agents unavailable once their silence exceeds
// interval * missThreshold. Returns after ctx is done.
func (r *Registry) StartMonitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// sweep flips silent agents to unavailable. Exported indirectly via
// StartMonitor; tests call it through CheckLiveness.
func (r *Registry) sweep() {
	cutoff := r.now().Add(-time.Duration(r.missThreshold) * r.heartbeatInterval)

	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.d.Status != StatusUnavailable && e.d.LastHeartbeat.Before(cutoff) {
			e.d.Status = StatusUnavailable
			r.logger.Warn("agent marked unavailable after missed heartbeats",
				"agent_id", e.d.AgentID, "last_heartbeat", e.d.LastHeartbeat)
		}
		e.mu.Unlock()
	}
}

// CheckLiveness runs one liveness sweep immediately. Useful for tests and
// for callers that drive their own scheduling.
func (r *Registry) CheckLiveness() { r.sweep() }

func (r *Registry) lookup(agentID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[agentID]
	return e, ok
}

// SetNowFunc overrides the registry clock. Test hook.
func (r *Registry) SetNowFunc(now func() time.Time) { r.now = now }
