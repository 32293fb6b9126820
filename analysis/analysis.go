// Package analysis implements the data analysis agent. It fetches normalized
// activity records for a request scope, applies the algorithm selected by the
// analysis type and emits a structured finding. Algorithms are deterministic;
// an optional language model adds narrative fragments under a bounded timeout
// and never gates the result.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eduinsight/eduinsight/agent"
	"github.com/eduinsight/eduinsight/bus"
	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/logging"
	"github.com/eduinsight/eduinsight/model"
	"github.com/eduinsight/eduinsight/registry"
)

// Capability is the tag this agent registers and the coordinator resolves.
const Capability = "data_analysis"

// RecordSource supplies the normalized records for a scope. Implementations
// wrap whatever holds the ingested data (in-memory store, adapter pipeline).
type RecordSource interface {
	Fetch(ctx context.Context, scope core.SubjectScope) ([]core.Record, error)
}

// RecordSourceFunc adapts a function to the RecordSource interface.
type RecordSourceFunc func(ctx context.Context, scope core.SubjectScope) ([]core.Record, error)

// Fetch implements RecordSource.
func (f RecordSourceFunc) Fetch(ctx context.Context, scope core.SubjectScope) ([]core.Record, error) {
	return f(ctx, scope)
}

// Options configures the analysis agent.
type Options struct {
	// MinRecords is the sample size below which a request fails with an
	// insufficient data error instead of producing noise.
	MinRecords int
	// Model, when set, enriches findings with generated narrative
	// fragments. Nil disables enrichment entirely.
	Model model.Model
	// NarrativeTimeout bounds the enrichment call. An expiry degrades to
	// the deterministic narratives, it never fails the analysis.
	NarrativeTimeout time.Duration
	// HeartbeatInterval is the registry beat cadence. Zero keeps the agent
	// default. Must stay below the registry's liveness cutoff.
	HeartbeatInterval time.Duration
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Agent is the data analysis agent.
type Agent struct {
	*agent.BaseAgent

	source RecordSource
	opts   Options
}

// New constructs the analysis agent and wires it to the bus and registry.
// Call Start to begin consuming tasks.
func New(id string, source RecordSource, b *bus.Bus, reg *registry.Registry, optFns ...func(o *Options)) *Agent {
	opts := Options{
		MinRecords:       10,
		NarrativeTimeout: 30 * time.Second,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &Agent{source: source, opts: opts}
	a.BaseAgent = agent.New(id, []string{Capability}, a, b, reg, func(o *agent.Options) {
		o.Description = "Applies statistical algorithms to educational activity records"
		o.HeartbeatInterval = opts.HeartbeatInterval
		o.Logger = opts.Logger
	})
	return a
}

// Handle implements agent.Handler.
func (a *Agent) Handle(ctx context.Context, msg core.Message) (any, error) {
	task, ok := msg.Payload.(core.AnalysisTask)
	if !ok {
		return nil, core.NewError(core.KindRouting, "analysis.handle", fmt.Sprintf("unexpected payload %T", msg.Payload))
	}
	finding, err := a.Analyze(ctx, task.Request)
	if err != nil {
		return nil, err
	}
	return core.AnalysisOutcome{Finding: finding}, nil
}

// Analyze runs the algorithm for the request and returns the finding. It is
// exported so callers embedding the pipeline can analyze synchronously
// without going through the bus.
func (a *Agent) Analyze(ctx context.Context, req core.Request) (core.Finding, error) {
	records, err := a.source.Fetch(ctx, req.Scope)
	if err != nil {
		return core.Finding{}, core.WrapError(core.KindInternal, "analysis.fetch", err)
	}
	records = core.FilterRecords(records, req.Scope)
	if len(records) < a.opts.MinRecords {
		return core.Finding{}, core.NewError(core.KindInsufficientData, "analysis.analyze",
			fmt.Sprintf("%d records in scope, need at least %d", len(records), a.opts.MinRecords))
	}
	if err := ctx.Err(); err != nil {
		return core.Finding{}, core.WrapError(core.KindTimedOut, "analysis.analyze", err)
	}

	out, err := run(req.AnalysisType, records)
	if err != nil {
		return core.Finding{}, err
	}

	finding := core.Finding{
		RequestID:  req.ID,
		Type:       req.AnalysisType,
		Metrics:    out.Metrics,
		Narratives: out.Narratives,
		Confidence: out.Confidence,
		RecordSpan: len(records),
		AnalyzedAt: time.Now().UTC(),
	}
	a.enrich(ctx, &finding)
	return finding, nil
}

// enrich appends a model-written narrative fragment. Failures and timeouts
// only log; the deterministic finding stands on its own.
func (a *Agent) enrich(ctx context.Context, finding *core.Finding) {
	if a.opts.Model == nil {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Summarize these %s metrics for an educator in two sentences:\n", finding.Type)
	for k, v := range finding.Metrics {
		fmt.Fprintf(&sb, "- %s: %.2f\n", k, v)
	}

	resp, err := a.opts.Model.Complete(ctx, model.CompletionRequest{
		System:  "You are an educational data analyst. Be concrete and brief.",
		Prompt:  sb.String(),
		Timeout: a.opts.NarrativeTimeout,
	})
	if err != nil {
		a.opts.Logger.Warn("narrative enrichment skipped", "request_id", finding.RequestID, "error", err)
		return
	}
	if text := strings.TrimSpace(resp.Text); text != "" {
		finding.Narratives = append(finding.Narratives, text)
	}
}
