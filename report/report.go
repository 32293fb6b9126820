// Package report implements the report generation agent. It renders analysis
// findings into markdown documents per report type. An executive summary is
// synthesized by the language model under its own sub-timeout; when the model
// is slow or unavailable the agent falls back to a templated summary and
// marks the result degraded, which is still a successful outcome.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eduinsight/eduinsight/agent"
	"github.com/eduinsight/eduinsight/bus"
	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/logging"
	"github.com/eduinsight/eduinsight/metrics"
	"github.com/eduinsight/eduinsight/model"
	"github.com/eduinsight/eduinsight/registry"
)

// Capability is the tag this agent registers and the coordinator resolves.
const Capability = "report_generation"

// Options configures the report agent.
type Options struct {
	// Model writes the executive summary. Nil always takes the templated
	// fallback.
	Model model.Model
	// LLMTimeout bounds each model call independently of the stage
	// deadline, so one slow completion degrades the report instead of
	// timing out the whole stage.
	LLMTimeout time.Duration
	// HeartbeatInterval is the registry beat cadence. Zero keeps the agent
	// default. Must stay below the registry's liveness cutoff.
	HeartbeatInterval time.Duration
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Agent is the report generation agent.
type Agent struct {
	*agent.BaseAgent

	opts Options
	now  func() time.Time
}

// New constructs the report agent and wires it to the bus and registry.
func New(id string, b *bus.Bus, reg *registry.Registry, optFns ...func(o *Options)) *Agent {
	opts := Options{
		LLMTimeout: 120 * time.Second,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &Agent{opts: opts, now: time.Now}
	a.BaseAgent = agent.New(id, []string{Capability}, a, b, reg, func(o *agent.Options) {
		o.Description = "Renders analysis findings into narrative reports"
		o.HeartbeatInterval = opts.HeartbeatInterval
		o.Logger = opts.Logger
	})
	return a
}

// Handle implements agent.Handler.
func (a *Agent) Handle(ctx context.Context, msg core.Message) (any, error) {
	task, ok := msg.Payload.(core.ReportTask)
	if !ok {
		return nil, core.NewError(core.KindRouting, "report.handle", fmt.Sprintf("unexpected payload %T", msg.Payload))
	}
	result, err := a.Generate(ctx, task.Request, task.Findings)
	if err != nil {
		return nil, err
	}
	return core.ReportOutcome{Result: result}, nil
}

// Generate renders the findings into a report document. A model failure or
// sub-timeout expiry degrades to the templated summary; only an empty finding
// set or a broken template fails the stage.
func (a *Agent) Generate(ctx context.Context, req core.Request, findings []core.Finding) (core.ReportResult, error) {
	if len(findings) == 0 {
		return core.ReportResult{}, core.NewError(core.KindSchemaMismatch, "report.generate", "no findings to report on")
	}
	reportType := req.ReportType
	if reportType == "" {
		reportType = core.ReportIndividual
	}

	summary, degraded := a.summarize(ctx, reportType, findings)
	content, err := render(reportType, findings, summary, degraded, a.now().UTC())
	if err != nil {
		return core.ReportResult{}, err
	}
	if degraded {
		metrics.DegradedReports.Inc()
	}

	return core.ReportResult{
		ReportID:   core.NewID(),
		Type:       reportType,
		Format:     core.FormatMarkdown,
		Content:    content,
		Degraded:   degraded,
		RenderedAt: a.now().UTC(),
	}, nil
}

// summarize asks the model for an executive summary under the sub-timeout.
// Any failure returns the templated summary with degraded set.
func (a *Agent) summarize(ctx context.Context, t core.ReportType, findings []core.Finding) (string, bool) {
	fallback := templatedSummary(t, findings)
	if a.opts.Model == nil {
		return fallback, true
	}

	start := time.Now()
	resp, err := a.opts.Model.Complete(ctx, model.CompletionRequest{
		System:  "You are an educational analyst writing for teachers. Write one short paragraph.",
		Prompt:  summaryPrompt(t, findings),
		Timeout: a.opts.LLMTimeout,
	})
	if err != nil {
		metrics.LLMCallDuration.WithLabelValues(a.opts.Model.Info().Provider, "error").Observe(time.Since(start).Seconds())
		a.opts.Logger.Warn("summary synthesis degraded to template", "report_type", t, "error", err)
		return fallback, true
	}
	metrics.LLMCallDuration.WithLabelValues(a.opts.Model.Info().Provider, "ok").Observe(time.Since(start).Seconds())

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return fallback, true
	}
	return text, false
}

func summaryPrompt(t core.ReportType, findings []core.Finding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write the executive summary for a %s learning report based on these findings:\n", t)
	for _, f := range findings {
		fmt.Fprintf(&sb, "\n%s (confidence %.2f, %d records):\n", f.Type, f.Confidence, f.RecordSpan)
		for k, v := range f.Metrics {
			fmt.Fprintf(&sb, "- %s: %.2f\n", k, v)
		}
		for _, n := range f.Narratives {
			fmt.Fprintf(&sb, "- note: %s\n", n)
		}
	}
	return sb.String()
}
