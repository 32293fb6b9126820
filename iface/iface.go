// Package iface implements the interface management agent: the boundary
// between external data formats and the internal record model. It ingests
// external data sets into the record store, converts between formats and
// exports findings plus rendered reports as versioned artifacts.
package iface

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/eduinsight/eduinsight/adapter"
	"github.com/eduinsight/eduinsight/agent"
	"github.com/eduinsight/eduinsight/artifact"
	"github.com/eduinsight/eduinsight/bus"
	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/logging"
	"github.com/eduinsight/eduinsight/metrics"
	"github.com/eduinsight/eduinsight/registry"
)

// Capability tags this agent registers.
const (
	CapabilityExport  = "data_export"
	CapabilityImport  = "data_import"
	CapabilityConvert = "format_conversion"
)

// ImportTask asks the agent to normalize an external data set into the
// record store.
type ImportTask struct {
	Format core.ExportFormat `json:"format"`
	Data   []byte            `json:"data"`
	Schema adapter.Schema    `json:"schema"`
}

// ImportOutcome reports how many records were ingested and which external
// fields were unknown.
type ImportOutcome struct {
	Ingested int      `json:"ingested"`
	Warnings []string `json:"warnings,omitempty"`
}

// ConvertTask asks the agent to translate a record set between formats
// without touching the store.
type ConvertTask struct {
	Source core.ExportFormat `json:"source"`
	Target core.ExportFormat `json:"target"`
	Data   []byte            `json:"data"`
	Schema adapter.Schema    `json:"schema"`
}

// ConvertOutcome carries the translated data set.
type ConvertOutcome struct {
	Data     []byte   `json:"data"`
	Rows     int      `json:"rows"`
	Warnings []string `json:"warnings,omitempty"`
}

// Options configures the interface management agent.
type Options struct {
	// MaxExportRows caps export and conversion size. Zero means unlimited.
	MaxExportRows int
	// HeartbeatInterval is the registry beat cadence. Zero keeps the agent
	// default. Must stay below the registry's liveness cutoff.
	HeartbeatInterval time.Duration
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Agent is the interface management agent.
type Agent struct {
	*agent.BaseAgent

	store     *RecordStore
	artifacts artifact.Store
	opts      Options
}

// New constructs the agent around a record store and an artifact store.
func New(id string, store *RecordStore, artifacts artifact.Store, b *bus.Bus, reg *registry.Registry, optFns ...func(o *Options)) *Agent {
	opts := Options{
		MaxExportRows: 100000,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &Agent{store: store, artifacts: artifacts, opts: opts}
	a.BaseAgent = agent.New(id, []string{CapabilityExport, CapabilityImport, CapabilityConvert}, a, b, reg, func(o *agent.Options) {
		o.Description = "Converts between external formats and the record model"
		o.HeartbeatInterval = opts.HeartbeatInterval
		o.Logger = opts.Logger
	})
	return a
}

// Handle implements agent.Handler.
func (a *Agent) Handle(ctx context.Context, msg core.Message) (any, error) {
	switch task := msg.Payload.(type) {
	case core.ExportTask:
		return a.Export(ctx, task)
	case ImportTask:
		return a.Import(ctx, task)
	case ConvertTask:
		return a.Convert(ctx, task)
	default:
		return nil, core.NewError(core.KindRouting, "iface.handle", fmt.Sprintf("unexpected payload %T", msg.Payload))
	}
}

// Export denormalizes the findings (and report, when present) into the
// request format and stores the result as a new artifact version.
func (a *Agent) Export(ctx context.Context, task core.ExportTask) (core.ExportOutcome, error) {
	format := task.Request.Format
	if format == "" {
		format = core.FormatJSON
	}
	export, err := adapter.Denormalize(task.Findings, task.Report, format, a.opts.MaxExportRows)
	if err != nil {
		return core.ExportOutcome{}, err
	}

	name := "export-" + task.Request.ID
	meta := map[string]string{
		"request_id":    task.Request.ID,
		"analysis_type": string(task.Request.AnalysisType),
	}
	var warnings []string
	if task.Report != nil && task.Report.Degraded {
		warnings = append(warnings, "report content was generated on the degraded template path")
		meta["degraded"] = "true"
	}

	version, err := a.artifacts.Save(ctx, artifact.Artifact{
		Name:        name,
		ContentType: contentType(format),
		Data:        export.Data,
		Metadata:    meta,
	})
	if err != nil {
		return core.ExportOutcome{}, core.WrapError(core.KindInternal, "iface.export", err)
	}
	metrics.ExportRows.Observe(float64(export.Rows))
	a.opts.Logger.Info("export stored", "artifact", name, "version", version, "rows", export.Rows, "format", format)

	return core.ExportOutcome{
		Artifact: name,
		Version:  version,
		Rows:     export.Rows,
		Warnings: warnings,
	}, nil
}

// Import normalizes the external payload and appends it to the record store.
func (a *Agent) Import(ctx context.Context, task ImportTask) (ImportOutcome, error) {
	res, err := a.normalize(task.Format, task.Data, task.Schema)
	if err != nil {
		return ImportOutcome{}, err
	}
	a.store.Add(res.Records...)
	a.opts.Logger.Info("records ingested", "count", len(res.Records), "warnings", len(res.Warnings))
	return ImportOutcome{Ingested: len(res.Records), Warnings: res.Warnings}, nil
}

// Convert normalizes the payload from the source format and re-emits it in
// the target format.
func (a *Agent) Convert(ctx context.Context, task ConvertTask) (ConvertOutcome, error) {
	res, err := a.normalize(task.Source, task.Data, task.Schema)
	if err != nil {
		return ConvertOutcome{}, err
	}
	out, err := adapter.EmitRecords(res.Records, task.Target, a.opts.MaxExportRows)
	if err != nil {
		return ConvertOutcome{}, err
	}
	return ConvertOutcome{Data: out.Data, Rows: out.Rows, Warnings: res.Warnings}, nil
}

func (a *Agent) normalize(format core.ExportFormat, data []byte, schema adapter.Schema) (adapter.Result, error) {
	switch format {
	case core.FormatCSV:
		return adapter.NormalizeCSV(bytes.NewReader(data), schema)
	case core.FormatTSV:
		return adapter.NormalizeTSV(bytes.NewReader(data), schema)
	case core.FormatJSON:
		return adapter.NormalizeJSON(bytes.NewReader(data), schema)
	default:
		return adapter.Result{}, core.NewError(core.KindSchemaMismatch, "iface.normalize",
			fmt.Sprintf("format %q cannot be normalized", format))
	}
}

func contentType(format core.ExportFormat) string {
	switch format {
	case core.FormatCSV:
		return "text/csv"
	case core.FormatTSV:
		return "text/tab-separated-values"
	case core.FormatJSON:
		return "application/json"
	case core.FormatMarkdown:
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}
