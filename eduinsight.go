// Package eduinsight assembles the multi-agent educational analytics
// pipeline: an in-process message bus, an agent registry with liveness
// tracking, the coordinator that drives capability chains, and the default
// analysis, report and interface management agents. The System type wires
// everything from one configuration and exposes the submission surface.
package eduinsight

import (
	"context"
	"errors"
	"fmt"

	"github.com/eduinsight/eduinsight/analysis"
	"github.com/eduinsight/eduinsight/artifact"
	"github.com/eduinsight/eduinsight/bus"
	"github.com/eduinsight/eduinsight/config"
	"github.com/eduinsight/eduinsight/coordinator"
	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/iface"
	"github.com/eduinsight/eduinsight/logging"
	"github.com/eduinsight/eduinsight/model"
	"github.com/eduinsight/eduinsight/model/anthropic"
	"github.com/eduinsight/eduinsight/model/openai"
	"github.com/eduinsight/eduinsight/registry"
	"github.com/eduinsight/eduinsight/report"
)

// Options configures a System beyond its config file surface.
type Options struct {
	// Config supplies all tunables. Nil uses config.Default().
	Config *config.Config
	// Model overrides the backend built from Config.LLM. Useful for tests
	// and embedding; nil builds the configured provider.
	Model model.Model
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// System is the assembled pipeline. Construct with New, then Start; submit
// work with Submit and observe it with Status.
type System struct {
	cfg    *config.Config
	logger logging.Logger

	bus         *bus.Bus
	registry    *registry.Registry
	coordinator *coordinator.Coordinator
	records     *iface.RecordStore
	artifacts   artifact.Store

	analysisAgent  *analysis.Agent
	reportAgent    *report.Agent
	interfaceAgent *iface.Agent

	cancel  context.CancelFunc
	running bool
}

// New assembles a System. Nothing runs until Start.
func New(optFns ...func(o *Options)) (*System, error) {
	opts := Options{
		Config: config.Default(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend := opts.Model
	if backend == nil {
		var err error
		backend, err = buildModel(cfg.LLM)
		if err != nil {
			return nil, err
		}
	}

	b := bus.New(func(o *bus.Options) { o.Logger = opts.Logger })
	reg := registry.New(func(o *registry.Options) {
		o.HeartbeatInterval = cfg.Registry.HeartbeatInterval
		o.MissThreshold = cfg.Registry.MissThreshold
		o.Logger = opts.Logger
	})
	coord := coordinator.New(b, reg, func(o *coordinator.Options) {
		o.MaxConcurrentJobs = cfg.Coordinator.MaxConcurrentJobs
		o.QueueDepth = cfg.Coordinator.QueueDepth
		o.StageTimeout = cfg.Coordinator.StageTimeout
		o.ReportDeadline = cfg.Coordinator.ReportDeadline
		o.StageRetries = cfg.Coordinator.StageRetries
		o.RetryBackoff = cfg.Coordinator.RetryBackoff
		o.ResolveRetries = cfg.Coordinator.ResolveRetries
		o.ResolveBackoff = cfg.Coordinator.ResolveBackoff
		o.Logger = opts.Logger
	})

	records := iface.NewRecordStore()
	artifacts := artifact.NewInMemoryStore()

	s := &System{
		cfg:         cfg,
		logger:      opts.Logger,
		bus:         b,
		registry:    reg,
		coordinator: coord,
		records:     records,
		artifacts:   artifacts,
	}
	s.analysisAgent = analysis.New("analysis-agent", records, b, reg, func(o *analysis.Options) {
		o.MinRecords = cfg.Analysis.MinRecords
		o.Model = backend
		o.NarrativeTimeout = cfg.LLM.Timeout
		o.HeartbeatInterval = cfg.Registry.HeartbeatInterval
		o.Logger = opts.Logger
	})
	s.reportAgent = report.New("report-agent", b, reg, func(o *report.Options) {
		o.Model = backend
		o.LLMTimeout = cfg.LLM.Timeout
		o.HeartbeatInterval = cfg.Registry.HeartbeatInterval
		o.Logger = opts.Logger
	})
	s.interfaceAgent = iface.New("interface-agent", records, artifacts, b, reg, func(o *iface.Options) {
		o.MaxExportRows = cfg.Export.MaxRows
		o.HeartbeatInterval = cfg.Registry.HeartbeatInterval
		o.Logger = opts.Logger
	})
	return s, nil
}

// Start launches the coordinator, the liveness monitor and all agents.
func (s *System) Start(ctx context.Context) error {
	if s.running {
		return errors.New("system is already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.coordinator.Start(runCtx); err != nil {
		cancel()
		return err
	}
	for _, start := range []func(context.Context) error{
		s.analysisAgent.Start,
		s.reportAgent.Start,
		s.interfaceAgent.Start,
	} {
		if err := start(runCtx); err != nil {
			cancel()
			return err
		}
	}
	s.registry.StartMonitor(runCtx)
	s.running = true
	s.logger.Info("system started", "agents", len(s.registry.Snapshot()))
	return nil
}

// Stop shuts the pipeline down. In-flight jobs finish as cancelled.
func (s *System) Stop() error {
	if !s.running {
		return errors.New("system is not running")
	}
	s.running = false

	var errs []error
	for _, stop := range []func() error{
		s.analysisAgent.Stop,
		s.reportAgent.Stop,
		s.interfaceAgent.Stop,
		s.coordinator.Stop,
	} {
		if err := stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.cancel()
	s.bus.Close()
	s.logger.Info("system stopped")
	return errors.Join(errs...)
}

// Submit admits a work request into the pipeline.
func (s *System) Submit(req core.Request) (*core.ReportJob, error) {
	return s.coordinator.Submit(req)
}

// Status returns the latest job snapshot for the request id.
func (s *System) Status(requestID string) (*core.ReportJob, error) {
	return s.coordinator.Status(requestID)
}

// Cancel cooperatively stops the job for the request id.
func (s *System) Cancel(requestID string) (*core.ReportJob, error) {
	return s.coordinator.Cancel(requestID)
}

// Jobs returns snapshots of every tracked job.
func (s *System) Jobs() []*core.ReportJob {
	return s.coordinator.Jobs()
}

// Import normalizes an external data set into the record store.
func (s *System) Import(ctx context.Context, task iface.ImportTask) (iface.ImportOutcome, error) {
	return s.interfaceAgent.Import(ctx, task)
}

// Ingest adds already-normalized records directly.
func (s *System) Ingest(records ...core.Record) {
	s.records.Add(records...)
}

// Artifacts exposes the export artifact store.
func (s *System) Artifacts() artifact.Store { return s.artifacts }

// Agents returns the current registry snapshot.
func (s *System) Agents() []registry.Descriptor { return s.registry.Snapshot() }

// buildModel constructs the configured completion backend.
func buildModel(cfg config.LLMConfig) (model.Model, error) {
	switch cfg.Provider {
	case "openai", "":
		return openai.NewModel(func(o *openai.Options) {
			o.BaseURL = cfg.BaseURL
			o.APIKey = cfg.APIKey
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.APIKey
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
		}), nil
	case "mock":
		return model.NewMockModel(cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
