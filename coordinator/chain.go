package coordinator

import (
	"github.com/eduinsight/eduinsight/analysis"
	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/iface"
	"github.com/eduinsight/eduinsight/report"
)

// Stage names as they appear in job snapshots and logs.
const (
	StageAnalysis = "analysis"
	StageReport   = "report"
	StageExport   = "export"
)

// stage binds a pipeline step to the capability that serves it, the request
// subject and the payload/outcome mapping.
type stage struct {
	name       string
	capability string
	subject    string
	// buildTask assembles the request payload from the job's accumulated
	// state.
	buildTask func(j *core.ReportJob) any
	// applyOutcome folds a successful response payload back into the job.
	// A payload of an unexpected type is an internal error.
	applyOutcome func(j *core.ReportJob, payload any) bool
}

var analysisStage = stage{
	name:       StageAnalysis,
	capability: analysis.Capability,
	subject:    "analysis.execute",
	buildTask: func(j *core.ReportJob) any {
		return core.AnalysisTask{Request: j.Request}
	},
	applyOutcome: func(j *core.ReportJob, payload any) bool {
		out, ok := payload.(core.AnalysisOutcome)
		if !ok {
			return false
		}
		j.Findings = append(j.Findings, out.Finding)
		return true
	},
}

var reportStage = stage{
	name:       StageReport,
	capability: report.Capability,
	subject:    "report.generate",
	buildTask: func(j *core.ReportJob) any {
		return core.ReportTask{Request: j.Request, Findings: j.Findings}
	},
	applyOutcome: func(j *core.ReportJob, payload any) bool {
		out, ok := payload.(core.ReportOutcome)
		if !ok {
			return false
		}
		result := out.Result
		j.Result = &result
		return true
	},
}

var exportStage = stage{
	name:       StageExport,
	capability: iface.CapabilityExport,
	subject:    "data.export",
	buildTask: func(j *core.ReportJob) any {
		return core.ExportTask{Request: j.Request, Findings: j.Findings, Report: j.Result}
	},
	applyOutcome: func(j *core.ReportJob, payload any) bool {
		out, ok := payload.(core.ExportOutcome)
		if !ok {
			return false
		}
		j.Export = &out
		return true
	},
}

// chainFor derives the capability chain from the request shape: analysis
// always runs, the report stage only when a report type is set and the
// export stage only when a format is set.
func chainFor(req core.Request) []stage {
	chain := []stage{analysisStage}
	if req.ReportType != "" {
		chain = append(chain, reportStage)
	}
	if req.Format != "" {
		chain = append(chain, exportStage)
	}
	return chain
}
