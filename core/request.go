package core

import "time"

// AnalysisType selects the algorithm the data analysis agent applies.
type AnalysisType string

const (
	// AnalysisStudentBehavior examines behavioral traces: operation
	// distribution, session durations, activity peaks, engagement.
	AnalysisStudentBehavior AnalysisType = "student_behavior"
	// AnalysisPerformanceTrend examines score series over time: learning
	// velocity, improvement, consistency.
	AnalysisPerformanceTrend AnalysisType = "performance_trend"
	// AnalysisKnowledgeMastery examines per-knowledge-point correctness.
	AnalysisKnowledgeMastery AnalysisType = "knowledge_mastery"
	// AnalysisChoicePattern examines multiple-choice answering behavior:
	// option preference, guessing indicators, response times.
	AnalysisChoicePattern AnalysisType = "choice_pattern"
	// AnalysisComprehensive runs every registered algorithm and merges the
	// resulting metrics.
	AnalysisComprehensive AnalysisType = "comprehensive"
)

// ReportType selects the report template and narrative framing.
type ReportType string

const (
	// ReportIndividual is a per-student report.
	ReportIndividual ReportType = "individual"
	// ReportClass aggregates one class.
	ReportClass ReportType = "class"
	// ReportSubject aggregates one subject.
	ReportSubject ReportType = "subject"
	// ReportOverall is the institution-wide summary.
	ReportOverall ReportType = "overall"
)

// ExportFormat selects the denormalization target of the adapter layer.
type ExportFormat string

const (
	// FormatCSV is comma-delimited tabular output.
	FormatCSV ExportFormat = "csv"
	// FormatTSV is tab-delimited spreadsheet-table output.
	FormatTSV ExportFormat = "tsv"
	// FormatJSON is structured hierarchical output.
	FormatJSON ExportFormat = "json"
	// FormatMarkdown is the rendered document output.
	FormatMarkdown ExportFormat = "markdown"
)

// SubjectScope bounds an analysis to students, a class and a time range.
// Zero-value dimensions are unbounded.
type SubjectScope struct {
	StudentIDs []string  `json:"student_ids,omitempty"`
	Class      string    `json:"class,omitempty"`
	From       time.Time `json:"from,omitempty"`
	To         time.Time `json:"to,omitempty"`
}

// Request is a unit of submitted work. It is immutable once dispatched.
// ReportType and Format are optional: an empty ReportType skips the report
// stage, an empty Format skips the export stage.
type Request struct {
	ID           string       `json:"request_id"`
	AnalysisType AnalysisType `json:"analysis_type"`
	Scope        SubjectScope `json:"subject_scope"`
	ReportType   ReportType   `json:"report_type,omitempty"`
	Format       ExportFormat `json:"format,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Finding is the structured output of an analysis stage and the input to a
// report stage. The coordinator owns it once emitted; it is read-only
// thereafter.
type Finding struct {
	RequestID  string             `json:"request_id"`
	Type       AnalysisType       `json:"analysis_type"`
	Metrics    map[string]float64 `json:"metrics"`
	Narratives []string           `json:"narrative_fragments,omitempty"`
	Confidence float64            `json:"confidence"`
	RecordSpan int                `json:"record_span"`
	AnalyzedAt time.Time          `json:"analyzed_at"`
}

// Payload types carried inside bus messages. Declared here so agents and
// coordinator agree on the wire shape without importing each other.

// AnalysisTask asks the data analysis agent to process a request scope.
type AnalysisTask struct {
	Request Request `json:"request"`
}

// AnalysisOutcome is the analysis stage response payload.
type AnalysisOutcome struct {
	Finding Finding `json:"finding"`
}

// ReportTask asks the report generation agent to render findings.
type ReportTask struct {
	Request  Request   `json:"request"`
	Findings []Finding `json:"findings"`
}

// ReportOutcome is the report stage response payload.
type ReportOutcome struct {
	Result ReportResult `json:"result"`
}

// ExportTask asks the interface management agent to denormalize and store
// findings (and the rendered report when present) in the target format.
type ExportTask struct {
	Request  Request       `json:"request"`
	Findings []Finding     `json:"findings"`
	Report   *ReportResult `json:"report,omitempty"`
}

// ExportOutcome is the export stage response payload.
type ExportOutcome struct {
	Artifact string `json:"artifact"`
	Version  int    `json:"version"`
	Rows     int    `json:"rows"`
	Warnings []string
}
