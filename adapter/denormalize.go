package adapter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/eduinsight/eduinsight/core"
)

// Export is the produced artifact of a denormalization pass. Rows counts the
// data rows (header excluded) checked against the ceiling.
type Export struct {
	Data []byte `json:"data"`
	Rows int    `json:"rows"`
}

// exportRow is the flattened shape of one metric across all formats, so a
// normalize round trip of an export sees consistent field names.
type exportRow struct {
	RequestID    string  `json:"request_id"`
	AnalysisType string  `json:"analysis_type"`
	Metric       string  `json:"metric"`
	Value        float64 `json:"value"`
	Confidence   float64 `json:"confidence"`
	AnalyzedAt   string  `json:"analyzed_at"`
}

// Denormalize renders findings (plus the rendered report, when present) into
// the target format. The row count is checked against maxRows before any
// bytes are produced; exceeding the ceiling fails with an export too large
// error and an empty artifact. maxRows <= 0 means unlimited.
func Denormalize(findings []core.Finding, report *core.ReportResult, format core.ExportFormat, maxRows int) (Export, error) {
	rows := flattenFindings(findings)
	if maxRows > 0 && len(rows) > maxRows {
		return Export{}, core.NewError(core.KindExportTooLarge, "adapter.denormalize",
			fmt.Sprintf("%d rows exceed the ceiling of %d", len(rows), maxRows))
	}

	switch format {
	case core.FormatCSV:
		return writeTabular(rows, ',')
	case core.FormatTSV:
		return writeTabular(rows, '\t')
	case core.FormatJSON:
		return writeJSON(rows, findings, report)
	case core.FormatMarkdown:
		return writeMarkdown(rows, report)
	default:
		return Export{}, core.NewError(core.KindSchemaMismatch, "adapter.denormalize",
			fmt.Sprintf("unknown export format %q", format))
	}
}

func flattenFindings(findings []core.Finding) []exportRow {
	var rows []exportRow
	for _, f := range findings {
		keys := make([]string, 0, len(f.Metrics))
		for k := range f.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rows = append(rows, exportRow{
				RequestID:    f.RequestID,
				AnalysisType: string(f.Type),
				Metric:       k,
				Value:        f.Metrics[k],
				Confidence:   f.Confidence,
				AnalyzedAt:   f.AnalyzedAt.UTC().Format(time.RFC3339),
			})
		}
	}
	return rows
}

var tabularHeader = []string{"request_id", "analysis_type", "metric", "value", "confidence", "analyzed_at"}

func writeTabular(rows []exportRow, comma rune) (Export, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = comma

	if err := w.Write(tabularHeader); err != nil {
		return Export{}, core.WrapError(core.KindInternal, "adapter.denormalize", err)
	}
	for _, r := range rows {
		rec := []string{
			r.RequestID,
			r.AnalysisType,
			r.Metric,
			fmt.Sprintf("%g", r.Value),
			fmt.Sprintf("%g", r.Confidence),
			r.AnalyzedAt,
		}
		if err := w.Write(rec); err != nil {
			return Export{}, core.WrapError(core.KindInternal, "adapter.denormalize", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Export{}, core.WrapError(core.KindInternal, "adapter.denormalize", err)
	}
	return Export{Data: buf.Bytes(), Rows: len(rows)}, nil
}

func writeJSON(rows []exportRow, findings []core.Finding, report *core.ReportResult) (Export, error) {
	doc := struct {
		Findings []core.Finding     `json:"findings"`
		Metrics  []exportRow        `json:"metrics"`
		Report   *core.ReportResult `json:"report,omitempty"`
	}{Findings: findings, Metrics: rows, Report: report}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Export{}, core.WrapError(core.KindInternal, "adapter.denormalize", err)
	}
	return Export{Data: data, Rows: len(rows)}, nil
}

func writeMarkdown(rows []exportRow, report *core.ReportResult) (Export, error) {
	var buf bytes.Buffer
	if report != nil {
		buf.WriteString(report.Content)
		buf.WriteString("\n\n## Exported Metrics\n\n")
	} else {
		buf.WriteString("# Exported Metrics\n\n")
	}

	buf.WriteString("| Analysis | Metric | Value | Confidence |\n")
	buf.WriteString("|----------|--------|-------|------------|\n")
	for _, r := range rows {
		fmt.Fprintf(&buf, "| %s | %s | %g | %g |\n", r.AnalysisType, r.Metric, r.Value, r.Confidence)
	}
	return Export{Data: buf.Bytes(), Rows: len(rows)}, nil
}
