package report

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/eduinsight/eduinsight/core"
)

// templateData is the input every report template renders from.
type templateData struct {
	Title       string
	GeneratedAt string
	Summary     string
	Degraded    bool
	Sections    []section
}

type section struct {
	Heading    string
	Metrics    []metricLine
	Narratives []string
	Confidence float64
	RecordSpan int
}

type metricLine struct {
	Name  string
	Value float64
}

const reportTemplate = `# {{.Title}}

*Generated {{.GeneratedAt}}*
{{- if .Degraded}}

> Narrative synthesis was unavailable; this report uses templated summaries only.
{{- end}}

## Executive Summary

{{.Summary}}
{{range .Sections}}
## {{.Heading}}

| Metric | Value |
|--------|-------|
{{- range .Metrics}}
| {{.Name}} | {{printf "%.2f" .Value}} |
{{- end}}

{{- range .Narratives}}

{{.}}
{{- end}}

*Based on {{.RecordSpan}} records, confidence {{printf "%.2f" .Confidence}}.*
{{end}}`

var tmpl = template.Must(template.New("report").Parse(reportTemplate))

var titles = map[core.ReportType]string{
	core.ReportIndividual: "Individual Learning Report",
	core.ReportClass:      "Class Learning Report",
	core.ReportSubject:    "Subject Learning Report",
	core.ReportOverall:    "Overall Learning Report",
}

// render produces the markdown document for the findings. summary is the
// executive summary text; degraded marks the fallback path.
func render(t core.ReportType, findings []core.Finding, summary string, degraded bool, now time.Time) (string, error) {
	title, ok := titles[t]
	if !ok {
		return "", core.NewError(core.KindSchemaMismatch, "report.render", fmt.Sprintf("unknown report type %q", t))
	}

	data := templateData{
		Title:       title,
		GeneratedAt: now.Format("2006-01-02 15:04 MST"),
		Summary:     summary,
		Degraded:    degraded,
	}
	for _, f := range findings {
		data.Sections = append(data.Sections, section{
			Heading:    sectionHeading(f.Type),
			Metrics:    sortedMetrics(f.Metrics),
			Narratives: f.Narratives,
			Confidence: f.Confidence,
			RecordSpan: f.RecordSpan,
		})
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", core.WrapError(core.KindInternal, "report.render", err)
	}
	return sb.String(), nil
}

func sectionHeading(t core.AnalysisType) string {
	words := strings.Split(string(t), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ") + " Analysis"
}

func sortedMetrics(metrics map[string]float64) []metricLine {
	out := make([]metricLine, 0, len(metrics))
	for k, v := range metrics {
		out = append(out, metricLine{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// templatedSummary is the deterministic executive summary used when the
// narrative backend is absent or missed its sub-timeout.
func templatedSummary(t core.ReportType, findings []core.Finding) string {
	var total int
	var confSum float64
	for _, f := range findings {
		total += f.RecordSpan
		confSum += f.Confidence
	}
	avgConf := 0.0
	if len(findings) > 0 {
		avgConf = confSum / float64(len(findings))
	}
	return fmt.Sprintf(
		"This %s report covers %d analysis finding(s) spanning %d activity records with an average confidence of %.2f. Detailed metrics follow below.",
		t, len(findings), total, avgConf)
}
