package adapter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/internal/testutil"
)

const sampleCSV = `student_id,kind,action,timestamp,device
s1,log,page_view,2025-03-10T09:00:00Z,tablet
s2,log,submit,2025-03-10T09:05:00Z,laptop
`

func TestNormalizeCSV(t *testing.T) {
	res, err := NormalizeCSV(strings.NewReader(sampleCSV), Schema{})
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "s1", res.Records[0].StudentID)
	assert.Equal(t, core.RecordLog, res.Records[0].Kind)
	assert.Equal(t, "page_view", res.Records[0].Action)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), res.Records[0].Timestamp)

	// The unmapped device column survives as an attribute with one warning.
	assert.Equal(t, "tablet", res.Records[0].Attrs["device"])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], `"device"`)
}

func TestNormalizeCSVWithMapping(t *testing.T) {
	input := "pupil,when,points,total\ns1,2025-03-10,85,100\n"
	schema := Schema{
		Mapping: map[string]string{
			"pupil":  FieldStudentID,
			"when":   FieldTimestamp,
			"points": FieldScore,
			"total":  FieldMaxScore,
		},
		DefaultKind: core.RecordScore,
	}

	res, err := NormalizeCSV(strings.NewReader(input), schema)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Empty(t, res.Warnings)

	rec := res.Records[0]
	assert.Equal(t, "s1", rec.StudentID)
	assert.Equal(t, core.RecordScore, rec.Kind)
	assert.Equal(t, 85.0, rec.Score)
	assert.Equal(t, 100.0, rec.MaxScore)
}

func TestNormalizeMissingRequiredField(t *testing.T) {
	input := "student_id,action\ns1,page_view\n"

	_, err := NormalizeCSV(strings.NewReader(input), Schema{})
	require.Error(t, err)
	assert.Equal(t, core.KindSchemaMismatch, core.KindOf(err))
	assert.Contains(t, err.Error(), "timestamp")
}

func TestNormalizeBadTypedValue(t *testing.T) {
	input := "student_id,timestamp,score\ns1,2025-03-10T09:00:00Z,many\n"

	_, err := NormalizeCSV(strings.NewReader(input), Schema{})
	require.Error(t, err)
	assert.Equal(t, core.KindSchemaMismatch, core.KindOf(err))
}

func TestNormalizeEmptyInput(t *testing.T) {
	_, err := NormalizeCSV(strings.NewReader(""), Schema{})
	require.Error(t, err)
	assert.Equal(t, core.KindSchemaMismatch, core.KindOf(err))
}

func TestNormalizeRaggedRow(t *testing.T) {
	input := "student_id,timestamp\ns1,2025-03-10T09:00:00Z,extra\n"

	_, err := NormalizeCSV(strings.NewReader(input), Schema{})
	require.Error(t, err)
	assert.Equal(t, core.KindSchemaMismatch, core.KindOf(err))
}

func TestNormalizeJSON(t *testing.T) {
	input := `[
		{"student_id": "s1", "kind": "choice", "selected": "B", "correct": true,
		 "duration_ms": 4200, "timestamp": "2025-03-10T09:00:00Z",
		 "meta": {"device": "tablet"}}
	]`

	res, err := NormalizeJSON(strings.NewReader(input), Schema{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Equal(t, core.RecordChoice, rec.Kind)
	assert.Equal(t, "B", rec.Selected)
	assert.True(t, rec.Correct)
	assert.Equal(t, 4200*time.Millisecond, rec.Duration)
	assert.Equal(t, "tablet", rec.Attrs["meta.device"])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "meta.device")
}

func TestNormalizeJSONMalformed(t *testing.T) {
	_, err := NormalizeJSON(strings.NewReader("{not json"), Schema{})
	require.Error(t, err)
	assert.Equal(t, core.KindSchemaMismatch, core.KindOf(err))
}

func TestDenormalizeCSVRoundTrip(t *testing.T) {
	findings := testutil.Findings("req-1", core.AnalysisPerformanceTrend)

	export, err := Denormalize(findings, nil, core.FormatCSV, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, export.Rows, "one row per metric")

	// The export reads back through the normalizer without loss of the
	// identifying columns.
	res, err := NormalizeCSV(strings.NewReader(string(export.Data)), Schema{
		Mapping:  map[string]string{"request_id": FieldStudentID, "analyzed_at": FieldTimestamp},
		Required: []string{FieldStudentID, FieldTimestamp},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "req-1", res.Records[0].StudentID)
}

func TestDenormalizeTSV(t *testing.T) {
	findings := testutil.Findings("req-1", core.AnalysisComprehensive)

	export, err := Denormalize(findings, nil, core.FormatTSV, 0)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(export.Data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "request_id\tanalysis_type")
}

func TestDenormalizeJSONIncludesReport(t *testing.T) {
	findings := testutil.Findings("req-1", core.AnalysisComprehensive)
	report := &core.ReportResult{ReportID: "rep-1", Type: core.ReportClass, Content: "# Report"}

	export, err := Denormalize(findings, report, core.FormatJSON, 0)
	require.NoError(t, err)
	assert.Contains(t, string(export.Data), `"report_id": "rep-1"`)
	assert.Contains(t, string(export.Data), `"metrics"`)
}

func TestDenormalizeMarkdown(t *testing.T) {
	findings := testutil.Findings("req-1", core.AnalysisComprehensive)
	report := &core.ReportResult{ReportID: "rep-1", Type: core.ReportClass, Content: "# Class Report"}

	export, err := Denormalize(findings, report, core.FormatMarkdown, 0)
	require.NoError(t, err)
	text := string(export.Data)
	assert.True(t, strings.HasPrefix(text, "# Class Report"))
	assert.Contains(t, text, "## Exported Metrics")
	assert.Contains(t, text, "average_score")
}

func TestDenormalizeRowCeiling(t *testing.T) {
	findings := testutil.Findings("req-1", core.AnalysisComprehensive) // 2 metric rows

	export, err := Denormalize(findings, nil, core.FormatCSV, 1)
	require.Error(t, err)
	assert.Equal(t, core.KindExportTooLarge, core.KindOf(err))
	assert.Empty(t, export.Data, "an oversized export produces no bytes")

	_, err = Denormalize(findings, nil, core.FormatCSV, 2)
	assert.NoError(t, err, "ceiling is inclusive")
}

func TestDenormalizeUnknownFormat(t *testing.T) {
	_, err := Denormalize(testutil.Findings("req-1", core.AnalysisComprehensive), nil, "xml", 0)
	require.Error(t, err)
	assert.Equal(t, core.KindSchemaMismatch, core.KindOf(err))
}
