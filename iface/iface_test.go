package iface

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduinsight/eduinsight/adapter"
	"github.com/eduinsight/eduinsight/artifact"
	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/internal/testutil"
)

func newTestAgent(optFns ...func(o *Options)) (*Agent, *RecordStore, *artifact.InMemoryStore) {
	store := NewRecordStore()
	artifacts := artifact.NewInMemoryStore()
	return New("interface-1", store, artifacts, nil, nil, optFns...), store, artifacts
}

const importCSV = `student_id,kind,score,max_score,timestamp
s1,score,85,100,2025-03-10T09:00:00Z
s2,score,70,100,2025-03-10T09:30:00Z
`

func TestImportIngestsRecords(t *testing.T) {
	a, store, _ := newTestAgent()

	out, err := a.Import(context.Background(), ImportTask{
		Format: core.FormatCSV,
		Data:   []byte(importCSV),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Ingested)
	assert.Empty(t, out.Warnings)
	assert.Equal(t, 2, store.Len())

	records, err := store.Fetch(context.Background(), core.SubjectScope{StudentIDs: []string{"s1"}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 85.0, records[0].Score)
}

func TestImportSchemaMismatch(t *testing.T) {
	a, store, _ := newTestAgent()

	_, err := a.Import(context.Background(), ImportTask{
		Format: core.FormatCSV,
		Data:   []byte("student_id\ns1\n"),
	})
	require.Error(t, err)
	assert.Equal(t, core.KindSchemaMismatch, core.KindOf(err))
	assert.Equal(t, 0, store.Len(), "a failed import must not partially ingest")
}

func TestImportUnknownFormat(t *testing.T) {
	a, _, _ := newTestAgent()

	_, err := a.Import(context.Background(), ImportTask{Format: "xml", Data: []byte("<r/>")})
	require.Error(t, err)
	assert.Equal(t, core.KindSchemaMismatch, core.KindOf(err))
}

func TestConvertCSVToJSON(t *testing.T) {
	a, _, _ := newTestAgent()

	out, err := a.Convert(context.Background(), ConvertTask{
		Source: core.FormatCSV,
		Target: core.FormatJSON,
		Data:   []byte(importCSV),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Rows)
	assert.Contains(t, string(out.Data), `"student_id": "s1"`)
}

func TestConvertRoundTrip(t *testing.T) {
	a, _, _ := newTestAgent()
	ctx := context.Background()

	toTSV, err := a.Convert(ctx, ConvertTask{Source: core.FormatCSV, Target: core.FormatTSV, Data: []byte(importCSV)})
	require.NoError(t, err)
	back, err := a.Convert(ctx, ConvertTask{Source: core.FormatTSV, Target: core.FormatCSV, Data: toTSV.Data})
	require.NoError(t, err)

	res, err := adapter.NormalizeCSV(strings.NewReader(string(back.Data)), adapter.Schema{})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "s1", res.Records[0].StudentID)
	assert.Equal(t, core.RecordScore, res.Records[0].Kind)
	assert.Equal(t, 85.0, res.Records[0].Score)
}

func TestExportStoresVersionedArtifact(t *testing.T) {
	a, _, artifacts := newTestAgent()
	ctx := context.Background()

	req := testutil.NewRequest(core.AnalysisComprehensive)
	req.Format = core.FormatCSV
	task := core.ExportTask{Request: req, Findings: testutil.Findings(req.ID, core.AnalysisComprehensive)}

	out, err := a.Export(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, "export-"+req.ID, out.Artifact)
	assert.Equal(t, 1, out.Version)
	assert.Equal(t, 2, out.Rows)

	stored, err := artifacts.Get(ctx, out.Artifact, out.Version)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", stored.ContentType)
	assert.Contains(t, string(stored.Data), "request_id,analysis_type")

	// A second export of the same request appends a version.
	out2, err := a.Export(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, 2, out2.Version)
}

func TestExportDegradedReportWarning(t *testing.T) {
	a, _, _ := newTestAgent()

	req := testutil.NewRequest(core.AnalysisComprehensive)
	req.Format = core.FormatMarkdown
	task := core.ExportTask{
		Request:  req,
		Findings: testutil.Findings(req.ID, core.AnalysisComprehensive),
		Report:   &core.ReportResult{ReportID: "rep-1", Type: core.ReportClass, Content: "# Report", Degraded: true},
	}

	out, err := a.Export(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "degraded")
}

func TestExportTooLarge(t *testing.T) {
	a, _, artifacts := newTestAgent(func(o *Options) { o.MaxExportRows = 1 })

	req := testutil.NewRequest(core.AnalysisComprehensive)
	req.Format = core.FormatCSV
	task := core.ExportTask{Request: req, Findings: testutil.Findings(req.ID, core.AnalysisComprehensive)}

	_, err := a.Export(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, core.KindExportTooLarge, core.KindOf(err))

	all, err := artifacts.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all, "an oversized export must not store an artifact")
}

func TestHandleDispatchesByPayload(t *testing.T) {
	a, _, _ := newTestAgent()
	ctx := context.Background()

	payload, err := a.Handle(ctx, core.Message{Payload: ImportTask{Format: core.FormatCSV, Data: []byte(importCSV)}})
	require.NoError(t, err)
	_, ok := payload.(ImportOutcome)
	assert.True(t, ok)

	_, err = a.Handle(ctx, core.Message{Payload: "garbage"})
	require.Error(t, err)
	assert.Equal(t, core.KindRouting, core.KindOf(err))
}
