package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/internal/testutil"
	"github.com/eduinsight/eduinsight/model"
)

func sourceOf(records []core.Record) RecordSource {
	return RecordSourceFunc(func(ctx context.Context, scope core.SubjectScope) ([]core.Record, error) {
		return records, nil
	})
}

func TestAnalyzeInsufficientData(t *testing.T) {
	a := New("analysis-1", sourceOf(testutil.LogRecords("s1", 3, time.Minute)), nil, nil)

	_, err := a.Analyze(context.Background(), testutil.AnalysisOnlyRequest(core.AnalysisStudentBehavior))
	require.Error(t, err)
	assert.Equal(t, core.KindInsufficientData, core.KindOf(err))
}

func TestAnalyzeUnknownType(t *testing.T) {
	a := New("analysis-1", sourceOf(testutil.MixedRecords("s1")), nil, nil)

	_, err := a.Analyze(context.Background(), testutil.AnalysisOnlyRequest("astrology"))
	require.Error(t, err)
	assert.Equal(t, core.KindAlgorithm, core.KindOf(err))
}

func TestAnalyzeSourceFailure(t *testing.T) {
	failing := RecordSourceFunc(func(ctx context.Context, scope core.SubjectScope) ([]core.Record, error) {
		return nil, errors.New("store offline")
	})
	a := New("analysis-1", failing, nil, nil)

	_, err := a.Analyze(context.Background(), testutil.AnalysisOnlyRequest(core.AnalysisStudentBehavior))
	require.Error(t, err)
	assert.Equal(t, core.KindInternal, core.KindOf(err))
}

func TestStudentBehaviorMetrics(t *testing.T) {
	records := testutil.LogRecords("s1", 30, 5*time.Minute)
	records = append(records, testutil.LogRecords("s2", 10, 2*time.Minute)...)
	a := New("analysis-1", sourceOf(records), nil, nil)

	f, err := a.Analyze(context.Background(), testutil.AnalysisOnlyRequest(core.AnalysisStudentBehavior))
	require.NoError(t, err)

	assert.Equal(t, core.AnalysisStudentBehavior, f.Type)
	assert.Equal(t, 40, f.RecordSpan)
	assert.Equal(t, float64(40), f.Metrics["total_operations"])
	assert.Equal(t, float64(2), f.Metrics["unique_students"])
	assert.Equal(t, float64(20), f.Metrics["operations_per_student"])
	assert.Equal(t, float64(9), f.Metrics["peak_hour"], "records start at 09:00 UTC")
	assert.Greater(t, f.Metrics["engagement_score"], 0.0)
	assert.NotEmpty(t, f.Narratives)
}

func TestPerformanceTrendDetectsImprovement(t *testing.T) {
	records := testutil.ScoreSeries("s1", "math", 50, 55, 58, 62, 66, 70, 74, 78, 81, 85)
	a := New("analysis-1", sourceOf(records), nil, nil)

	f, err := a.Analyze(context.Background(), testutil.AnalysisOnlyRequest(core.AnalysisPerformanceTrend))
	require.NoError(t, err)

	assert.Greater(t, f.Metrics["learning_velocity"], 0.0)
	assert.InDelta(t, 0.35, f.Metrics["improvement"], 0.01)
	assert.Greater(t, f.Metrics["consistency"], 0.5)
	require.NotEmpty(t, f.Narratives)
	assert.Contains(t, f.Narratives[0], "improving")
}

func TestKnowledgeMasteryFlagsWeakPoints(t *testing.T) {
	// algebra is two thirds correct in the fixture, geometry all wrong.
	records := testutil.ChoiceRecords("s1", "algebra", 12)
	records = append(records, wrongChoices("s1", "geometry", 10)...)
	a := New("analysis-1", sourceOf(records), nil, nil)

	f, err := a.Analyze(context.Background(), testutil.AnalysisOnlyRequest(core.AnalysisKnowledgeMastery))
	require.NoError(t, err)

	assert.Equal(t, float64(2), f.Metrics["knowledge_points"])
	assert.Equal(t, 0.0, f.Metrics["mastery.geometry"])
	assert.Greater(t, f.Metrics["mastery.algebra"], 0.5)
	assert.GreaterOrEqual(t, f.Metrics["weak_points"], float64(1))
}

func TestChoicePatternGuessingIndicator(t *testing.T) {
	a := New("analysis-1", sourceOf(testutil.ChoiceRecords("s1", "algebra", 12)), nil, nil)

	f, err := a.Analyze(context.Background(), testutil.AnalysisOnlyRequest(core.AnalysisChoicePattern))
	require.NoError(t, err)

	// One in three answers is a fast wrong answer in the fixture.
	assert.InDelta(t, 0.33, f.Metrics["guessing_score"], 0.02)
	assert.InDelta(t, 0.67, f.Metrics["correct_rate"], 0.02)
	assert.Greater(t, f.Metrics["avg_response_seconds"], 0.0)
	assert.Greater(t, f.Metrics["preference.A"], 0.0)
}

func TestComprehensiveMergesAllAlgorithms(t *testing.T) {
	a := New("analysis-1", sourceOf(testutil.MixedRecords("s1")), nil, nil)

	f, err := a.Analyze(context.Background(), testutil.AnalysisOnlyRequest(core.AnalysisComprehensive))
	require.NoError(t, err)

	assert.Contains(t, f.Metrics, "total_operations")
	assert.Contains(t, f.Metrics, "learning_velocity")
	assert.Contains(t, f.Metrics, "overall_mastery")
	assert.Contains(t, f.Metrics, "guessing_score")
	assert.Greater(t, f.Confidence, 0.0)
}

func TestScopeFilteringAppliesBeforeMinimum(t *testing.T) {
	records := testutil.LogRecords("s1", 30, time.Minute)
	records = append(records, testutil.LogRecords("s2", 30, time.Minute)...)
	a := New("analysis-1", sourceOf(records), nil, nil, func(o *Options) { o.MinRecords = 40 })

	req := testutil.AnalysisOnlyRequest(core.AnalysisStudentBehavior)
	req.Scope = core.SubjectScope{StudentIDs: []string{"s1"}}

	_, err := a.Analyze(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, core.KindInsufficientData, core.KindOf(err))
}

func TestNarrativeEnrichment(t *testing.T) {
	mock := model.NewMockModel("test-model")
	a := New("analysis-1", sourceOf(testutil.MixedRecords("s1")), nil, nil, func(o *Options) {
		o.Model = mock
		o.NarrativeTimeout = time.Second
	})

	f, err := a.Analyze(context.Background(), testutil.AnalysisOnlyRequest(core.AnalysisPerformanceTrend))
	require.NoError(t, err)
	require.NotEmpty(t, f.Narratives)
	assert.Contains(t, f.Narratives[len(f.Narratives)-1], "Mock response")
}

func TestNarrativeTimeoutDegradesSilently(t *testing.T) {
	mock := model.NewMockModel("test-model")
	mock.SetDelay(200 * time.Millisecond)
	a := New("analysis-1", sourceOf(testutil.MixedRecords("s1")), nil, nil, func(o *Options) {
		o.Model = mock
		o.NarrativeTimeout = 10 * time.Millisecond
	})

	f, err := a.Analyze(context.Background(), testutil.AnalysisOnlyRequest(core.AnalysisPerformanceTrend))
	require.NoError(t, err, "a slow model must not fail the analysis")
	for _, n := range f.Narratives {
		assert.NotContains(t, n, "Mock response")
	}
}

func TestHandleRejectsForeignPayload(t *testing.T) {
	a := New("analysis-1", sourceOf(nil), nil, nil)

	_, err := a.Handle(context.Background(), core.Message{Payload: "not a task"})
	require.Error(t, err)
	assert.Equal(t, core.KindRouting, core.KindOf(err))
}

func wrongChoices(studentID, kp string, n int) []core.Record {
	out := make([]core.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, core.Record{
			StudentID:      studentID,
			Kind:           core.RecordChoice,
			KnowledgePoint: kp,
			Selected:       "A",
			Correct:        false,
			Duration:       15 * time.Second,
			Timestamp:      testutil.BaseTime.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}
