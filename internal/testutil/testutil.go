// Package testutil provides builders for the fixtures the package tests
// share: synthetic activity records and requests with sensible defaults.
package testutil

import (
	"fmt"
	"time"

	"github.com/eduinsight/eduinsight/core"
)

// BaseTime is the fixed anchor all generated records count from, keeping
// tests deterministic.
var BaseTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// LogRecords generates n behavioral trace entries for one student, spaced by
// step starting at BaseTime.
func LogRecords(studentID string, n int, step time.Duration) []core.Record {
	actions := []string{"page_view", "submit", "retry", "hint"}
	out := make([]core.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, core.Record{
			StudentID: studentID,
			Class:     "class-a",
			Kind:      core.RecordLog,
			Action:    actions[i%len(actions)],
			Timestamp: BaseTime.Add(time.Duration(i) * step),
		})
	}
	return out
}

// ScoreSeries generates one score record per value, spaced a day apart.
// MaxScore is fixed at 100.
func ScoreSeries(studentID, subject string, scores ...float64) []core.Record {
	out := make([]core.Record, 0, len(scores))
	for i, s := range scores {
		out = append(out, core.Record{
			StudentID: studentID,
			Class:     "class-a",
			Subject:   subject,
			Kind:      core.RecordScore,
			Score:     s,
			MaxScore:  100,
			Timestamp: BaseTime.AddDate(0, 0, i),
		})
	}
	return out
}

// ChoiceRecords generates n multiple-choice answers for one student. Answers
// alternate through the options; every third answer is wrong, and wrong
// answers are given quickly to trip the guessing indicator.
func ChoiceRecords(studentID, knowledgePoint string, n int) []core.Record {
	options := []string{"A", "B", "C", "D"}
	out := make([]core.Record, 0, n)
	for i := 0; i < n; i++ {
		correct := i%3 != 0
		dur := 20 * time.Second
		if !correct {
			dur = 2 * time.Second
		}
		out = append(out, core.Record{
			StudentID:      studentID,
			Class:          "class-a",
			Kind:           core.RecordChoice,
			KnowledgePoint: knowledgePoint,
			Selected:       options[i%len(options)],
			Correct:        correct,
			Duration:       dur,
			Timestamp:      BaseTime.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

// MixedRecords generates a blended data set covering every record kind, large
// enough to clear any default minimum sample size.
func MixedRecords(studentID string) []core.Record {
	records := LogRecords(studentID, 20, 5*time.Minute)
	records = append(records, ScoreSeries(studentID, "math", 60, 65, 70, 68, 75, 80)...)
	records = append(records, ChoiceRecords(studentID, "algebra", 12)...)
	return records
}

// NewRequest builds a full-pipeline request with a unique id.
func NewRequest(t core.AnalysisType) core.Request {
	return core.Request{
		ID:           core.NewID(),
		AnalysisType: t,
		ReportType:   core.ReportIndividual,
		Format:       core.FormatJSON,
		CreatedAt:    time.Now().UTC(),
	}
}

// AnalysisOnlyRequest builds a request that stops after the analysis stage.
func AnalysisOnlyRequest(t core.AnalysisType) core.Request {
	return core.Request{
		ID:           core.NewID(),
		AnalysisType: t,
		CreatedAt:    time.Now().UTC(),
	}
}

// Findings builds a deterministic finding slice for report and export tests.
func Findings(requestID string, types ...core.AnalysisType) []core.Finding {
	out := make([]core.Finding, 0, len(types))
	for i, t := range types {
		out = append(out, core.Finding{
			RequestID: requestID,
			Type:      t,
			Metrics: map[string]float64{
				"average_score":    0.72,
				"engagement_score": 0.61,
			},
			Narratives: []string{fmt.Sprintf("finding %d narrative", i+1)},
			Confidence: 0.8,
			RecordSpan: 40,
			AnalyzedAt: BaseTime,
		})
	}
	return out
}
