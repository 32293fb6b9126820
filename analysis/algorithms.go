package analysis

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/eduinsight/eduinsight/core"
)

// sessionGap is the idle interval that splits one behavioral trace into two
// study sessions.
const sessionGap = 30 * time.Minute

// guessThreshold is the answer time below which a wrong choice counts toward
// the guessing indicator.
const guessThreshold = 5 * time.Second

// outcome is the raw result of one algorithm before it is wrapped into a
// core.Finding by the agent.
type outcome struct {
	Metrics    map[string]float64
	Narratives []string
	Confidence float64
}

// run dispatches to the algorithm registered for the analysis type. The
// record slice is already scoped and guaranteed non-empty by the caller.
func run(t core.AnalysisType, records []core.Record) (outcome, error) {
	switch t {
	case core.AnalysisStudentBehavior:
		return analyzeStudentBehavior(records), nil
	case core.AnalysisPerformanceTrend:
		return analyzePerformanceTrend(records), nil
	case core.AnalysisKnowledgeMastery:
		return analyzeKnowledgeMastery(records), nil
	case core.AnalysisChoicePattern:
		return analyzeChoicePattern(records), nil
	case core.AnalysisComprehensive:
		return analyzeComprehensive(records), nil
	default:
		return outcome{}, core.NewError(core.KindAlgorithm, "analysis.run", fmt.Sprintf("unknown analysis type %q", t))
	}
}

// analyzeStudentBehavior profiles behavioral log traces: operation volume,
// session structure and the hour-of-day activity peak.
func analyzeStudentBehavior(records []core.Record) outcome {
	logs := recordsOfKind(records, core.RecordLog)

	metrics := map[string]float64{
		"total_operations": float64(len(logs)),
		"unique_students":  float64(countStudents(logs)),
	}
	if len(logs) == 0 {
		metrics["engagement_score"] = 0
		return outcome{Metrics: metrics, Confidence: 0.1}
	}

	byStudent := groupByStudent(logs)
	metrics["operations_per_student"] = float64(len(logs)) / float64(len(byStudent))

	var sessionCount int
	var sessionTotal time.Duration
	hours := make([]int, 24)
	for _, rs := range byStudent {
		sort.Slice(rs, func(i, j int) bool { return rs[i].Timestamp.Before(rs[j].Timestamp) })
		start := rs[0].Timestamp
		last := rs[0].Timestamp
		for _, r := range rs {
			hours[r.Timestamp.Hour()]++
			if r.Timestamp.Sub(last) > sessionGap {
				sessionCount++
				sessionTotal += last.Sub(start)
				start = r.Timestamp
			}
			last = r.Timestamp
		}
		sessionCount++
		sessionTotal += last.Sub(start)
	}
	metrics["session_count"] = float64(sessionCount)
	metrics["avg_session_minutes"] = sessionTotal.Minutes() / float64(sessionCount)

	peak := 0
	for h, n := range hours {
		if n > hours[peak] {
			peak = h
		}
	}
	metrics["peak_hour"] = float64(peak)

	// Engagement blends volume per student with session length, capped at 1.
	engagement := math.Min(1, metrics["operations_per_student"]/50) * 0.6
	engagement += math.Min(1, metrics["avg_session_minutes"]/45) * 0.4
	metrics["engagement_score"] = round2(engagement)

	notes := []string{
		fmt.Sprintf("%d operations across %d students, activity peaks at %02d:00", len(logs), len(byStudent), peak),
	}
	return outcome{Metrics: metrics, Narratives: notes, Confidence: confidenceFor(len(logs))}
}

// analyzePerformanceTrend fits score progression over time: learning velocity
// is the least-squares slope of the normalized score series.
func analyzePerformanceTrend(records []core.Record) outcome {
	scores := recordsOfKind(records, core.RecordScore)
	metrics := map[string]float64{"score_count": float64(len(scores))}
	if len(scores) == 0 {
		return outcome{Metrics: metrics, Confidence: 0.1}
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Timestamp.Before(scores[j].Timestamp) })
	series := make([]float64, len(scores))
	for i, r := range scores {
		series[i] = normalizedScore(r)
	}

	avg := mean(series)
	metrics["average_score"] = round2(avg)
	metrics["learning_velocity"] = round4(slope(series))
	metrics["improvement"] = round2(series[len(series)-1] - series[0])
	metrics["consistency"] = round2(math.Max(0, 1-stddev(series, avg)))

	var trend string
	switch {
	case metrics["learning_velocity"] > 0.005:
		trend = "improving"
	case metrics["learning_velocity"] < -0.005:
		trend = "declining"
	default:
		trend = "stable"
	}
	notes := []string{fmt.Sprintf("performance is %s with an average normalized score of %.2f", trend, avg)}
	return outcome{Metrics: metrics, Narratives: notes, Confidence: confidenceFor(len(scores))}
}

// analyzeKnowledgeMastery computes per-knowledge-point correctness fractions
// and flags weak and strong points.
func analyzeKnowledgeMastery(records []core.Record) outcome {
	type tally struct{ correct, total int }
	points := make(map[string]*tally)
	for _, r := range records {
		if r.KnowledgePoint == "" {
			continue
		}
		t, ok := points[r.KnowledgePoint]
		if !ok {
			t = &tally{}
			points[r.KnowledgePoint] = t
		}
		switch r.Kind {
		case core.RecordChoice:
			t.total++
			if r.Correct {
				t.correct++
			}
		case core.RecordScore:
			t.total++
			if normalizedScore(r) >= 0.6 {
				t.correct++
			}
		}
	}

	metrics := map[string]float64{"knowledge_points": float64(len(points))}
	if len(points) == 0 {
		return outcome{Metrics: metrics, Confidence: 0.1}
	}

	var sum float64
	var weak, strong []string
	sampled := 0
	for kp, t := range points {
		if t.total == 0 {
			continue
		}
		mastery := float64(t.correct) / float64(t.total)
		metrics["mastery."+kp] = round2(mastery)
		sum += mastery
		sampled += t.total
		if mastery < 0.6 {
			weak = append(weak, kp)
		} else if mastery >= 0.85 {
			strong = append(strong, kp)
		}
	}
	sort.Strings(weak)
	sort.Strings(strong)
	metrics["overall_mastery"] = round2(sum / float64(len(points)))
	metrics["weak_points"] = float64(len(weak))
	metrics["strong_points"] = float64(len(strong))

	var notes []string
	if len(weak) > 0 {
		notes = append(notes, fmt.Sprintf("knowledge points below mastery threshold: %v", weak))
	}
	if len(strong) > 0 {
		notes = append(notes, fmt.Sprintf("well mastered knowledge points: %v", strong))
	}
	return outcome{Metrics: metrics, Narratives: notes, Confidence: confidenceFor(sampled)}
}

// analyzeChoicePattern examines multiple-choice answering behavior: option
// preference, correctness, response timing and a guessing indicator (fast
// wrong answers).
func analyzeChoicePattern(records []core.Record) outcome {
	choices := recordsOfKind(records, core.RecordChoice)
	metrics := map[string]float64{"choice_count": float64(len(choices))}
	if len(choices) == 0 {
		return outcome{Metrics: metrics, Confidence: 0.1}
	}

	options := make(map[string]int)
	var correct, guesses int
	var totalTime time.Duration
	for _, r := range choices {
		if r.Selected != "" {
			options[r.Selected]++
		}
		if r.Correct {
			correct++
		} else if r.Duration > 0 && r.Duration < guessThreshold {
			guesses++
		}
		totalTime += r.Duration
	}
	for opt, n := range options {
		metrics["preference."+opt] = round2(float64(n) / float64(len(choices)))
	}
	metrics["correct_rate"] = round2(float64(correct) / float64(len(choices)))
	metrics["guessing_score"] = round2(float64(guesses) / float64(len(choices)))
	metrics["avg_response_seconds"] = round2(totalTime.Seconds() / float64(len(choices)))

	notes := []string{
		fmt.Sprintf("%.0f%% of %d answers correct, guessing indicator %.2f",
			metrics["correct_rate"]*100, len(choices), metrics["guessing_score"]),
	}
	return outcome{Metrics: metrics, Narratives: notes, Confidence: confidenceFor(len(choices))}
}

// analyzeComprehensive runs every specific algorithm and merges the results.
// Metric keys do not collide across algorithms, so a plain union suffices;
// confidence is the mean of the parts.
func analyzeComprehensive(records []core.Record) outcome {
	parts := []outcome{
		analyzeStudentBehavior(records),
		analyzePerformanceTrend(records),
		analyzeKnowledgeMastery(records),
		analyzeChoicePattern(records),
	}
	merged := outcome{Metrics: make(map[string]float64)}
	var confSum float64
	for _, p := range parts {
		for k, v := range p.Metrics {
			merged.Metrics[k] = v
		}
		merged.Narratives = append(merged.Narratives, p.Narratives...)
		confSum += p.Confidence
	}
	merged.Confidence = round2(confSum / float64(len(parts)))
	return merged
}

func recordsOfKind(records []core.Record, kind core.RecordKind) []core.Record {
	out := make([]core.Record, 0, len(records))
	for _, r := range records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func groupByStudent(records []core.Record) map[string][]core.Record {
	out := make(map[string][]core.Record)
	for _, r := range records {
		out[r.StudentID] = append(out[r.StudentID], r)
	}
	return out
}

func countStudents(records []core.Record) int {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[r.StudentID] = struct{}{}
	}
	return len(seen)
}

func normalizedScore(r core.Record) float64 {
	if r.MaxScore <= 0 {
		return r.Score / 100
	}
	return r.Score / r.MaxScore
}

// confidenceFor scales with sample size, saturating at 50 observations.
func confidenceFor(n int) float64 {
	return round2(math.Min(1, float64(n)/50))
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, avg float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - avg
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// slope is the least-squares slope of xs over the index sequence 0..n-1.
func slope(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sumI, sumX, sumIX, sumII float64
	for i, x := range xs {
		fi := float64(i)
		sumI += fi
		sumX += x
		sumIX += fi * x
		sumII += fi * fi
	}
	denom := n*sumII - sumI*sumI
	if denom == 0 {
		return 0
	}
	return (n*sumIX - sumI*sumX) / denom
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }

func round4(x float64) float64 { return math.Round(x*10000) / 10000 }
