package core

import "time"

// RecordKind distinguishes the activity sources a record can originate from.
type RecordKind string

const (
	// RecordLog is a behavioral trace entry (page view, submit, retry...).
	RecordLog RecordKind = "log"
	// RecordScore is an assessment score entry.
	RecordScore RecordKind = "score"
	// RecordChoice is a single multiple-choice answer with timing.
	RecordChoice RecordKind = "choice"
)

// Record is the internal, normalized representation of one educational
// activity entry. External payloads are mapped into this shape by the format
// adapter layer and never persisted in their raw form beyond that step.
// Fields that do not apply to a given kind are left at their zero value.
type Record struct {
	StudentID      string            `json:"student_id"`
	Class          string            `json:"class,omitempty"`
	Subject        string            `json:"subject,omitempty"`
	Kind           RecordKind        `json:"kind"`
	Action         string            `json:"action,omitempty"`
	Score          float64           `json:"score,omitempty"`
	MaxScore       float64           `json:"max_score,omitempty"`
	KnowledgePoint string            `json:"knowledge_point,omitempty"`
	Selected       string            `json:"selected,omitempty"`
	Correct        bool              `json:"correct,omitempty"`
	Duration       time.Duration     `json:"duration,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Attrs          map[string]string `json:"attrs,omitempty"`
}

// InScope reports whether the record matches the given subject scope.
// Empty scope dimensions match everything.
func (r Record) InScope(s SubjectScope) bool {
	if len(s.StudentIDs) > 0 {
		found := false
		for _, id := range s.StudentIDs {
			if id == r.StudentID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.Class != "" && s.Class != r.Class {
		return false
	}
	if !s.From.IsZero() && r.Timestamp.Before(s.From) {
		return false
	}
	if !s.To.IsZero() && r.Timestamp.After(s.To) {
		return false
	}
	return true
}

// FilterRecords returns the subset of records matching the scope, preserving
// input order.
func FilterRecords(records []Record, s SubjectScope) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.InScope(s) {
			out = append(out, r)
		}
	}
	return out
}
