// Package adapter converts between external data formats and the internal
// record model. Normalization maps tabular (CSV/TSV) and hierarchical (JSON)
// payloads into core.Record slices under a field mapping schema; unknown
// fields are preserved as attributes and reported as warnings, while missing
// required fields fail with a schema mismatch. Denormalization renders
// findings and reports into the export formats under a row ceiling.
package adapter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eduinsight/eduinsight/core"
)

// Canonical field names a schema mapping may target. Anything else mapped or
// unmapped lands in Record.Attrs.
const (
	FieldStudentID      = "student_id"
	FieldClass          = "class"
	FieldSubject        = "subject"
	FieldKind           = "kind"
	FieldAction         = "action"
	FieldScore          = "score"
	FieldMaxScore       = "max_score"
	FieldKnowledgePoint = "knowledge_point"
	FieldSelected       = "selected"
	FieldCorrect        = "correct"
	FieldDurationMS     = "duration_ms"
	FieldTimestamp      = "timestamp"
)

var canonicalFields = map[string]struct{}{
	FieldStudentID:      {},
	FieldClass:          {},
	FieldSubject:        {},
	FieldKind:           {},
	FieldAction:         {},
	FieldScore:          {},
	FieldMaxScore:       {},
	FieldKnowledgePoint: {},
	FieldSelected:       {},
	FieldCorrect:        {},
	FieldDurationMS:     {},
	FieldTimestamp:      {},
}

// Schema describes how external field names map onto the record model.
type Schema struct {
	// Mapping translates an external field name to a canonical field.
	// External fields absent from the mapping are matched against the
	// canonical names directly; still-unknown fields become attributes.
	Mapping map[string]string `json:"mapping,omitempty"`
	// Required lists canonical fields every entry must provide a
	// non-empty value for. student_id and timestamp are always required.
	Required []string `json:"required,omitempty"`
	// DefaultKind is assumed when entries carry no kind field.
	DefaultKind core.RecordKind `json:"default_kind,omitempty"`
}

// timestampLayouts are accepted in order. RFC3339 first since that is what
// the export side writes.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// resolve maps an external field name to its canonical target, or "" when it
// is unknown.
func (s Schema) resolve(field string) string {
	if target, ok := s.Mapping[field]; ok {
		if _, canonical := canonicalFields[target]; canonical {
			return target
		}
		return ""
	}
	if _, canonical := canonicalFields[field]; canonical {
		return field
	}
	return ""
}

func (s Schema) required() []string {
	req := []string{FieldStudentID, FieldTimestamp}
	for _, f := range s.Required {
		if f != FieldStudentID && f != FieldTimestamp {
			req = append(req, f)
		}
	}
	return req
}

// buildRecord converts one external entry (field name -> raw string value)
// into a record. Unknown fields go to Attrs and are reported once per field
// by the caller. A missing required field or an unparsable typed value fails
// with a schema mismatch naming the entry index.
func (s Schema) buildRecord(index int, entry map[string]string) (core.Record, []string, error) {
	rec := core.Record{Kind: s.DefaultKind}
	if rec.Kind == "" {
		rec.Kind = core.RecordLog
	}

	var unknown []string
	seen := make(map[string]bool, len(entry))
	for field, raw := range entry {
		target := s.resolve(field)
		if target == "" {
			if rec.Attrs == nil {
				rec.Attrs = make(map[string]string)
			}
			rec.Attrs[field] = raw
			unknown = append(unknown, field)
			continue
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		seen[target] = true
		if err := setField(&rec, target, raw); err != nil {
			return core.Record{}, nil, core.NewError(core.KindSchemaMismatch, "adapter.normalize",
				fmt.Sprintf("entry %d: field %q: %v", index, field, err))
		}
	}

	for _, req := range s.required() {
		if !seen[req] {
			return core.Record{}, nil, core.NewError(core.KindSchemaMismatch, "adapter.normalize",
				fmt.Sprintf("entry %d: missing required field %q", index, req))
		}
	}
	return rec, unknown, nil
}

func setField(rec *core.Record, target, raw string) error {
	switch target {
	case FieldStudentID:
		rec.StudentID = raw
	case FieldClass:
		rec.Class = raw
	case FieldSubject:
		rec.Subject = raw
	case FieldKind:
		switch core.RecordKind(raw) {
		case core.RecordLog, core.RecordScore, core.RecordChoice:
			rec.Kind = core.RecordKind(raw)
		default:
			return fmt.Errorf("unknown record kind %q", raw)
		}
	case FieldAction:
		rec.Action = raw
	case FieldScore:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", raw)
		}
		rec.Score = v
	case FieldMaxScore:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", raw)
		}
		rec.MaxScore = v
	case FieldKnowledgePoint:
		rec.KnowledgePoint = raw
	case FieldSelected:
		rec.Selected = raw
	case FieldCorrect:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("not a boolean: %q", raw)
		}
		rec.Correct = v
	case FieldDurationMS:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("not an integer: %q", raw)
		}
		rec.Duration = time.Duration(v) * time.Millisecond
	case FieldTimestamp:
		ts, err := parseTimestamp(raw)
		if err != nil {
			return err
		}
		rec.Timestamp = ts
	}
	return nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", raw)
}
