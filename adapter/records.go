package adapter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/eduinsight/eduinsight/core"
)

var recordHeader = []string{
	FieldStudentID, FieldClass, FieldSubject, FieldKind, FieldAction,
	FieldScore, FieldMaxScore, FieldKnowledgePoint, FieldSelected,
	FieldCorrect, FieldDurationMS, FieldTimestamp,
}

// EmitRecords serializes a normalized record set into the target format,
// using the canonical field names so the output normalizes back without a
// mapping. The same row ceiling applies as for finding exports.
func EmitRecords(records []core.Record, format core.ExportFormat, maxRows int) (Export, error) {
	if maxRows > 0 && len(records) > maxRows {
		return Export{}, core.NewError(core.KindExportTooLarge, "adapter.emit",
			fmt.Sprintf("%d records exceed the ceiling of %d", len(records), maxRows))
	}

	switch format {
	case core.FormatCSV:
		return emitTabularRecords(records, ',')
	case core.FormatTSV:
		return emitTabularRecords(records, '\t')
	case core.FormatJSON:
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return Export{}, core.WrapError(core.KindInternal, "adapter.emit", err)
		}
		return Export{Data: data, Rows: len(records)}, nil
	default:
		return Export{}, core.NewError(core.KindSchemaMismatch, "adapter.emit",
			fmt.Sprintf("format %q cannot carry raw records", format))
	}
}

func emitTabularRecords(records []core.Record, comma rune) (Export, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = comma

	if err := w.Write(recordHeader); err != nil {
		return Export{}, core.WrapError(core.KindInternal, "adapter.emit", err)
	}
	for _, r := range records {
		row := []string{
			r.StudentID,
			r.Class,
			r.Subject,
			string(r.Kind),
			r.Action,
			formatFloat(r.Score),
			formatFloat(r.MaxScore),
			r.KnowledgePoint,
			r.Selected,
			strconv.FormatBool(r.Correct),
			strconv.FormatInt(r.Duration.Milliseconds(), 10),
			r.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return Export{}, core.WrapError(core.KindInternal, "adapter.emit", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Export{}, core.WrapError(core.KindInternal, "adapter.emit", err)
	}
	return Export{Data: buf.Bytes(), Rows: len(records)}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
