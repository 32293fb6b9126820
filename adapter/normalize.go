package adapter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/eduinsight/eduinsight/core"
	"github.com/eduinsight/eduinsight/metrics"
)

// Result is the output of a normalization pass: the records in input order
// plus one warning per unknown external field.
type Result struct {
	Records  []core.Record `json:"records"`
	Warnings []string      `json:"warnings,omitempty"`
}

// NormalizeCSV reads header-described comma-delimited data. The first row
// names the external fields; every following row becomes one record.
func NormalizeCSV(r io.Reader, schema Schema) (Result, error) {
	return normalizeTabular(r, schema, ',', "csv")
}

// NormalizeTSV reads header-described tab-delimited data.
func NormalizeTSV(r io.Reader, schema Schema) (Result, error) {
	return normalizeTabular(r, schema, '\t', "tsv")
}

func normalizeTabular(r io.Reader, schema Schema, comma rune, format string) (Result, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return Result{}, core.NewError(core.KindSchemaMismatch, "adapter.normalize", "empty input, header row required")
	}
	if err != nil {
		return Result{}, core.WrapError(core.KindSchemaMismatch, "adapter.normalize", err)
	}

	var records []core.Record
	unknownSeen := make(map[string]struct{})
	index := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, core.WrapError(core.KindSchemaMismatch, "adapter.normalize", err)
		}
		if len(row) != len(header) {
			return Result{}, core.NewError(core.KindSchemaMismatch, "adapter.normalize",
				fmt.Sprintf("entry %d: %d values for %d header fields", index, len(row), len(header)))
		}

		entry := make(map[string]string, len(header))
		for i, field := range header {
			entry[field] = row[i]
		}
		rec, unknown, err := schema.buildRecord(index, entry)
		if err != nil {
			return Result{}, err
		}
		for _, f := range unknown {
			unknownSeen[f] = struct{}{}
		}
		records = append(records, rec)
		index++
	}

	metrics.RecordsNormalized.WithLabelValues(format).Add(float64(len(records)))
	return Result{Records: records, Warnings: unknownWarnings(unknownSeen)}, nil
}

// NormalizeJSON reads a JSON array of flat objects. Nested values are
// flattened with a dot separator before mapping, so {"meta":{"device":"x"}}
// contributes the external field "meta.device".
func NormalizeJSON(r io.Reader, schema Schema) (Result, error) {
	var raw []map[string]any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return Result{}, core.WrapError(core.KindSchemaMismatch, "adapter.normalize", err)
	}

	var records []core.Record
	unknownSeen := make(map[string]struct{})
	for i, obj := range raw {
		entry := make(map[string]string, len(obj))
		flatten("", obj, entry)
		rec, unknown, err := schema.buildRecord(i, entry)
		if err != nil {
			return Result{}, err
		}
		for _, f := range unknown {
			unknownSeen[f] = struct{}{}
		}
		records = append(records, rec)
	}

	metrics.RecordsNormalized.WithLabelValues("json").Add(float64(len(records)))
	return Result{Records: records, Warnings: unknownWarnings(unknownSeen)}, nil
}

func flatten(prefix string, obj map[string]any, out map[string]string) {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		case float64:
			out[key] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[key] = strconv.FormatBool(val)
		case nil:
			// dropped, same as an empty cell
		default:
			out[key] = fmt.Sprintf("%v", val)
		}
	}
}

func unknownWarnings(seen map[string]struct{}) []string {
	if len(seen) == 0 {
		return nil
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	warnings := make([]string, len(fields))
	for i, f := range fields {
		warnings[i] = fmt.Sprintf("unknown field %q preserved as attribute", f)
	}
	return warnings
}
