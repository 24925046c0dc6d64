package store

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cwbudde/swarmcal/internal/fit"
)

// History table column names.
const (
	ColumnTrial      = "trial"
	ColumnGeneration = "generation"
	ColumnSlot       = "slot"
	ColumnErrorTotal = "error_total"
	PrefixParam      = "p_"
	PrefixValue      = "value_"
	PrefixComponent  = "error_cpt_"
	PrefixTestValue  = "test_value_"
)

// WriteHistory rewrites the whole history table at path. Columns are
// trial, generation, slot, p_1..p_D, value_<name>..., error_total, then the
// sorted union of error_cpt_* and test_value_* names. names may be nil, in
// which case no value_ columns are written.
func WriteHistory(path string, names []string, records []fit.TrialRecord) error {
	var buf bytes.Buffer
	if err := EncodeHistory(&buf, names, records); err != nil {
		return err
	}
	return WriteFileAtomic(path, buf.Bytes())
}

// EncodeHistory writes the history table to w.
func EncodeHistory(w io.Writer, names []string, records []fit.TrialRecord) error {
	dim := 0
	if len(records) > 0 {
		dim = len(records[0].X)
	}
	if names != nil && len(names) != dim && len(records) > 0 {
		return fmt.Errorf("history has %d parameter names for dimension %d", len(names), dim)
	}
	components := unionKeys(records, func(r fit.TrialRecord) map[string]float64 { return r.Result.Components })
	testValues := unionKeys(records, func(r fit.TrialRecord) map[string]float64 { return r.Result.TestValues })

	header := []string{ColumnTrial, ColumnGeneration, ColumnSlot}
	for j := 1; j <= dim; j++ {
		header = append(header, PrefixParam+strconv.Itoa(j))
	}
	for _, n := range names {
		header = append(header, PrefixValue+n)
	}
	header = append(header, ColumnErrorTotal)
	for _, k := range components {
		header = append(header, PrefixComponent+k)
	}
	for _, k := range testValues {
		header = append(header, PrefixTestValue+k)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write history header: %w", err)
	}
	for _, rec := range records {
		row := []string{strconv.Itoa(rec.Index), strconv.Itoa(rec.Generation), strconv.Itoa(rec.Slot)}
		for _, p := range rec.X {
			row = append(row, formatFloat(p))
		}
		if names != nil {
			for j := range names {
				v := ""
				if j < len(rec.Values) {
					v = formatFloat(rec.Values[j])
				}
				row = append(row, v)
			}
		}
		row = append(row, formatFloat(rec.Error()))
		row = appendOptional(row, components, rec.Result.Components)
		row = appendOptional(row, testValues, rec.Result.TestValues)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write history row %d: %w", rec.Index, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadHistory loads a history table written by WriteHistory.
func ReadHistory(path string) ([]fit.TrialRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{}
		}
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	defer f.Close()
	return DecodeHistory(f)
}

// DecodeHistory parses a history table. Empty cells are treated as absent.
func DecodeHistory(r io.Reader) ([]fit.TrialRecord, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("history is empty")
	}
	header := rows[0]

	var records []fit.TrialRecord
	for line, row := range rows[1:] {
		rec := fit.TrialRecord{
			Result: fit.Result{
				Components: map[string]float64{},
				TestValues: map[string]float64{},
			},
		}
		for i, name := range header {
			cell := row[i]
			if cell == "" {
				continue
			}
			if err := setHistoryField(&rec, name, cell); err != nil {
				return nil, fmt.Errorf("history line %d: %w", line+2, err)
			}
		}
		rec.Result.CandidateID = rec.Slot
		records = append(records, rec)
	}
	return records, nil
}

func setHistoryField(rec *fit.TrialRecord, name, cell string) error {
	switch name {
	case ColumnTrial, ColumnGeneration, ColumnSlot:
		n, err := strconv.Atoi(cell)
		if err != nil {
			return fmt.Errorf("column %s: %w", name, err)
		}
		switch name {
		case ColumnTrial:
			rec.Index = n
		case ColumnGeneration:
			rec.Generation = n
		default:
			rec.Slot = n
		}
		return nil
	}

	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return fmt.Errorf("column %s: %w", name, err)
	}
	switch {
	case name == ColumnErrorTotal:
		rec.Result.Error = v
	case strings.HasPrefix(name, PrefixParam):
		rec.X = append(rec.X, v)
	case strings.HasPrefix(name, PrefixValue):
		rec.Values = append(rec.Values, v)
	case strings.HasPrefix(name, PrefixComponent):
		rec.Result.Components[strings.TrimPrefix(name, PrefixComponent)] = v
	case strings.HasPrefix(name, PrefixTestValue):
		rec.Result.TestValues[strings.TrimPrefix(name, PrefixTestValue)] = v
	}
	return nil
}

func unionKeys(records []fit.TrialRecord, get func(fit.TrialRecord) map[string]float64) []string {
	seen := map[string]bool{}
	for _, r := range records {
		for k := range get(r) {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendOptional(row []string, keys []string, values map[string]float64) []string {
	for _, k := range keys {
		if v, ok := values[k]; ok {
			row = append(row, formatFloat(v))
		} else {
			row = append(row, "")
		}
	}
	return row
}

// formatFloat writes the shortest representation that parses back to the
// same value; failed trials come out as +Inf.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
