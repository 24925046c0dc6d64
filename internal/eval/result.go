package eval

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cwbudde/swarmcal/internal/fit"
)

// Column names and prefixes of the result table contract.
const (
	ColumnErrorTotal      = "error_total"
	PrefixErrorComponent  = "error_cpt_"
	PrefixTestValue       = "test_value_"
	DefaultResultFileName = "results.csv"
)

// ReadResultFile parses a one-row result table. The file must contain an
// error_total column; error_cpt_* and test_value_* columns are optional and
// every other column is ignored.
func ReadResultFile(path string) (fit.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return fit.Result{}, &ResultParseError{Path: path, Reason: err.Error()}
	}
	defer f.Close()

	result, err := ParseResult(f)
	if err != nil {
		return fit.Result{}, &ResultParseError{Path: path, Reason: err.Error()}
	}
	return result, nil
}

// ParseResult reads the header and first data row of a comma or tab
// separated table.
func ParseResult(r io.Reader) (fit.Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return fit.Result{}, err
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.Comma = detectDelimiter(string(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return fit.Result{}, fmt.Errorf("empty table")
	}
	if err != nil {
		return fit.Result{}, fmt.Errorf("read header: %w", err)
	}
	row, err := reader.Read()
	if err == io.EOF {
		return fit.Result{}, fmt.Errorf("no data row")
	}
	if err != nil {
		return fit.Result{}, fmt.Errorf("read row: %w", err)
	}
	if len(row) < len(header) {
		return fit.Result{}, fmt.Errorf("row has %d fields, header has %d", len(row), len(header))
	}

	result := fit.Result{
		Components: make(map[string]float64),
		TestValues: make(map[string]float64),
	}
	haveTotal := false
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name != ColumnErrorTotal && !strings.HasPrefix(name, PrefixErrorComponent) && !strings.HasPrefix(name, PrefixTestValue) {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
		if err != nil {
			return fit.Result{}, fmt.Errorf("column %s: %w", name, err)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fit.Result{}, fmt.Errorf("column %s: non-finite value %q", name, strings.TrimSpace(row[i]))
		}
		switch {
		case name == ColumnErrorTotal:
			result.Error = value
			haveTotal = true
		case strings.HasPrefix(name, PrefixErrorComponent):
			result.Components[strings.TrimPrefix(name, PrefixErrorComponent)] = value
		default:
			result.TestValues[strings.TrimPrefix(name, PrefixTestValue)] = value
		}
	}
	if !haveTotal {
		return fit.Result{}, fmt.Errorf("missing %s column", ColumnErrorTotal)
	}
	return result, nil
}

func detectDelimiter(data string) rune {
	firstLine := data
	if i := strings.IndexByte(data, '\n'); i >= 0 {
		firstLine = data[:i]
	}
	if strings.Contains(firstLine, "\t") && !strings.Contains(firstLine, ",") {
		return '\t'
	}
	return ','
}
