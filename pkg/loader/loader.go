// Package loader reads the weighted edge table that feeds a run.
//
// The table is delimited text with a header row. Columns are found by
// name, so a leading index column or any other extra column is ignored.
// The weight column defaults to "counts" and falls back to "count" then
// "weight" when the configured one is absent.
package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gilchrisn/edge-significance/pkg/models"
)

// ErrInputFormat is the sentinel behind every InputFormatError.
var ErrInputFormat = errors.New("loader: invalid edge table")

const (
	ColSource = "source"
	ColTarget = "target"

	DefaultWeightColumn = "counts"
)

var weightFallbacks = []string{"counts", "count", "weight"}

// InputFormatError locates a problem in the edge table. Line is 1-based and
// counts the header; Column is empty when the whole row is at fault.
type InputFormatError struct {
	Line   int
	Column string
	Reason string
}

func (e *InputFormatError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("edge table line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("edge table line %d column %q: %s", e.Line, e.Column, e.Reason)
}

func (e *InputFormatError) Unwrap() error { return ErrInputFormat }

// Options controls how the table is parsed
type Options struct {
	WeightColumn string
	// Delimiter is the field separator; 0 picks tab for .tsv/.tab files
	// and comma otherwise.
	Delimiter rune
}

func DefaultOptions() Options {
	return Options{WeightColumn: DefaultWeightColumn}
}

// Load opens path and reads its edges
func Load(path string, opts Options) ([]models.Edge, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open edge table: %w", err)
	}
	defer f.Close()

	if opts.Delimiter == 0 {
		opts.Delimiter = delimiterFor(path)
	}
	return Read(f, opts)
}

func delimiterFor(path string) rune {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab":
		return '\t'
	}
	return ','
}

type columns struct {
	source, target, weight int
	weightName             string
}

// Read parses an edge table from r. Rows keep their file order; a repeated
// (source, target) pair is returned as is and later rows win when the graph
// is built.
func Read(r io.Reader, opts Options) ([]models.Edge, error) {
	cr := csv.NewReader(r)
	cr.Comma = ','
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &InputFormatError{Line: 1, Reason: "empty file, expected a header row"}
	}
	if err != nil {
		return nil, csvError(err)
	}
	cols, err := findColumns(header, opts.WeightColumn)
	if err != nil {
		return nil, err
	}
	cr.FieldsPerRecord = len(header)

	var edges []models.Edge
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}
		line, _ := cr.FieldPos(0)

		e := models.Edge{
			Source: strings.TrimSpace(rec[cols.source]),
			Target: strings.TrimSpace(rec[cols.target]),
		}
		if e.Source == "" {
			return nil, &InputFormatError{Line: line, Column: ColSource, Reason: "empty node id"}
		}
		if e.Target == "" {
			return nil, &InputFormatError{Line: line, Column: ColTarget, Reason: "empty node id"}
		}
		if e.Source == e.Target {
			return nil, &InputFormatError{Line: line, Reason: fmt.Sprintf("self loop on %q", e.Source)}
		}

		raw := strings.TrimSpace(rec[cols.weight])
		w, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &InputFormatError{Line: line, Column: cols.weightName, Reason: fmt.Sprintf("weight %q is not a number", raw)}
		}
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, &InputFormatError{Line: line, Column: cols.weightName, Reason: fmt.Sprintf("weight %q must be finite and non-negative", raw)}
		}
		e.Weight = w
		edges = append(edges, e)
	}
	return edges, nil
}

func findColumns(header []string, weight string) (columns, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	cols := columns{source: -1, target: -1, weight: -1}
	var ok bool
	if cols.source, ok = index[ColSource]; !ok {
		return cols, &InputFormatError{Line: 1, Column: ColSource, Reason: "required column missing"}
	}
	if cols.target, ok = index[ColTarget]; !ok {
		return cols, &InputFormatError{Line: 1, Column: ColTarget, Reason: "required column missing"}
	}

	candidates := weightFallbacks
	if weight != "" {
		candidates = append([]string{strings.ToLower(weight)}, weightFallbacks...)
	}
	for _, name := range candidates {
		if i, ok := index[name]; ok {
			cols.weight, cols.weightName = i, name
			return cols, nil
		}
	}
	want := weight
	if want == "" {
		want = DefaultWeightColumn
	}
	return cols, &InputFormatError{Line: 1, Column: want,
		Reason: "weight column missing (also tried " + strings.Join(weightFallbacks, ", ") + ")"}
}

func csvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &InputFormatError{Line: pe.Line, Reason: pe.Err.Error()}
	}
	return fmt.Errorf("read edge table: %w", err)
}
