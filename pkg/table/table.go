// Package table is the CSV codec for edge tables, chunk tables and the
// final significance table.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/gilchrisn/edge-significance/pkg/models"
)

// ErrMalformed is returned for a table whose header or rows do not decode.
var ErrMalformed = errors.New("table: malformed")

const (
	ColSource    = "source"
	ColTarget    = "target"
	ColOddsRatio = "odds_ratio"
	ColPValue    = "pvalue"
	ColPhi       = "phi_ij"
	ColAdjusted  = "fdr_bh_pvalue_adj"
	ColCounts    = "counts"
)

// ChunkHeader is the column layout of a chunk table
var ChunkHeader = []string{ColSource, ColTarget, ColOddsRatio, ColPValue, ColPhi}

// FinalHeader is the column layout of the final table
var FinalHeader = []string{ColSource, ColTarget, ColOddsRatio, ColPValue, ColPhi, ColAdjusted}

// FormatFloat writes NaN as an empty field and infinities as inf/-inf
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseFloat is the inverse of FormatFloat
func ParseFloat(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// WriteResults encodes a chunk table
func WriteResults(w io.Writer, rows []models.EdgeResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ChunkHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.Source, r.Target, FormatFloat(r.OddsRatio), FormatFloat(r.PValue), FormatFloat(r.Phi)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadResults decodes a chunk table written by WriteResults
func ReadResults(r io.Reader) ([]models.EdgeResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(ChunkHeader)
	if err := readHeader(cr, ChunkHeader); err != nil {
		return nil, err
	}

	var rows []models.EdgeResult
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		res, err := decodeResult(rec, line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, res)
	}
	return rows, nil
}

// WriteFinal encodes the final table
func WriteFinal(w io.Writer, rows []models.FinalRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(FinalHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.Source, r.Target,
			FormatFloat(r.OddsRatio), FormatFloat(r.PValue), FormatFloat(r.Phi),
			FormatFloat(r.AdjustedPValue),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadFinal decodes a table written by WriteFinal
func ReadFinal(r io.Reader) ([]models.FinalRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(FinalHeader)
	if err := readHeader(cr, FinalHeader); err != nil {
		return nil, err
	}

	var rows []models.FinalRow
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		res, err := decodeResult(rec[:len(ChunkHeader)], line)
		if err != nil {
			return nil, err
		}
		adj, err := ParseFloat(rec[len(ChunkHeader)])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d column %s: %v", ErrMalformed, line, ColAdjusted, err)
		}
		rows = append(rows, models.FinalRow{EdgeResult: res, AdjustedPValue: adj})
	}
	return rows, nil
}

// WriteEdges encodes an edge table with columns source,target,counts
func WriteEdges(w io.Writer, edges []models.Edge) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColSource, ColTarget, ColCounts}); err != nil {
		return err
	}
	for _, e := range edges {
		if err := cw.Write([]string{e.Source, e.Target, FormatFloat(e.Weight)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func readHeader(cr *csv.Reader, want []string) error {
	header, err := cr.Read()
	if err == io.EOF {
		return fmt.Errorf("%w: missing header", ErrMalformed)
	}
	if err != nil {
		return fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	for i, col := range want {
		if header[i] != col {
			return fmt.Errorf("%w: column %d is %q, want %q", ErrMalformed, i, header[i], col)
		}
	}
	return nil
}

func decodeResult(rec []string, line int) (models.EdgeResult, error) {
	res := models.EdgeResult{Source: rec[0], Target: rec[1]}
	fields := []struct {
		name string
		dst  *float64
		raw  string
	}{
		{ColOddsRatio, &res.OddsRatio, rec[2]},
		{ColPValue, &res.PValue, rec[3]},
		{ColPhi, &res.Phi, rec[4]},
	}
	for _, f := range fields {
		v, err := ParseFloat(f.raw)
		if err != nil {
			return models.EdgeResult{}, fmt.Errorf("%w: line %d column %s: %v", ErrMalformed, line, f.name, err)
		}
		*f.dst = v
	}
	if math.IsNaN(res.PValue) {
		return models.EdgeResult{}, fmt.Errorf("%w: line %d: empty %s", ErrMalformed, line, ColPValue)
	}
	res.Degenerate = models.DetectDegeneracy(res.OddsRatio, res.Phi)
	return res, nil
}
