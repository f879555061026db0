package fisher

import (
	"fmt"
	"math"
)

// Graph is the read-only view the calculator needs
type Graph interface {
	Weight(source, target string) (float64, error)
	OutDegree(node string) float64
	InDegree(node string) float64
	TotalWeight() float64
}

// Table is the 2x2 contingency table [[A, B], [C, D]] of one edge:
//
//	A = d_ij  weight(source->target)
//	B = d_i_  out_degree(source) - d_ij
//	C = d_j_  in_degree(target) - d_ij
//	D = d__   S - out_degree(source) - in_degree(target) + d_ij
type Table struct {
	A, B, C, D float64
}

// Sum is the total of the four cells; it equals S
func (t Table) Sum() float64 {
	return t.A + t.B + t.C + t.D
}

// Cells returns the table in row-major order
func (t Table) Cells() [2][2]float64 {
	return [2][2]float64{{t.A, t.B}, {t.C, t.D}}
}

// Counts rounds the cells to integers for the exact test
func (t Table) Counts() (a, b, c, d int64) {
	return int64(math.Round(t.A)), int64(math.Round(t.B)), int64(math.Round(t.C)), int64(math.Round(t.D))
}

// Margins are the weighted degrees the table is derived from
type Margins struct {
	Out   float64 // out_degree(source)
	In    float64 // in_degree(target)
	Total float64 // S
}

// negTolerance absorbs float cancellation in B, C and D.
const negTolerance = 1e-9

// maxCount is 2^63; a rounded cell at or above it does not fit an int64.
const maxCount = float64(1 << 63)

// NewTable builds the contingency table for source->target
func NewTable(g Graph, source, target string) (Table, Margins, error) {
	dij, err := g.Weight(source, target)
	if err != nil {
		return Table{}, Margins{}, err
	}
	m := Margins{
		Out:   g.OutDegree(source),
		In:    g.InDegree(target),
		Total: g.TotalWeight(),
	}
	t := Table{
		A: dij,
		B: m.Out - dij,
		C: m.In - dij,
		D: m.Total - m.Out - m.In + dij,
	}

	slack := negTolerance * math.Max(1, m.Total)
	for _, cell := range []*float64{&t.B, &t.C, &t.D} {
		if *cell < 0 {
			if *cell < -slack {
				return Table{}, Margins{}, fmt.Errorf("%w: %s->%s cells %v", ErrInconsistentDegrees, source, target, t.Cells())
			}
			*cell = 0
		}
	}
	for _, cell := range [4]float64{t.A, t.B, t.C, t.D} {
		if math.Round(cell) >= maxCount {
			return Table{}, Margins{}, fmt.Errorf("%w: %s->%s cell %g exceeds the int64 range", ErrInconsistentDegrees, source, target, cell)
		}
	}
	return t, m, nil
}

// Phi returns the phi coefficient of the edge. ok is false when a factor
// under the square root is zero.
func Phi(t Table, m Margins) (phi float64, ok bool) {
	den := m.Out * m.In * (m.Total - m.Out) * (m.Total - m.In)
	if !(den > 0) {
		return math.NaN(), false
	}
	phi = (t.A*m.Total - m.In*m.Out) / math.Sqrt(den)
	return math.Max(-1, math.Min(1, phi)), true
}
