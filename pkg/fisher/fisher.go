// Package fisher computes the per-edge co-occurrence statistics: the phi
// coefficient and a two-sided Fisher's exact test over the 2x2 table built
// from the edge weight and the endpoints' weighted degrees.
package fisher

import (
	"errors"
	"fmt"

	"github.com/gilchrisn/edge-significance/pkg/models"
)

var (
	// ErrDegenerateDegree marks an edge whose phi or odds ratio is undefined.
	ErrDegenerateDegree = errors.New("fisher: degenerate degree")
	// ErrInconsistentDegrees marks a table with a negative cell, which means
	// the degrees and the edge weight do not come from the same graph, or a
	// cell too large to count exactly.
	ErrInconsistentDegrees = errors.New("fisher: inconsistent degrees")
)

// DegenerateError carries the edge and which statistics are undefined
type DegenerateError struct {
	Source string
	Target string
	Flags  models.Degeneracy
	Table  Table
}

func (e *DegenerateError) Error() string {
	return fmt.Sprintf("fisher: degenerate degree for %s->%s (%s undefined, table %v)",
		e.Source, e.Target, e.Flags, e.Table.Cells())
}

func (e *DegenerateError) Unwrap() error {
	return ErrDegenerateDegree
}

// Compute returns the statistics for source->target.
//
// A degenerate edge still yields a fully populated result (undefined values
// are NaN or +Inf and flagged in Degenerate) together with a
// *DegenerateError, so the caller chooses whether to keep, skip or abort.
// Any other error is fatal; a missing edge wraps graph.ErrMissingEdge.
func Compute(g Graph, source, target string) (models.EdgeResult, error) {
	t, m, err := NewTable(g, source, target)
	if err != nil {
		return models.EdgeResult{}, err
	}

	res := models.EdgeResult{Source: source, Target: target}

	phi, ok := Phi(t, m)
	res.Phi = phi
	if !ok {
		res.Degenerate |= models.DegeneratePhi
	}

	res.OddsRatio, res.PValue = ExactTest(t.Counts())
	res.Degenerate |= models.DetectDegeneracy(res.OddsRatio, 0)

	if res.Degenerate != 0 {
		return res, &DegenerateError{Source: source, Target: target, Flags: res.Degenerate, Table: t}
	}
	return res, nil
}
