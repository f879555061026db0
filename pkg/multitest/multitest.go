// Package multitest adjusts p-values for multiple comparisons.
package multitest

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// DefaultAlpha is the family-wise significance level
const DefaultAlpha = 0.05

// ErrInvalidPValue is returned for a p-value outside [0, 1] or NaN.
var ErrInvalidPValue = errors.New("multitest: invalid p-value")

// Result of a Benjamini-Hochberg adjustment, aligned with the input order
type Result struct {
	Adjusted []float64
	Reject   []bool
	Alpha    float64
}

// Rejected counts the hypotheses rejected at Alpha
func (r Result) Rejected() int {
	n := 0
	for _, rej := range r.Reject {
		if rej {
			n++
		}
	}
	return n
}

// BenjaminiHochberg applies the fdr_bh step-up procedure over the whole
// p-value population. Adjusted values are min over j >= i of p_(j)*n/j,
// capped at 1, and returned in input order.
func BenjaminiHochberg(pvalues []float64, alpha float64) (Result, error) {
	n := len(pvalues)
	res := Result{
		Adjusted: make([]float64, n),
		Reject:   make([]bool, n),
		Alpha:    alpha,
	}
	if n == 0 {
		return res, nil
	}
	for i, p := range pvalues {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return Result{}, fmt.Errorf("%w: index %d has %v", ErrInvalidPValue, i, p)
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	// Stable so ties keep input order and the output is deterministic.
	sort.SliceStable(order, func(a, b int) bool {
		return pvalues[order[a]] < pvalues[order[b]]
	})

	scaled := make([]float64, n)
	for rank, idx := range order {
		scaled[rank] = pvalues[idx] * float64(n) / float64(rank+1)
	}

	running := 1.0
	for rank := n - 1; rank >= 0; rank-- {
		running = math.Min(running, scaled[rank])
		res.Adjusted[order[rank]] = running
	}

	for i, adj := range res.Adjusted {
		res.Reject[i] = adj <= alpha
	}
	return res, nil
}

// MinAdjusted returns the smallest adjusted p-value, or 1 for no values
func (r Result) MinAdjusted() float64 {
	if len(r.Adjusted) == 0 {
		return 1
	}
	return floats.Min(r.Adjusted)
}
