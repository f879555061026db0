package fisher

import (
	"math"

	"gonum.org/v1/gonum/stat/combin"
)

// relErr is the relative tolerance used to decide whether a table is at
// least as extreme as the observed one.
const relErr = 1e-7

// hypergeom is the distribution of the top-left cell given fixed margins:
// population n, k successes, draws.
type hypergeom struct {
	n, k, draws int64
	lo, hi      int64
	logNorm     float64
}

func newHypergeom(n, k, draws int64) hypergeom {
	h := hypergeom{n: n, k: k, draws: draws}
	h.lo = max(0, draws-(n-k))
	h.hi = min(draws, k)
	h.logNorm = combin.LogGeneralizedBinomial(float64(n), float64(draws))
	return h
}

func (h hypergeom) logPMF(x int64) float64 {
	return combin.LogGeneralizedBinomial(float64(h.k), float64(x)) +
		combin.LogGeneralizedBinomial(float64(h.n-h.k), float64(h.draws-x)) -
		h.logNorm
}

func (h hypergeom) mode() int64 {
	m := int64(float64(h.draws+1) * float64(h.k+1) / float64(h.n+2))
	return max(h.lo, min(h.hi, m))
}

// ExactTest runs a two-sided Fisher's exact test on [[a, b], [c, d]].
// A zero row or column margin yields (NaN, 1). The odds ratio is +Inf
// when b or c is zero.
func ExactTest(a, b, c, d int64) (oddsRatio, pValue float64) {
	if a+b == 0 || c+d == 0 || a+c == 0 || b+d == 0 {
		return math.NaN(), 1
	}
	if b > 0 && c > 0 {
		oddsRatio = float64(a) * float64(d) / (float64(b) * float64(c))
	} else {
		oddsRatio = math.Inf(1)
	}

	h := newHypergeom(a+b+c+d, a+b, a+c)
	thr := h.logPMF(a) + math.Log1p(relErr)
	mode := h.mode()
	if h.logPMF(mode) <= thr {
		return oddsRatio, 1
	}

	extreme := func(x int64) bool { return h.logPMF(x) <= thr }

	var p float64
	// The pmf rises on [lo, mode] and falls on [mode, hi], so the extreme
	// tables form one prefix and one suffix of the support.
	if h.lo < mode && extreme(h.lo) {
		lower := lastTrue(h.lo, mode-1, extreme)
		p += tailSum(h, lower, -1, h.lo)
	}
	if mode < h.hi && extreme(h.hi) {
		upper := firstTrue(mode+1, h.hi, extreme)
		p += tailSum(h, upper, 1, h.hi)
	}
	return oddsRatio, math.Min(p, 1)
}

// lastTrue returns the largest x in [lo, hi] with pred(x), given pred is
// true on a prefix and pred(lo) holds.
func lastTrue(lo, hi int64, pred func(int64) bool) int64 {
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if pred(mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// firstTrue returns the smallest x in [lo, hi] with pred(x), given pred is
// true on a suffix and pred(hi) holds.
func firstTrue(lo, hi int64, pred func(int64) bool) int64 {
	for lo < hi {
		mid := lo + (hi-lo)/2
		if pred(mid) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// tailSum adds pmf(x) from start toward end (step is +1 or -1). Terms
// shrink moving away from the mode, so the walk stops once they underflow
// or no longer change the sum.
func tailSum(h hypergeom, start, step, end int64) float64 {
	var sum float64
	for x := start; ; x += step {
		term := math.Exp(h.logPMF(x))
		if term == 0 || (sum > 0 && term < sum*1e-17) {
			break
		}
		sum += term
		if x == end {
			break
		}
	}
	return sum
}
