package mathutil

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// LogZero represents log(0), used as negative infinity in log-domain arithmetic.
const LogZero = -1e30

// LogAdd returns log(exp(a) + exp(b)) in a numerically stable way.
// The smaller term is skipped once it falls below float64 precision (exp(-36) ≈ 2.3e-16).
func LogAdd(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	if b == LogZero {
		return a
	}
	d := b - a
	if d < -36.0 {
		return a
	}
	return a + math.Log1p(math.Exp(d))
}

// LogSoftmax normalises scores in place so that exp(scores) sums to one.
func LogSoftmax(scores []float64) {
	if len(scores) == 0 {
		return
	}
	lse := floats.LogSumExp(scores)
	floats.AddConst(-lse, scores)
}

// Softmax turns scores into a probability distribution in place.
// Temperature values other than 1 sharpen (<1) or flatten (>1) the result.
func Softmax(scores []float64, temperature float64) {
	if len(scores) == 0 {
		return
	}
	if temperature > 0 && temperature != 1 {
		floats.Scale(1/temperature, scores)
	}
	LogSoftmax(scores)
	for i, s := range scores {
		scores[i] = math.Exp(s)
	}
}

// ArgMax returns the index of the largest value, the first one on ties.
// It returns -1 for an empty slice.
func ArgMax(v []float64) int {
	if len(v) == 0 {
		return -1
	}
	return floats.MaxIdx(v)
}

// TopK returns the indices of the k largest values in descending order.
// Ties keep the lower index first so the result is deterministic.
func TopK(v []float64, k int) []int {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return v[idx[a]] > v[idx[b]]
	})
	if k < len(idx) {
		idx = idx[:k]
	}
	return idx
}
