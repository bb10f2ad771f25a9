package encoder

import "sort"

// Permutation records the order in which utterances were encoded:
// perm[i] is the original batch index of the i-th encoded utterance.
type Permutation []int

// Identity returns the permutation that keeps n items in place.
func Identity(n int) Permutation {
	p := make(Permutation, n)
	for i := range p {
		p[i] = i
	}
	return p
}

// sortByLength returns the stable descending-length order of lens.
func sortByLength(lens []int) Permutation {
	p := Identity(len(lens))
	sort.SliceStable(p, func(a, b int) bool { return lens[p[a]] > lens[p[b]] })
	return p
}

// Invert returns q such that q[p[i]] == i.
func (p Permutation) Invert() Permutation {
	q := make(Permutation, len(p))
	for i, j := range p {
		q[j] = i
	}
	return q
}

// IsIdentity reports whether p leaves every index in place.
func (p Permutation) IsIdentity() bool {
	for i, j := range p {
		if i != j {
			return false
		}
	}
	return true
}

// Apply reorders xs from batch order into encoded order: out[i] = xs[p[i]].
func Apply[T any](p Permutation, xs []T) []T {
	out := make([]T, len(p))
	for i, j := range p {
		out[i] = xs[j]
	}
	return out
}

// Restore reorders ys from encoded order back into batch order.
func Restore[T any](p Permutation, ys []T) []T {
	out := make([]T, len(p))
	for i, j := range p {
		out[j] = ys[i]
	}
	return out
}
