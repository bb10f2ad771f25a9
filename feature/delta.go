package feature

import "gonum.org/v1/gonum/mat"

// Delta computes regression coefficients over a window of N frames:
// d[t] = sum_{n=1}^{N} n*(c[t+n] - c[t-n]) / (2 * sum_{n=1}^{N} n^2).
// Frames past either edge repeat the edge frame.
func Delta(features *mat.Dense, N int) *mat.Dense {
	T, dim := features.Dims()
	out := mat.NewDense(T, dim, nil)
	if N <= 0 {
		return out
	}

	denom := 0.0
	for n := 1; n <= N; n++ {
		denom += float64(n * n)
	}
	denom *= 2.0

	for t := range T {
		row := out.RawRowView(t)
		for n := 1; n <= N; n++ {
			next := features.RawRowView(min(t+n, T-1))
			prev := features.RawRowView(max(t-n, 0))
			w := float64(n)
			for d := range dim {
				row[d] += w * (next[d] - prev[d])
			}
		}
		for d := range row {
			row[d] /= denom
		}
	}
	return out
}

// AppendDeltas returns [features | delta | double delta] with the requested
// blocks. Double delta without delta still computes the first-order delta
// internally.
func AppendDeltas(features *mat.Dense, window int, delta, doubleDelta bool) *mat.Dense {
	if !delta && !doubleDelta {
		return features
	}
	T, dim := features.Dims()
	blocks := []*mat.Dense{features}
	d1 := Delta(features, window)
	if delta {
		blocks = append(blocks, d1)
	}
	if doubleDelta {
		blocks = append(blocks, Delta(d1, window))
	}

	out := mat.NewDense(T, dim*len(blocks), nil)
	for t := range T {
		row := out.RawRowView(t)
		for i, b := range blocks {
			copy(row[i*dim:(i+1)*dim], b.RawRowView(t))
		}
	}
	return out
}
