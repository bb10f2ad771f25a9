package feature

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ApplyCMVN normalises each feature dimension of an utterance to zero mean
// and, when variance is set, unit variance. Dimensions with zero variance are
// only mean-normalised.
func ApplyCMVN(features *mat.Dense, variance bool) {
	T, dim := features.Dims()
	if T == 0 {
		return
	}
	col := make([]float64, T)
	for d := range dim {
		mat.Col(col, d, features)
		mean, std := stat.MeanStdDev(col, nil)
		scale := 1.0
		if variance && T > 1 && std > 0 {
			scale = 1 / std
		}
		for t := range T {
			features.Set(t, d, (col[t]-mean)*scale)
		}
	}
}
