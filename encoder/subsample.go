package encoder

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
)

// subsample halves the first n rows of x in time. Drop keeps frames 0, 2, 4,
// ...; concat joins frames (0,1), (2,3), ... and pairs an odd trailing frame
// with zeros. Both yield ceil(n/2) rows.
func subsample(x *mat.Dense, n int, typ SubsampleType) (*mat.Dense, int) {
	m := (n + 1) / 2
	dim := mathutil.Cols(x)
	switch typ {
	case SubsampleConcat:
		out := mathutil.NewDense(m, 2*dim)
		for t := 0; t < m; t++ {
			row := out.RawRowView(t)
			copy(row[:dim], x.RawRowView(2*t))
			if 2*t+1 < n {
				copy(row[dim:], x.RawRowView(2*t+1))
			}
		}
		return out, m
	default:
		out := mathutil.NewDense(m, dim)
		for t := 0; t < m; t++ {
			copy(out.RawRowView(t), x.RawRowView(2*t))
		}
		return out, m
	}
}
