package nn

import "math"

const batchNormEps = 1e-5

// BatchNorm holds inference statistics for one normalised feature block.
type BatchNorm struct {
	Gamma       []float64 // scale [Dim]
	Beta        []float64 // shift [Dim]
	RunningMean []float64 // [Dim]
	RunningVar  []float64 // [Dim]
}

// NewBatchNorm returns the identity normalisation for dim features.
func NewBatchNorm(dim int) *BatchNorm {
	bn := &BatchNorm{
		Gamma:       make([]float64, dim),
		Beta:        make([]float64, dim),
		RunningMean: make([]float64, dim),
		RunningVar:  make([]float64, dim),
	}
	for j := 0; j < dim; j++ {
		bn.Gamma[j] = 1
		bn.RunningVar[j] = 1
	}
	return bn
}

// Apply normalises v using the statistics of feature j.
func (bn *BatchNorm) Apply(j int, v float64) float64 {
	invStd := 1.0 / math.Sqrt(bn.RunningVar[j]+batchNormEps)
	return bn.Gamma[j]*(v-bn.RunningMean[j])*invStd + bn.Beta[j]
}
