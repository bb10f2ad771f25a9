package feature

import "math"

// floorEnergy keeps log energies finite for silent frames.
const floorEnergy = 1e-30

// sparseFilter stores only the non-zero range of a triangular filter.
type sparseFilter struct {
	start  int       // first non-zero bin index
	coeffs []float64 // non-zero coefficient values
}

// MelFilterbank represents the triangular Mel-spaced filterbank.
type MelFilterbank struct {
	Filters [][]float64    // [numFilters][fftSize/2+1]
	sparse  []sparseFilter // sparse representation for fast inner loop
}

// NewMelFilterbank constructs the filterbank. A non-positive highFreq means
// the Nyquist frequency.
func NewMelFilterbank(numFilters, fftSize, sampleRate int, lowFreq, highFreq float64) *MelFilterbank {
	if highFreq <= 0 {
		highFreq = float64(sampleRate) / 2
	}
	nBins := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)

	// numFilters+2 equally spaced points on the Mel scale
	step := (highMel - lowMel) / float64(numFilters+1)
	binIndices := make([]int, numFilters+2)
	for i := range binIndices {
		freq := melToHz(lowMel + float64(i)*step)
		binIndices[i] = int(math.Floor(freq * float64(fftSize+1) / float64(sampleRate)))
	}

	filters := make([][]float64, numFilters)
	for i := range numFilters {
		filters[i] = make([]float64, nBins)
		left, center, right := binIndices[i], binIndices[i+1], binIndices[i+2]
		for j := left; j < center && j < nBins; j++ {
			filters[i][j] = float64(j-left) / float64(center-left)
		}
		for j := center; j <= right && j < nBins; j++ {
			if right != center {
				filters[i][j] = float64(right-j) / float64(right-center)
			}
		}
	}

	fb := &MelFilterbank{Filters: filters, sparse: make([]sparseFilter, numFilters)}
	for i, f := range filters {
		start, end := -1, 0
		for j, v := range f {
			if v != 0 {
				if start < 0 {
					start = j
				}
				end = j + 1
			}
		}
		if start >= 0 {
			fb.sparse[i] = sparseFilter{start: start, coeffs: append([]float64(nil), f[start:end]...)}
		}
	}
	return fb
}

// NumFilters returns the number of output channels.
func (fb *MelFilterbank) NumFilters() int { return len(fb.sparse) }

// Apply multiplies the power spectrum through each filter and returns log Mel energies.
func (fb *MelFilterbank) Apply(powerSpec []float64) []float64 {
	energies := make([]float64, len(fb.sparse))
	fb.applyInto(powerSpec, energies)
	return energies
}

// applyInto writes log Mel energies into dst (no allocation).
func (fb *MelFilterbank) applyInto(powerSpec, dst []float64) {
	for i, sf := range fb.sparse {
		sum := 0.0
		end := min(sf.start+len(sf.coeffs), len(powerSpec))
		if sf.start < end {
			for j, p := range powerSpec[sf.start:end] {
				sum += p * sf.coeffs[j]
			}
		}
		dst[i] = math.Log(max(sum, floorEnergy))
	}
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10, mel/2595.0) - 1.0)
}
