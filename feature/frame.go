package feature

import "math"

// PreEmphasize applies a first-order high-pass filter: y[n] = x[n] - alpha*x[n-1].
func PreEmphasize(samples []float64, alpha float64) []float64 {
	out := make([]float64, len(samples))
	if len(samples) == 0 {
		return out
	}
	out[0] = samples[0]
	for i := 1; i < len(samples); i++ {
		out[i] = samples[i] - alpha*samples[i-1]
	}
	return out
}

// Frame splits samples into overlapping frames.
// frameLen and frameShift are in number of samples.
func Frame(samples []float64, frameLen, frameShift int) [][]float64 {
	n := len(samples)
	if frameLen <= 0 || frameShift <= 0 || n < frameLen {
		return nil
	}
	numFrames := 1 + (n-frameLen)/frameShift
	frames := make([][]float64, numFrames)
	buf := make([]float64, numFrames*frameLen)
	for i := range numFrames {
		start := i * frameShift
		frame := buf[i*frameLen : (i+1)*frameLen]
		copy(frame, samples[start:start+frameLen])
		frames[i] = frame
	}
	return frames
}

// HammingWindow returns Hamming window coefficients of length n.
func HammingWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}
