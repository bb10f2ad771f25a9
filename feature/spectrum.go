package feature

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// spectrum computes power spectra of fixed-size frames. It keeps its FFT
// plan and buffers between calls and is not safe for concurrent use.
type spectrum struct {
	fft    *fourier.FFT
	size   int
	window []float64
	buf    []float64
	coeffs []complex128
}

func newSpectrum(fftSize int, window []float64) *spectrum {
	return &spectrum{
		fft:    fourier.NewFFT(fftSize),
		size:   fftSize,
		window: window,
		buf:    make([]float64, fftSize),
		coeffs: make([]complex128, fftSize/2+1),
	}
}

// power writes |FFT(frame*window)|^2 / N into dst, which must hold
// fftSize/2+1 bins. The frame is truncated or zero-padded to fftSize.
func (s *spectrum) power(frame, dst []float64) {
	n := min(len(frame), s.size)
	for i := range n {
		v := frame[i]
		if s.window != nil && i < len(s.window) {
			v *= s.window[i]
		}
		s.buf[i] = v
	}
	clear(s.buf[n:])

	s.coeffs = s.fft.Coefficients(s.coeffs, s.buf)
	fn := float64(s.size)
	for i, c := range s.coeffs {
		r, im := real(c), imag(c)
		dst[i] = (r*r + im*im) / fn
	}
}

// PowerSpectrum computes |FFT(x)|^2 / N for a real-valued frame.
// The frame is zero-padded to fftSize.
// Returns the first fftSize/2+1 bins (positive frequencies).
func PowerSpectrum(frame []float64, fftSize int) []float64 {
	out := make([]float64, fftSize/2+1)
	newSpectrum(fftSize, nil).power(frame, out)
	return out
}
