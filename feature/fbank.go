// Package feature turns 16 kHz PCM samples into log-mel filterbank features
// with optional delta and double-delta blocks.
package feature

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrTooShort is returned when the audio holds less than one frame.
var ErrTooShort = errors.New("feature: audio too short for a single frame")

// Config holds all filterbank extraction parameters.
type Config struct {
	SampleRate     int
	FrameLenMs     float64 // frame length in milliseconds
	FrameShiftMs   float64 // frame shift in milliseconds
	PreEmphCoeff   float64
	NumMelFilters  int // input_freq
	LowFreq        float64
	HighFreq       float64 // 0 means Nyquist
	FFTSize        int
	DeltaWindow    int
	UseDelta       bool
	UseDoubleDelta bool
	UseCMVN        bool // per-utterance mean and variance normalisation
}

// DefaultConfig returns a 40-channel filterbank with deltas at 16 kHz.
func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		FrameLenMs:     25.0,
		FrameShiftMs:   10.0,
		PreEmphCoeff:   0.97,
		NumMelFilters:  40,
		LowFreq:        0,
		HighFreq:       8000,
		FFTSize:        512,
		DeltaWindow:    2,
		UseDelta:       true,
		UseDoubleDelta: true,
		UseCMVN:        true,
	}
}

// Dim returns the total feature vector dimension.
func (c Config) Dim() int {
	d := c.NumMelFilters
	if c.UseDelta {
		d += c.NumMelFilters
	}
	if c.UseDoubleDelta {
		d += c.NumMelFilters
	}
	return d
}

func (c Config) frameSizes() (frameLen, frameShift int) {
	frameLen = int(c.FrameLenMs * float64(c.SampleRate) / 1000.0)
	frameShift = int(c.FrameShiftMs * float64(c.SampleRate) / 1000.0)
	return frameLen, frameShift
}

// Validate reports parameters that would make extraction meaningless.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", c.SampleRate))
	}
	if c.NumMelFilters <= 0 {
		errs = append(errs, fmt.Errorf("mel filters %d must be positive", c.NumMelFilters))
	}
	frameLen, frameShift := c.frameSizes()
	if frameLen <= 0 || frameShift <= 0 {
		errs = append(errs, fmt.Errorf("frame length %gms / shift %gms too small", c.FrameLenMs, c.FrameShiftMs))
	}
	if c.FFTSize < frameLen {
		errs = append(errs, fmt.Errorf("fft size %d shorter than frame length %d", c.FFTSize, frameLen))
	}
	if c.FFTSize&(c.FFTSize-1) != 0 {
		errs = append(errs, fmt.Errorf("fft size %d is not a power of two", c.FFTSize))
	}
	return errors.Join(errs...)
}

// Extract computes filterbank features from raw audio samples. The result
// has one row per frame and Dim() columns.
func Extract(samples []float64, cfg Config) (*mat.Dense, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("feature: %w", err)
	}
	if len(samples) == 0 {
		return nil, errors.New("feature: empty samples")
	}
	frameLen, frameShift := cfg.frameSizes()

	emphasized := PreEmphasize(samples, cfg.PreEmphCoeff)
	frames := Frame(emphasized, frameLen, frameShift)
	if len(frames) == 0 {
		return nil, ErrTooShort
	}

	melFB := NewMelFilterbank(cfg.NumMelFilters, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq)
	spec := newSpectrum(cfg.FFTSize, HammingWindow(frameLen))
	power := make([]float64, cfg.FFTSize/2+1)

	fbank := mat.NewDense(len(frames), cfg.NumMelFilters, nil)
	for i, frame := range frames {
		spec.power(frame, power)
		melFB.applyInto(power, fbank.RawRowView(i))
	}

	if cfg.UseCMVN {
		ApplyCMVN(fbank, true)
	}
	return AppendDeltas(fbank, cfg.DeltaWindow, cfg.UseDelta, cfg.UseDoubleDelta), nil
}
