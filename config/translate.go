package config

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/ieee0824/asr-seq2seq/decoder"
	"github.com/ieee0824/asr-seq2seq/encoder"
	"github.com/ieee0824/asr-seq2seq/feature"
	"github.com/ieee0824/asr-seq2seq/internal/blas"
	"github.com/ieee0824/asr-seq2seq/internal/nn"
	"github.com/ieee0824/asr-seq2seq/language"
	"github.com/ieee0824/asr-seq2seq/unk"
)

// FeatureParams returns the filterbank extraction parameters.
func (c *Config) FeatureParams() feature.Config {
	f := feature.DefaultConfig()
	f.SampleRate = c.Features.SampleRate
	f.NumMelFilters = c.Features.InputFreq
	f.HighFreq = 0
	f.UseDelta = c.Features.UseDelta
	f.UseDoubleDelta = c.Features.UseDoubleDelta
	if c.Features.FrameLenMs > 0 {
		f.FrameLenMs = c.Features.FrameLenMs
	}
	if c.Features.FrameShiftMs > 0 {
		f.FrameShiftMs = c.Features.FrameShiftMs
	}
	for f.FFTSize < int(f.FrameLenMs*float64(f.SampleRate)/1000) {
		f.FFTSize *= 2
	}
	if c.Features.CMVN != nil {
		f.UseCMVN = *c.Features.CMVN
	}
	return f
}

// EncoderParams translates the encoder section. The input size defaults to
// the feature dimension.
func (c *Config) EncoderParams() (encoder.Config, error) {
	e := c.Encoder
	res, err := encoder.ParseResidualMode(e.Residual)
	if err != nil {
		return encoder.Config{}, err
	}
	out := encoder.Config{
		InputSize:          e.InputSize,
		CellType:           nn.CellType(e.Type),
		NumUnits:           e.NumUnits,
		NumProj:            e.NumProj,
		NumLayers:          e.NumLayers,
		NumLayersSub:       e.NumLayersSub,
		Bidirectional:      e.Bidirectional,
		MergeBidirectional: e.MergeBidirectional,
		DropoutInput:       e.DropoutInput,
		Dropout:            e.Dropout,
		SubsampleList:      e.SubsampleList,
		SubsampleType:      encoder.SubsampleType(e.SubsampleType),
		Residual:           res,
		PackSequence:       e.PackSequence == nil || *e.PackSequence,
	}
	if out.InputSize == 0 {
		out.InputSize = c.FeatureParams().Dim()
	}
	switch {
	case e.Conv != nil:
		out.FrontEnd = &encoder.ConvFrontEnd{
			InChannels:  e.Conv.InChannels,
			Channels:    e.Conv.Channels,
			KernelSizes: e.Conv.KernelSizes,
			Strides:     e.Conv.Strides,
			Poolings:    e.Conv.Poolings,
			Activation:  encoder.Activation(e.Conv.Activation),
			BatchNorm:   e.Conv.BatchNorm,
		}
	case e.Splice > 1 || e.NumStack > 1:
		out.FrontEnd = &encoder.SpliceFrontEnd{Splice: e.Splice, NumStack: e.NumStack}
	}
	return out, nil
}

// DecoderParams translates a decoder section. numClasses is used when the
// file leaves num_classes unset; memorySize is the width of the encoder
// output the decoder attends over.
func (d *DecoderConfig) DecoderParams(numClasses, memorySize int) decoder.ModelConfig {
	if d.NumClasses > 0 {
		numClasses = d.NumClasses
	}
	return decoder.ModelConfig{
		NumClasses:    numClasses,
		EmbeddingDim:  d.EmbeddingDim,
		CellType:      nn.CellType(d.Type),
		NumUnits:      d.NumUnits,
		MemorySize:    memorySize,
		AttentionType: decoder.AttentionType(d.AttentionType),
		AttentionDim:  d.AttentionDim,
		Temperature:   d.Temperature,
	}
}

// SearchParams translates a search section. The language model is attached
// by the caller.
func (s SearchConfig) SearchParams() decoder.Config {
	return decoder.Config{
		BeamWidth:         s.BeamWidth,
		MinLen:            s.MinDecodeLen,
		MaxLen:            s.MaxDecodeLen,
		LengthPenalty:     s.LengthPenalty,
		CoveragePenalty:   s.CoveragePenalty,
		CoverageThreshold: s.CoverageThreshold,
		LMWeight:          s.LMWeight,
	}
}

// Policy returns the UNK peak policy.
func (u *UNKConfig) Policy() unk.PeakPolicy {
	p := unk.DefaultPolicy()
	p.Window = u.Window
	if u.MaxDistance != 0 {
		p.MaxDistance = u.MaxDistance
	}
	p.TieBreak = tieBreak(u.TieBreak)
	p.FrameRatio = u.FrameRatio
	return p
}

// Open builds the scorer. words maps token indices to the words of an ARPA
// model; the end-of-sequence token is numClasses. Recurrent models get
// seeded weights from rng.
func (l *LMConfig) Open(words []string, numClasses int, dev *blas.Device, rng *rand.Rand) (language.Scorer, error) {
	if l.RNN != nil {
		lm, err := language.NewRNNLM(language.RNNLMConfig{
			NumClasses:   numClasses,
			EmbeddingDim: l.RNN.EmbeddingDim,
			CellType:     nn.CellType(l.RNN.Type),
			NumUnits:     l.RNN.NumUnits,
			NumLayers:    l.RNN.NumLayers,
			Backward:     l.RNN.Backward,
		}, dev)
		if err != nil {
			return nil, err
		}
		lm.Init(rng)
		return lm, nil
	}

	f, err := os.Open(l.ARPA)
	if err != nil {
		return nil, fmt.Errorf("config: open lm: %w", err)
	}
	defer f.Close()
	m, err := language.LoadARPA(f)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", l.ARPA, err)
	}
	return language.NewNGramScorer(m, words, numClasses), nil
}
