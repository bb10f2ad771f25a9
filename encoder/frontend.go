package encoder

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/internal/blas"
	"github.com/ieee0824/asr-seq2seq/internal/nn"
)

// FrontEnd transforms input frames before the recurrent layers. The set of
// implementations is closed: *ConvFrontEnd and *SpliceFrontEnd.
type FrontEnd interface {
	validate(inputSize int) error
	outputSize(inputSize int) int
	build(inputSize int) frontLayer
}

type frontLayer interface {
	init(rng *rand.Rand)
	// forward maps the first n rows of x to a new unpadded matrix and its length.
	forward(dev *blas.Device, x *mat.Dense, n int) (*mat.Dense, int)
	outLength(n int) int
}

// Activation of the convolutional blocks.
type Activation string

const (
	ReLU     Activation = "relu"
	PReLU    Activation = "prelu"
	HardTanh Activation = "hard_tanh"
)

// ConvFrontEnd is a stack of 2-D convolution blocks over time x frequency.
// Input frames are laid out channel-major: InChannels blocks of
// InputSize/InChannels frequency bins (e.g. static, delta, double delta).
type ConvFrontEnd struct {
	InChannels  int      // default 1
	Channels    []int    // output channels per block
	KernelSizes [][2]int // (time, freq) per block
	Strides     [][2]int // (time, freq) per block
	Poolings    [][2]int // optional max pooling (time, freq) per block, zero entries disable
	Activation  Activation
	BatchNorm   bool
}

func (c *ConvFrontEnd) inChannels() int {
	if c.InChannels <= 0 {
		return 1
	}
	return c.InChannels
}

func (c *ConvFrontEnd) validate(inputSize int) error {
	if len(c.Channels) == 0 {
		return &ConfigError{"conv_channels", "must not be empty"}
	}
	if len(c.KernelSizes) != len(c.Channels) || len(c.Strides) != len(c.Channels) {
		return &ConfigError{"conv_kernel_sizes", "conv_channels, conv_kernel_sizes and conv_strides must have the same length"}
	}
	if len(c.Poolings) > 0 && len(c.Poolings) != len(c.Channels) {
		return &ConfigError{"poolings", "must be empty or match conv_channels"}
	}
	if inputSize%c.inChannels() != 0 {
		return &ConfigError{"input_size", fmt.Sprintf("%d is not divisible by %d input channels", inputSize, c.inChannels())}
	}
	switch c.Activation {
	case "", ReLU, PReLU, HardTanh:
	default:
		return &ConfigError{"activation", fmt.Sprintf("must be relu, prelu or hard_tanh, got %q", c.Activation)}
	}
	for i := range c.Channels {
		if c.Channels[i] <= 0 {
			return &ConfigError{"conv_channels", "must be positive"}
		}
		k, s := c.KernelSizes[i], c.Strides[i]
		if k[0] <= 0 || k[1] <= 0 || s[0] <= 0 || s[1] <= 0 {
			return &ConfigError{"conv_kernel_sizes", fmt.Sprintf("block %d has a non-positive kernel or stride", i)}
		}
	}
	if c.outputSize(inputSize) <= 0 {
		return &ConfigError{"conv_kernel_sizes", "frequency axis vanishes"}
	}
	return nil
}

// convOut is the output extent of a padded convolution followed by pooling.
func convOut(n, kernel, stride, pool int) int {
	if n <= 0 {
		return 0
	}
	n = (n+2*(kernel/2)-kernel)/stride + 1
	if pool > 1 {
		n /= pool
	}
	return n
}

func (c *ConvFrontEnd) pool(i int) [2]int {
	if len(c.Poolings) == 0 {
		return [2]int{1, 1}
	}
	p := c.Poolings[i]
	if p[0] <= 0 {
		p[0] = 1
	}
	if p[1] <= 0 {
		p[1] = 1
	}
	return p
}

func (c *ConvFrontEnd) outputSize(inputSize int) int {
	freq := inputSize / c.inChannels()
	for i := range c.Channels {
		freq = convOut(freq, c.KernelSizes[i][1], c.Strides[i][1], c.pool(i)[1])
	}
	return freq * c.Channels[len(c.Channels)-1]
}

func (c *ConvFrontEnd) build(inputSize int) frontLayer {
	cin := c.inChannels()
	freq := inputSize / cin
	stack := &convStack{cfg: c}
	for i, cout := range c.Channels {
		k := c.KernelSizes[i]
		b := &convBlock{
			cin: cin, cout: cout, freq: freq,
			kernel: k, stride: c.Strides[i], pool: c.pool(i),
			act:    c.Activation,
			filter: nn.NewLinear(cin*k[0]*k[1], cout),
		}
		if c.BatchNorm {
			b.bn = nn.NewBatchNorm(cout)
		}
		if c.Activation == PReLU {
			b.slope = make([]float64, cout)
		}
		stack.blocks = append(stack.blocks, b)
		cin = cout
		freq = convOut(freq, k[1], c.Strides[i][1], b.pool[1])
	}
	return stack
}

type convStack struct {
	cfg    *ConvFrontEnd
	blocks []*convBlock
}

type convBlock struct {
	cin, cout, freq int
	kernel, stride  [2]int
	pool            [2]int
	act             Activation
	filter          *nn.Linear // [cout × cin·kt·kf]
	bn              *nn.BatchNorm
	slope           []float64 // PReLU negative slope per channel
}

func (s *convStack) init(rng *rand.Rand) {
	for _, b := range s.blocks {
		nn.HeInit(rng, b.filter.W.RawMatrix().Data, b.filter.In)
		for i := range b.slope {
			b.slope[i] = 0.25
		}
	}
}

func (s *convStack) outLength(n int) int {
	for _, b := range s.blocks {
		n = convOut(n, b.kernel[0], b.stride[0], b.pool[0])
	}
	return n
}

func (s *convStack) forward(dev *blas.Device, x *mat.Dense, n int) (*mat.Dense, int) {
	// feature map [channel][time][freq]
	cin := s.blocks[0].cin
	freq := s.blocks[0].freq
	fm := make([][][]float64, cin)
	for c := range fm {
		fm[c] = make([][]float64, n)
		for t := 0; t < n; t++ {
			fm[c][t] = x.RawRowView(t)[c*freq : (c+1)*freq]
		}
	}
	for _, b := range s.blocks {
		fm = b.apply(dev, fm)
	}
	cout := len(fm)
	steps := len(fm[0])
	if steps == 0 {
		return &mat.Dense{}, 0
	}
	fout := len(fm[0][0])
	out := mat.NewDense(steps, cout*fout, nil)
	for c := 0; c < cout; c++ {
		for t := 0; t < steps; t++ {
			copy(out.RawRowView(t)[c*fout:(c+1)*fout], fm[c][t])
		}
	}
	return out, steps
}

// apply runs convolution (as an im2col product), batch norm, activation and pooling.
func (b *convBlock) apply(dev *blas.Device, in [][][]float64) [][][]float64 {
	steps, freq := len(in[0]), b.freq
	if steps == 0 {
		return emptyMap(b.cout)
	}
	kt, kf := b.kernel[0], b.kernel[1]
	pt, pf := kt/2, kf/2
	ot := (steps+2*pt-kt)/b.stride[0] + 1
	of := (freq+2*pf-kf)/b.stride[1] + 1
	if ot <= 0 || of <= 0 {
		return emptyMap(b.cout)
	}

	cols := mat.NewDense(ot*of, b.filter.In, nil)
	for t := 0; t < ot; t++ {
		for f := 0; f < of; f++ {
			row := cols.RawRowView(t*of + f)
			k := 0
			for c := 0; c < b.cin; c++ {
				for dt := 0; dt < kt; dt++ {
					st := t*b.stride[0] - pt + dt
					for df := 0; df < kf; df++ {
						sf := f*b.stride[1] - pf + df
						if st >= 0 && st < steps && sf >= 0 && sf < freq {
							row[k] = in[c][st][sf]
						}
						k++
					}
				}
			}
		}
	}
	z := b.filter.Forward(dev, cols) // [ot·of × cout]

	out := make([][][]float64, b.cout)
	for c := range out {
		out[c] = make([][]float64, ot)
		for t := 0; t < ot; t++ {
			out[c][t] = make([]float64, of)
			for f := 0; f < of; f++ {
				v := z.At(t*of+f, c)
				if b.bn != nil {
					v = b.bn.Apply(c, v)
				}
				out[c][t][f] = b.activate(c, v)
			}
		}
	}
	return maxPool(out, b.pool)
}

func (b *convBlock) activate(c int, v float64) float64 {
	switch b.act {
	case PReLU:
		if v < 0 {
			return b.slope[c] * v
		}
		return v
	case HardTanh:
		if v < -1 {
			return -1
		}
		if v > 1 {
			return 1
		}
		return v
	default:
		if v < 0 {
			return 0
		}
		return v
	}
}

func maxPool(in [][][]float64, p [2]int) [][][]float64 {
	if p[0] <= 1 && p[1] <= 1 {
		return in
	}
	steps, freq := len(in[0])/p[0], 0
	if len(in[0]) > 0 {
		freq = len(in[0][0]) / p[1]
	}
	if steps == 0 || freq == 0 {
		return emptyMap(len(in))
	}
	out := make([][][]float64, len(in))
	for c := range in {
		out[c] = make([][]float64, steps)
		for t := 0; t < steps; t++ {
			out[c][t] = make([]float64, freq)
			for f := 0; f < freq; f++ {
				m := in[c][t*p[0]][f*p[1]]
				for dt := 0; dt < p[0]; dt++ {
					for df := 0; df < p[1]; df++ {
						m = max(m, in[c][t*p[0]+dt][f*p[1]+df])
					}
				}
				out[c][t][f] = m
			}
		}
	}
	return out
}

func emptyMap(channels int) [][][]float64 {
	return make([][][]float64, channels)
}

// SpliceFrontEnd splices each frame with its neighbours (edge frames
// replicated) and then stacks NumStack consecutive spliced frames into one.
type SpliceFrontEnd struct {
	Splice   int // total frames in the splice window, odd, default 1
	NumStack int // frames stacked per output frame, default 1
}

func (s *SpliceFrontEnd) splice() int   { return max(s.Splice, 1) }
func (s *SpliceFrontEnd) numStack() int { return max(s.NumStack, 1) }

func (s *SpliceFrontEnd) validate(int) error {
	if s.Splice < 0 || (s.Splice > 0 && s.Splice%2 == 0) {
		return &ConfigError{"splice", fmt.Sprintf("must be a positive odd frame count, got %d", s.Splice)}
	}
	if s.NumStack < 0 {
		return &ConfigError{"num_stack", "must not be negative"}
	}
	return nil
}

func (s *SpliceFrontEnd) outputSize(inputSize int) int {
	return inputSize * s.splice() * s.numStack()
}

func (s *SpliceFrontEnd) build(int) frontLayer { return s }

func (s *SpliceFrontEnd) init(*rand.Rand) {}

func (s *SpliceFrontEnd) outLength(n int) int {
	k := s.numStack()
	return (n + k - 1) / k
}

func (s *SpliceFrontEnd) forward(_ *blas.Device, x *mat.Dense, n int) (*mat.Dense, int) {
	_, dim := x.Dims()
	win := s.splice()
	ctx := win / 2

	spliced := mat.NewDense(n, dim*win, nil)
	for t := 0; t < n; t++ {
		row := spliced.RawRowView(t)
		for w := 0; w < win; w++ {
			src := min(max(t-ctx+w, 0), n-1)
			copy(row[w*dim:(w+1)*dim], x.RawRowView(src))
		}
	}

	k := s.numStack()
	if k == 1 {
		return spliced, n
	}
	m := s.outLength(n)
	width := dim * win
	out := mat.NewDense(m, width*k, nil)
	for t := 0; t < m; t++ {
		row := out.RawRowView(t)
		for j := 0; j < k; j++ {
			src := min(t*k+j, n-1)
			copy(row[j*width:(j+1)*width], spliced.RawRowView(src))
		}
	}
	return out, m
}
