package encoder

import (
	"errors"
	"fmt"

	"github.com/ieee0824/asr-seq2seq/internal/nn"
)

// CellType selects the recurrent unit of every layer.
type CellType = nn.CellType

const (
	LSTM = nn.LSTM
	GRU  = nn.GRU
	RNN  = nn.RNN
)

// SubsampleType selects how a subsampling layer halves time.
type SubsampleType string

const (
	// SubsampleDrop keeps even frames.
	SubsampleDrop SubsampleType = "drop"
	// SubsampleConcat concatenates consecutive frame pairs, doubling width.
	SubsampleConcat SubsampleType = "concat"
)

// ResidualMode selects the skip connections between upper layers.
type ResidualMode int

const (
	ResidualNone ResidualMode = iota
	// Residual adds the most recent accumulated output.
	Residual
	// DenseResidual adds every accumulated output.
	DenseResidual
)

func (m ResidualMode) String() string {
	switch m {
	case ResidualNone:
		return "none"
	case Residual:
		return "residual"
	case DenseResidual:
		return "dense_residual"
	}
	return fmt.Sprintf("ResidualMode(%d)", int(m))
}

// ParseResidualMode maps the configuration names to a ResidualMode.
func ParseResidualMode(s string) (ResidualMode, error) {
	switch s {
	case "", "none":
		return ResidualNone, nil
	case "residual":
		return Residual, nil
	case "dense", "dense_residual":
		return DenseResidual, nil
	}
	return ResidualNone, &ConfigError{Field: "residual", Reason: fmt.Sprintf("unknown mode %q", s)}
}

// Config describes an encoder stack. It is validated by New.
type Config struct {
	InputSize          int           // feature dimension of one input frame
	CellType           CellType      // lstm, gru or rnn
	NumUnits           int           // hidden units per direction
	NumProj            int           // projection width between layers, 0 disables
	NumLayers          int           // recurrent layers
	NumLayersSub       int           // layer whose output feeds the sub task, 0 disables
	Bidirectional      bool          // run a backward cell next to the forward one
	MergeBidirectional bool          // sum the two directions instead of concatenating
	DropoutInput       float64       // dropout before the front-end
	Dropout            float64       // dropout after every layer
	SubsampleList      []bool        // per layer, true halves time after that layer
	SubsampleType      SubsampleType // drop or concat
	Residual           ResidualMode  // skip connections above the last subsampled layer
	PackSequence       bool          // sort utterances by descending length
	FrontEnd           FrontEnd      // nil, *ConvFrontEnd or *SpliceFrontEnd
}

// DefaultConfig returns a two-layer bidirectional LSTM over 40-dim features.
func DefaultConfig() Config {
	return Config{
		InputSize:     40,
		CellType:      LSTM,
		NumUnits:      256,
		NumLayers:     2,
		Bidirectional: true,
		SubsampleType: SubsampleDrop,
		PackSequence:  true,
	}
}

// ConfigError reports an invalid encoder configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("encoder: invalid %s: %s", e.Field, e.Reason)
}

// ErrShape is wrapped by Encode when a batch does not match the configuration.
var ErrShape = errors.New("encoder: shape mismatch")

func (c *Config) validate() error {
	switch {
	case c.InputSize <= 0:
		return &ConfigError{"input_size", "must be positive"}
	case c.NumUnits <= 0:
		return &ConfigError{"num_units", "must be positive"}
	case c.NumLayers <= 0:
		return &ConfigError{"num_layers", "must be positive"}
	case c.NumProj < 0:
		return &ConfigError{"num_proj", "must not be negative"}
	case !c.CellType.Valid():
		return &ConfigError{"rnn_type", fmt.Sprintf("must be lstm, gru or rnn, got %q", c.CellType)}
	case len(c.SubsampleList) > 0 && len(c.SubsampleList) != c.NumLayers:
		return &ConfigError{"subsample_list", fmt.Sprintf("has %d entries for %d layers", len(c.SubsampleList), c.NumLayers)}
	case c.NumLayersSub < 0 || c.NumLayersSub > c.NumLayers:
		return &ConfigError{"num_layers_sub", fmt.Sprintf("must be between 0 and %d", c.NumLayers)}
	case c.Dropout < 0 || c.Dropout >= 1:
		return &ConfigError{"dropout", "must be in [0, 1)"}
	case c.DropoutInput < 0 || c.DropoutInput >= 1:
		return &ConfigError{"dropout_input", "must be in [0, 1)"}
	}
	switch c.SubsampleType {
	case "":
		c.SubsampleType = SubsampleDrop
	case SubsampleDrop, SubsampleConcat:
	default:
		return &ConfigError{"subsample_type", fmt.Sprintf("must be drop or concat, got %q", c.SubsampleType)}
	}
	switch c.Residual {
	case ResidualNone, Residual, DenseResidual:
	default:
		return &ConfigError{"residual", c.Residual.String()}
	}
	if c.FrontEnd != nil {
		if err := c.FrontEnd.validate(c.InputSize); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) subsampled(i int) bool {
	return len(c.SubsampleList) > 0 && c.SubsampleList[i]
}

// residualStartLayer is one past the last subsampled layer (1-based), 1 when
// no layer subsamples.
func (c *Config) residualStartLayer() int {
	last := 0
	for i := len(c.SubsampleList) - 1; i >= 0; i-- {
		if c.SubsampleList[i] {
			last = i + 1
			break
		}
	}
	return last + 1
}

func (c *Config) directions() int {
	if c.Bidirectional {
		return 2
	}
	return 1
}

// uniform reports whether the stack can be evaluated as one fused unit.
func (c *Config) uniform() bool {
	for _, s := range c.SubsampleList {
		if s {
			return false
		}
	}
	return c.NumProj == 0 && c.Residual == ResidualNone && c.NumLayersSub == 0
}
