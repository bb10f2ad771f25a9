package decoder

import (
	"fmt"

	"github.com/ieee0824/asr-seq2seq/language"
)

// Config holds beam search parameters.
type Config struct {
	BeamWidth         int     // hypotheses kept per step and returned
	MinLen            int     // EOS is masked until this many tokens were emitted
	MaxLen            int     // hypotheses are finished at this length; 0 uses the memory length
	LengthPenalty     float64 // added once per emitted token
	CoveragePenalty   float64 // weight of the attention coverage term
	CoverageThreshold float64 // per-position cap on accumulated attention; 0 means 1
	LMWeight          float64 // shallow fusion weight, 0 disables the LM
	LM                language.Scorer
}

// DefaultConfig returns reasonable default parameters.
func DefaultConfig() Config {
	return Config{
		BeamWidth: 4,
		MinLen:    1,
	}
}

// ConfigError reports an invalid decoder configuration or mode.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("decoder: invalid %s: %s", e.Field, e.Reason)
}

func (c *Config) validate() error {
	switch {
	case c.BeamWidth <= 0:
		return &ConfigError{"beam_width", "must be positive"}
	case c.MinLen < 0:
		return &ConfigError{"min_decode_len", "must not be negative"}
	case c.MaxLen < 0:
		return &ConfigError{"max_decode_len", "must not be negative"}
	case c.MaxLen > 0 && c.MinLen > c.MaxLen:
		return &ConfigError{"min_decode_len", fmt.Sprintf("%d exceeds max_decode_len %d", c.MinLen, c.MaxLen)}
	case c.CoverageThreshold < 0:
		return &ConfigError{"coverage_threshold", "must not be negative"}
	case c.LMWeight < 0:
		return &ConfigError{"lm_weight", "must not be negative"}
	case c.LMWeight > 0 && c.LM == nil:
		return &ConfigError{"lm_weight", "set without a language model"}
	}
	return nil
}

func (c *Config) fusion() bool { return c.LMWeight > 0 && c.LM != nil }

// maxLen resolves the length cap for a memory of n rows.
func (c *Config) maxLen(n int) int {
	if c.MaxLen > 0 {
		return c.MaxLen
	}
	return max(n, c.MinLen, 1)
}
