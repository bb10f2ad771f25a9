package decoder

// Task selects which decoder a single-task search runs.
type Task int

const (
	// MainTask decodes the primary vocabulary over the primary encoding.
	MainTask Task = iota
	// SubTask decodes the secondary vocabulary over the secondary encoding.
	SubTask
)

func (t Task) String() string {
	if t == SubTask {
		return "sub"
	}
	return "main"
}

// Mode is a decoding mode: SingleTask, Nested or Joint.
type Mode interface {
	Name() string
	mode()
}

// SingleTask runs one beam search over one vocabulary.
type SingleTask struct {
	Task   Task
	Search Config
}

// Nested decodes characters first and then words attending over the
// character decoder's hidden states.
type Nested struct {
	Primary   Config // word search
	Secondary Config // character search, unused under teacher forcing
	// TeacherForcing, when non-nil, holds the reference character labels in
	// encoded order; they replace the character search.
	TeacherForcing [][]int
}

// Joint scores every word extension together with its spelling under the
// character decoder.
type Joint struct {
	Search     Config
	SubWeight  float64 // weight of the character log-probability
	SpaceIndex int     // character index of the word separator
	OOVIndex   int     // word index of the unknown-word token
	Lexicon    Lexicon
}

// Lexicon maps word indices to character indices and back.
type Lexicon interface {
	Spell(word int) ([]int, bool)
	Lookup(chars []int) (int, bool)
}

func (SingleTask) Name() string { return "single" }
func (Nested) Name() string     { return "nested" }
func (Joint) Name() string      { return "joint" }

func (SingleTask) mode() {}
func (Nested) mode()     {}
func (Joint) mode()      {}
