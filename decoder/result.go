package decoder

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ieee0824/asr-seq2seq/internal/mathutil"
)

// Hypothesis is one finished decoding result.
type Hypothesis struct {
	Tokens     []int      // emitted tokens, EOS excluded
	Score      float64    // total ranking score
	ModelScore float64    // sum of model log-probabilities, EOS included
	LMScore    float64    // sum of unweighted LM log-probabilities
	Attention  *mat.Dense // [memory length × len(Tokens)]; empty when no token was emitted
	// Sub is the companion character hypothesis of nested and joint
	// decoding, attending over the secondary encoding. Nil otherwise.
	Sub *Hypothesis
}

// Len returns the number of emitted tokens.
func (h *Hypothesis) Len() int { return len(h.Tokens) }

// node is one emitted token in a hypothesis' history, kept as a linked list
// so that branching hypotheses share their prefix.
type node struct {
	token  int
	att    []float64
	hidden []float64
	prev   *node
	length int
}

func (n *node) push(token int, att, hidden []float64) *node {
	length := 1
	if n != nil {
		length = n.length + 1
	}
	return &node{token: token, att: att, hidden: hidden, prev: n, length: length}
}

func (n *node) len() int {
	if n == nil {
		return 0
	}
	return n.length
}

// toSlice unrolls the history oldest first.
func (n *node) toSlice() []*node {
	out := make([]*node, n.len())
	cur := n
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = cur
		cur = cur.prev
	}
	return out
}

func (n *node) tokens() []int {
	nodes := n.toSlice()
	toks := make([]int, len(nodes))
	for i, nd := range nodes {
		toks[i] = nd.token
	}
	return toks
}

// attention stacks the per-token weights as columns of a rows × len matrix.
func (n *node) attention(rows int) *mat.Dense {
	nodes := n.toSlice()
	a := mathutil.NewDense(rows, len(nodes))
	for j, nd := range nodes {
		for i := 0; i < rows && i < len(nd.att); i++ {
			a.Set(i, j, nd.att[i])
		}
	}
	return a
}

// hiddens stacks the per-token decoder outputs as rows.
func (n *node) hiddens() *mat.Dense {
	nodes := n.toSlice()
	if len(nodes) == 0 {
		return &mat.Dense{}
	}
	h := mat.NewDense(len(nodes), len(nodes[0].hidden), nil)
	for i, nd := range nodes {
		copy(h.RawRowView(i), nd.hidden)
	}
	return h
}
