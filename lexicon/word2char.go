package lexicon

import "strconv"

// Word2Char spells word indices as character indices and maps spelled
// character sequences back to words. It satisfies decoder.Lexicon.
type Word2Char struct {
	spell  map[int][]int
	lookup map[string]int
}

// NewWord2Char precomputes spellings for every word of words whose
// characters all exist in chars. The OOV placeholder is never spelled.
func NewWord2Char(words, chars *Vocabulary) *Word2Char {
	w := &Word2Char{
		spell:  make(map[int][]int, words.Len()),
		lookup: make(map[string]int, words.Len()),
	}
	for i, word := range words.symbols {
		if word == OOV {
			continue
		}
		ids, ok := spellWord(word, chars)
		if !ok {
			continue
		}
		w.spell[i] = ids
		w.lookup[key(ids)] = i
	}
	return w
}

func spellWord(word string, chars *Vocabulary) ([]int, bool) {
	ids := make([]int, 0, len(word))
	for _, r := range word {
		i, ok := chars.Index(string(r))
		if !ok {
			return nil, false
		}
		ids = append(ids, i)
	}
	return ids, len(ids) > 0
}

func key(ids []int) string {
	b := make([]byte, 0, 4*len(ids))
	for _, id := range ids {
		b = strconv.AppendInt(b, int64(id), 10)
		b = append(b, ' ')
	}
	return string(b)
}

// Spell returns the character indices of word.
func (w *Word2Char) Spell(word int) ([]int, bool) {
	ids, ok := w.spell[word]
	return ids, ok
}

// Lookup returns the word spelled by chars.
func (w *Word2Char) Lookup(chars []int) (int, bool) {
	i, ok := w.lookup[key(chars)]
	return i, ok
}

// Len returns the number of spellable words.
func (w *Word2Char) Len() int { return len(w.spell) }
