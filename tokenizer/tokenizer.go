package tokenizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Reserved token IDs. These occupy the bottom of the id space and are
// never reassigned.
const (
	PAD  = 0
	UNK  = 1
	BOS  = 2
	EOS  = 3
	MASK = 4
)

// NumSpecialTokens is the number of reserved IDs preceding vocabulary words.
const NumSpecialTokens = 5

// ErrInvalidTokenID is returned by Decode when an id is outside the
// vocabulary's id space.
var ErrInvalidTokenID = errors.New("invalid token id")

var specialTokenStrings = map[string]int{
	"<PAD>":  PAD,
	"<UNK>":  UNK,
	"<BOS>":  BOS,
	"<EOS>":  EOS,
	"<MASK>": MASK,
}

var (
	punctRe      = regexp.MustCompile(`([.,!?;:])`)
	spaceRe      = regexp.MustCompile(`\s+`)
	punctSpaceRe = regexp.MustCompile(` ([.,!?;:])`)
)

// Tokenizer maps text to a bounded integer vocabulary and back. The id
// space is contiguous and append-only: words added after construction
// get fresh ids and existing ids are never renumbered.
type Tokenizer struct {
	maxVocabSize int
	vocab        map[string]int
	invVocab     map[int]string
	wordFreq     map[string]int
}

// New creates a tokenizer holding only the reserved special tokens.
// maxVocabSize bounds how many entries BuildVocab will keep.
func New(maxVocabSize int) *Tokenizer {
	t := &Tokenizer{
		maxVocabSize: maxVocabSize,
		vocab:        make(map[string]int),
		invVocab:     make(map[int]string),
		wordFreq:     make(map[string]int),
	}
	for tok, id := range specialTokenStrings {
		t.vocab[tok] = id
		t.invVocab[id] = tok
	}
	return t
}

// Clone returns an independent copy of the tokenizer. Words added to
// the copy do not affect the original.
func (t *Tokenizer) Clone() *Tokenizer {
	c := &Tokenizer{
		maxVocabSize: t.maxVocabSize,
		vocab:        make(map[string]int, len(t.vocab)),
		invVocab:     make(map[int]string, len(t.invVocab)),
		wordFreq:     make(map[string]int, len(t.wordFreq)),
	}
	for w, id := range t.vocab {
		c.vocab[w] = id
		c.invVocab[id] = w
	}
	for w, n := range t.wordFreq {
		c.wordFreq[w] = n
	}
	return c
}

// Preprocess normalizes text the way the vocabulary was built: lowercase,
// spaces around punctuation, collapsed whitespace.
func Preprocess(text string) string {
	text = strings.ToLower(text)
	text = punctRe.ReplaceAllString(text, " $1 ")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// BuildVocab counts word frequencies across the corpus and keeps the
// maxVocabSize - NumSpecialTokens most frequent words, assigning ids in
// descending-frequency order after the reserved ids. Ties break
// alphabetically so repeated builds over the same corpus are identical.
func (t *Tokenizer) BuildVocab(corpus []string) {
	for _, text := range corpus {
		for _, word := range strings.Fields(Preprocess(text)) {
			t.wordFreq[word]++
		}
	}

	type wordCount struct {
		word  string
		count int
	}
	counts := make([]wordCount, 0, len(t.wordFreq))
	for w, c := range t.wordFreq {
		counts = append(counts, wordCount{w, c})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].word < counts[j].word
	})

	keep := t.maxVocabSize - NumSpecialTokens
	if keep > len(counts) {
		keep = len(counts)
	}
	for _, wc := range counts[:keep] {
		if _, ok := t.vocab[wc.word]; !ok {
			id := len(t.vocab)
			t.vocab[wc.word] = id
			t.invVocab[id] = wc.word
		}
	}
}

// AddWord appends a word to the vocabulary and returns its id. Existing
// words keep their id. Dependent embedding/head tensors must be resized
// separately before continued training.
func (t *Tokenizer) AddWord(word string) int {
	if id, ok := t.vocab[word]; ok {
		return id
	}
	id := len(t.vocab)
	t.vocab[word] = id
	t.invVocab[id] = word
	t.wordFreq[word]++
	return id
}

// Encode converts text to token ids. Known words map directly; an
// unknown word is consumed by greedily matching the longest known prefix
// substring (scanning from the full remaining length down to one
// character) and emitting one UNK per character that matches nothing.
func (t *Tokenizer) Encode(text string, addSpecialTokens bool) []int {
	ids := make([]int, 0, 16)
	if addSpecialTokens {
		ids = append(ids, BOS)
	}
	for _, word := range strings.Fields(Preprocess(text)) {
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, id)
			continue
		}
		ids = append(ids, t.encodeUnknown(word)...)
	}
	if addSpecialTokens {
		ids = append(ids, EOS)
	}
	return ids
}

// encodeUnknown splits an out-of-vocabulary word by longest known
// prefix, scanning candidate prefixes from longest to shortest.
func (t *Tokenizer) encodeUnknown(word string) []int {
	var ids []int
	i := 0
	for i < len(word) {
		found := false
		for j := len(word); j > i; j-- {
			if id, ok := t.vocab[word[i:j]]; ok {
				ids = append(ids, id)
				i = j
				found = true
				break
			}
		}
		if !found {
			ids = append(ids, UNK)
			i++
		}
	}
	return ids
}

// Decode converts token ids back to text, joining with spaces and
// collapsing the space before punctuation that Preprocess inserted.
// An id outside [0, VocabSize) yields ErrInvalidTokenID.
func (t *Tokenizer) Decode(ids []int, skipSpecialTokens bool) (string, error) {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		tok, ok := t.invVocab[id]
		if !ok {
			return "", fmt.Errorf("%w: %d (vocab size %d)", ErrInvalidTokenID, id, len(t.vocab))
		}
		if skipSpecialTokens {
			if _, special := specialTokenStrings[tok]; special {
				continue
			}
		}
		tokens = append(tokens, tok)
	}
	text := strings.Join(tokens, " ")
	return punctSpaceRe.ReplaceAllString(text, "$1"), nil
}

// EncodeBatch encodes several texts, truncating to maxLength and, when
// pad is set, right-padding shorter sequences with PAD.
func (t *Tokenizer) EncodeBatch(texts []string, maxLength int, pad bool) [][]int {
	out := make([][]int, len(texts))
	for i, text := range texts {
		ids := t.Encode(text, true)
		if maxLength > 0 && len(ids) > maxLength {
			ids = ids[:maxLength]
		}
		if pad && maxLength > 0 {
			for len(ids) < maxLength {
				ids = append(ids, PAD)
			}
		}
		out[i] = ids
	}
	return out
}

// AttentionMask returns 1 for real tokens and 0 for PAD positions.
func AttentionMask(ids []int) []int {
	mask := make([]int, len(ids))
	for i, id := range ids {
		if id != PAD {
			mask[i] = 1
		}
	}
	return mask
}

// VocabSize returns the number of assigned ids, specials included.
func (t *Tokenizer) VocabSize() int {
	return len(t.vocab)
}

// TokenToID returns the id for a token, or UNK if unassigned.
func (t *Tokenizer) TokenToID(token string) int {
	if id, ok := t.vocab[token]; ok {
		return id
	}
	return UNK
}

// IDToToken returns the canonical string for an id, or "<UNK>".
func (t *Tokenizer) IDToToken(id int) string {
	if tok, ok := t.invVocab[id]; ok {
		return tok
	}
	return "<UNK>"
}

// vocabFile is the JSON persistence format. Word frequencies travel with
// the mapping so future re-ranking or pruning stays possible.
type vocabFile struct {
	Vocab         map[string]int `json:"vocab"`
	VocabSize     int            `json:"vocab_size"`
	SpecialTokens map[string]int `json:"special_tokens"`
	WordFreq      map[string]int `json:"word_freq"`
}

// Save writes the vocabulary to path as JSON.
func (t *Tokenizer) Save(path string) error {
	data, err := json.MarshalIndent(vocabFile{
		Vocab:         t.vocab,
		VocabSize:     t.maxVocabSize,
		SpecialTokens: specialTokenStrings,
		WordFreq:      t.wordFreq,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal vocabulary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write vocabulary: %w", err)
	}
	return nil
}

// Load reads a vocabulary previously written by Save and rebuilds the
// inverse mapping.
func Load(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	var vf vocabFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
	}
	t := New(vf.VocabSize)
	for word, id := range vf.Vocab {
		t.vocab[word] = id
		t.invVocab[id] = word
	}
	for word, freq := range vf.WordFreq {
		t.wordFreq[word] = freq
	}
	return t, nil
}
