package aimolel

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/Abd196-bit/aimolel/tensor"
	"github.com/Abd196-bit/aimolel/tokenizer"
)

// errorResponse is returned to the user when generation fails mid-way.
const errorResponse = "I apologize, but I ran into a problem while generating a response. Please try again."

// snapshot pairs a model with the tokenizer it was trained against.
// Snapshots are immutable once published.
type snapshot struct {
	model *tensor.Model
	tok   *tokenizer.Tokenizer
}

// InferenceEngine serves chat responses from the current model
// snapshot. The snapshot is swapped atomically when training publishes
// a new model, so in-flight generations keep the weights they started
// with.
type InferenceEngine struct {
	cfg     EngineConfig
	current atomic.Pointer[snapshot]
	history *history
	search  SearchService
	logger  *log.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewInferenceEngine returns an engine with no model loaded. Until a
// snapshot is published the engine answers from the fallback table.
// search may be nil to disable search-augmented prompts.
func NewInferenceEngine(cfg EngineConfig, search SearchService, logger *log.Logger) *InferenceEngine {
	if logger == nil {
		logger = log.Default()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &InferenceEngine{
		cfg:     cfg,
		history: newHistory(cfg.MaxHistory),
		search:  search,
		logger:  logger,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Publish installs a new model/tokenizer pair as the serving snapshot.
func (e *InferenceEngine) Publish(m *tensor.Model, tok *tokenizer.Tokenizer) {
	e.current.Store(&snapshot{model: m, tok: tok})
}

// Snapshot returns the current model and tokenizer, or ErrModelUnavailable
// when nothing has been published yet.
func (e *InferenceEngine) Snapshot() (*tensor.Model, *tokenizer.Tokenizer, error) {
	snap := e.current.Load()
	if snap == nil || snap.model == nil || snap.tok == nil {
		return nil, nil, ErrModelUnavailable
	}
	return snap.model, snap.tok, nil
}

// SetGenerationParams replaces the default sampling parameters.
func (e *InferenceEngine) SetGenerationParams(p GenerationParams) error {
	if err := p.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg.Params = p
	e.mu.Unlock()
	return nil
}

// ClearHistory drops all retained conversation turns.
func (e *InferenceEngine) ClearHistory() {
	e.history.clear()
}

// History returns a copy of the retained conversation turns.
func (e *InferenceEngine) History() []Turn {
	return e.history.snapshot()
}

// ModelInfo describes the serving snapshot.
type ModelInfo struct {
	Loaded     bool
	VocabSize  int
	Parameters int
	Layers     int
	DModel     int
}

// Info reports the current snapshot's shape, or Loaded=false when no
// model is published.
func (e *InferenceEngine) Info() ModelInfo {
	m, tok, err := e.Snapshot()
	if err != nil {
		return ModelInfo{}
	}
	return ModelInfo{
		Loaded:     true,
		VocabSize:  tok.VocabSize(),
		Parameters: m.NumParameters(),
		Layers:     m.Config.NLayers,
		DModel:     m.Config.DModel,
	}
}

// GenerateResponse produces a reply to prompt. extra is optional
// caller-supplied context folded into the prompt; useSearch folds in
// web snippets when a search service is configured. The method never
// returns an error: a missing model falls back to canned responses and
// a failed generation returns an apology string.
func (e *InferenceEngine) GenerateResponse(ctx context.Context, prompt string, useSearch bool, extra string) string {
	m, tok, err := e.Snapshot()
	if err != nil {
		resp := fallbackResponse(prompt)
		e.history.add(prompt, resp)
		return resp
	}

	full := e.buildPrompt(prompt, useSearch, extra)
	// BOS only: an EOS at the end of the prompt would mark the text as
	// finished right where generation is supposed to continue.
	ids := append([]int{tokenizer.BOS}, tok.Encode(full, false)...)

	e.mu.Lock()
	params := e.cfg.Params
	e.mu.Unlock()

	out, err := e.decode(ctx, m, ids, params)
	if err != nil {
		e.logger.Printf("generation failed: %v", err)
		return errorResponse
	}

	text, err := tok.Decode(out, true)
	if err != nil {
		e.logger.Printf("decode failed: %v", err)
		return errorResponse
	}

	resp := postProcess(extractResponse(text))
	if resp == "" {
		resp = fallbackResponse(prompt)
	}
	e.history.add(prompt, resp)
	return resp
}

// BatchGenerate answers prompts in order against whatever snapshot is
// current when each one starts. Cancelled prompts get the error reply.
func (e *InferenceEngine) BatchGenerate(ctx context.Context, prompts []string) []string {
	out := make([]string, len(prompts))
	for i, p := range prompts {
		out[i] = e.GenerateResponse(ctx, p, false, "")
	}
	return out
}

// buildPrompt assembles the full generation prompt: caller context
// first, then search snippets, then recent history, then the turn
// being answered.
func (e *InferenceEngine) buildPrompt(prompt string, useSearch bool, extra string) string {
	var sb strings.Builder

	if extra != "" {
		fmt.Fprintf(&sb, "Context: %s\n\n", extra)
	}
	if useSearch && e.search != nil {
		results, err := e.search.Search(prompt, e.cfg.MaxSearchResults)
		if err != nil {
			e.logger.Printf("search unavailable: %v", err)
		} else if len(results) > 0 {
			sb.WriteString("Search Results:\n")
			for i, r := range results {
				fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, r.Title, r.Snippet)
			}
			sb.WriteString("\n")
		}
	}
	if turns := e.history.snapshot(); len(turns) > 0 {
		sb.WriteString("Previous conversation:\n")
		for _, t := range turns {
			fmt.Fprintf(&sb, "Human: %s\nAssistant: %s\n", t.Prompt, t.Response)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Human: %s\nAssistant:", prompt)
	return sb.String()
}

// decode runs the sampling loop, appending one token per forward pass
// until EOS, the length budget or the model context is exhausted.
func (e *InferenceEngine) decode(ctx context.Context, m *tensor.Model, prompt []int, params GenerationParams) ([]int, error) {
	maxLen := m.Config.MaxLen
	if len(prompt) >= maxLen {
		// Keep the tail of an overlong prompt so the turn being
		// answered stays in context.
		prompt = prompt[len(prompt)-maxLen+1:]
	}

	seq := make([]int, len(prompt))
	copy(seq, prompt)
	// The repetition penalty covers tokens produced by this loop, not
	// the prompt's own vocabulary.
	seen := make(map[int]bool)

	sampling := tensor.SamplingParams{
		Temperature:       params.Temperature,
		TopK:              params.TopK,
		TopP:              params.TopP,
		RepetitionPenalty: params.RepetitionPenalty,
	}

	for step := 0; step < params.MaxLength && len(seq) < maxLen; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logits, err := m.Forward(seq)
		if err != nil {
			return nil, fmt.Errorf("forward pass: %w", err)
		}
		last := make([]float64, logits.Shape[1])
		copy(last, logits.Data[(logits.Shape[0]-1)*logits.Shape[1]:])

		e.mu.Lock()
		next := tensor.SampleToken(last, sampling, seen, e.rng)
		e.mu.Unlock()

		if next == tokenizer.EOS {
			break
		}
		seq = append(seq, next)
		seen[next] = true
	}
	return seq[len(prompt):], nil
}

// extractResponse returns the text after the final "Assistant:" marker,
// or the whole text when the marker never survived decoding. Decoding
// collapses the space before the colon, so the marker is matched in
// its collapsed form.
func extractResponse(text string) string {
	const marker = "assistant:"
	idx := strings.LastIndex(text, marker)
	if idx < 0 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[idx+len(marker):])
}

// postProcess cleans generated text: collapses adjacent repeated
// phrases, capitalizes the first letter and ensures sentence-final
// punctuation.
func postProcess(text string) string {
	words := strings.Fields(text)
	words = stripRepeatedPhrases(words)
	if len(words) == 0 {
		return ""
	}
	out := strings.Join(words, " ")

	runes := []rune(out)
	runes[0] = unicode.ToUpper(runes[0])
	out = string(runes)

	if !strings.HasSuffix(out, ".") && !strings.HasSuffix(out, "!") && !strings.HasSuffix(out, "?") {
		out += "."
	}
	return out
}

// stripRepeatedPhrases removes an immediately repeated word window.
// Windows of two to five words are tried in order and the first match
// is collapsed.
func stripRepeatedPhrases(words []string) []string {
	for size := 2; size <= 5; size++ {
		for i := 0; i+2*size <= len(words); i++ {
			if equalWords(words[i:i+size], words[i+size:i+2*size]) {
				out := append([]string{}, words[:i+size]...)
				return append(out, words[i+2*size:]...)
			}
		}
	}
	return words
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
