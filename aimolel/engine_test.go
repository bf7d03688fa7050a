package aimolel

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/Abd196-bit/aimolel/tensor"
	"github.com/Abd196-bit/aimolel/tokenizer"
)

func testEngine(t *testing.T, opts ...EngineOption) *InferenceEngine {
	t.Helper()
	cfg, err := NewEngineConfig(append([]EngineOption{WithSeed(1)}, opts...)...)
	if err != nil {
		t.Fatalf("NewEngineConfig: %v", err)
	}
	return NewInferenceEngine(cfg, nil, nil)
}

func publishTestModel(t *testing.T, e *InferenceEngine) {
	t.Helper()
	tok := tokenizer.New(100)
	tok.BuildVocab([]string{
		"hello there how are you today",
		"i am a small model that likes to chat",
		"human : hello assistant : hi",
	})
	config := tensor.NewConfig(tok.VocabSize(),
		tensor.WithDModel(16),
		tensor.WithNHeads(2),
		tensor.WithNLayers(1),
		tensor.WithDFF(32),
		tensor.WithMaxLen(32),
	)
	m, err := tensor.NewModel(config, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	e.Publish(m, tok)
}

func TestGenerateResponseFallsBackWithoutModel(t *testing.T) {
	e := testEngine(t)
	resp := e.GenerateResponse(context.Background(), "hello there", false, "")
	if !strings.Contains(resp, "Hello") {
		t.Errorf("greeting fallback = %q", resp)
	}
	if len(e.History()) != 1 {
		t.Errorf("fallback turn not recorded in history")
	}
}

func TestFallbackRules(t *testing.T) {
	cases := []struct {
		prompt string
		want   string
	}{
		{"hello", "Hello"},
		{"thanks a lot", "welcome"},
		{"can you help me", "learn"},
		{"who are you", "language model"},
		{"what is the weather", "question"},
		{"zzz qqq", "rephrase"},
	}
	for _, c := range cases {
		got := fallbackResponse(c.prompt)
		if !strings.Contains(got, c.want) {
			t.Errorf("fallback(%q) = %q, want substring %q", c.prompt, got, c.want)
		}
	}
}

func TestGenerateResponseWithModel(t *testing.T) {
	e := testEngine(t)
	publishTestModel(t, e)
	resp := e.GenerateResponse(context.Background(), "hello there", false, "")
	if resp == "" || resp == errorResponse {
		t.Errorf("response = %q", resp)
	}
	if len(e.History()) != 1 {
		t.Errorf("turn not recorded")
	}
}

func TestGenerateResponseCancelled(t *testing.T) {
	e := testEngine(t)
	publishTestModel(t, e)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := e.GenerateResponse(ctx, "hello there", false, "")
	if resp != errorResponse {
		t.Errorf("cancelled generation = %q, want the error reply", resp)
	}
}

func TestDecodePromptTokensNotPenalized(t *testing.T) {
	e := testEngine(t)
	publishTestModel(t, e)
	m, tok, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	// Sharpen the logits so a repetition penalty visibly reshapes the
	// distribution wherever it applies.
	for i := range m.Head.Data {
		m.Head.Data[i] *= 40
	}

	// A prompt covering the whole vocabulary: if prompt tokens fed the
	// penalty, every logit would be rescaled before the first draw.
	prompt := make([]int, 0, tok.VocabSize())
	for id := 0; id < tok.VocabSize(); id++ {
		prompt = append(prompt, id)
	}

	params, err := NewGenerationParams(
		WithMaxLength(1),
		WithTemperature(1.0),
		WithTopK(0),
		WithTopP(1.0),
		WithRepetitionPenalty(5.0),
	)
	if err != nil {
		t.Fatalf("NewGenerationParams: %v", err)
	}

	out, err := e.decode(context.Background(), m, prompt, params)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	// The first draw must match sampling from the raw last-position
	// logits with nothing marked as seen.
	logits, err := m.Forward(prompt)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	last := make([]float64, logits.Shape[1])
	copy(last, logits.Data[(logits.Shape[0]-1)*logits.Shape[1]:])
	want := tensor.SampleToken(last, tensor.SamplingParams{
		Temperature:       params.Temperature,
		TopK:              params.TopK,
		TopP:              params.TopP,
		RepetitionPenalty: params.RepetitionPenalty,
	}, map[int]bool{}, rand.New(rand.NewSource(1)))

	if want == tokenizer.EOS {
		if len(out) != 0 {
			t.Fatalf("generated %v, want nothing after an immediate EOS", out)
		}
		return
	}
	if len(out) != 1 || out[0] != want {
		t.Errorf("first sampled token = %v, want [%d]", out, want)
	}
}

func TestExtractResponse(t *testing.T) {
	// Decoded text carries the marker with the space before the colon
	// collapsed.
	if got := extractResponse("human: hi assistant: hello there"); got != "hello there" {
		t.Errorf("extractResponse = %q, want %q", got, "hello there")
	}
	if got := extractResponse("assistant: first assistant: second"); got != "second" {
		t.Errorf("last marker not used: %q", got)
	}
	if got := extractResponse("no marker here"); got != "no marker here" {
		t.Errorf("marker-free text = %q", got)
	}
}

func TestHistoryEviction(t *testing.T) {
	e := testEngine(t, WithMaxHistory(2))
	for _, p := range []string{"hello one", "hello two", "hello three"} {
		e.GenerateResponse(context.Background(), p, false, "")
	}
	turns := e.History()
	if len(turns) != 2 {
		t.Fatalf("history length = %d, want 2", len(turns))
	}
	if turns[0].Prompt != "hello two" || turns[1].Prompt != "hello three" {
		t.Errorf("oldest turn not evicted: %q, %q", turns[0].Prompt, turns[1].Prompt)
	}
}

func TestClearHistory(t *testing.T) {
	e := testEngine(t)
	e.GenerateResponse(context.Background(), "hello", false, "")
	e.ClearHistory()
	if len(e.History()) != 0 {
		t.Errorf("history not cleared")
	}
}

func TestSetGenerationParams(t *testing.T) {
	e := testEngine(t)
	p, err := NewGenerationParams(WithTemperature(0.5))
	if err != nil {
		t.Fatalf("NewGenerationParams: %v", err)
	}
	if err := e.SetGenerationParams(p); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
	p.Temperature = -1
	if err := e.SetGenerationParams(p); err == nil {
		t.Errorf("negative temperature accepted")
	}
}

func TestGenerationParamsValidation(t *testing.T) {
	if _, err := NewGenerationParams(WithTopP(1.5)); err == nil {
		t.Errorf("top-p > 1 accepted")
	}
	if _, err := NewGenerationParams(WithMaxLength(0)); err == nil {
		t.Errorf("zero max length accepted")
	}
	if _, err := NewGenerationParams(WithRepetitionPenalty(0)); err == nil {
		t.Errorf("zero repetition penalty accepted")
	}
}

func TestBuildPromptOrder(t *testing.T) {
	search := NewStaticSearch(map[string][]SearchResult{
		"weather": {{Title: "Forecast", URL: "http://example.com", Snippet: "sunny all week"}},
	})
	cfg, err := NewEngineConfig(WithSeed(1))
	if err != nil {
		t.Fatalf("NewEngineConfig: %v", err)
	}
	e := NewInferenceEngine(cfg, search, nil)
	e.history.add("earlier question", "earlier answer")

	prompt := e.buildPrompt("what is the weather", true, "the user lives in Oslo")

	ctxIdx := strings.Index(prompt, "Context: the user lives in Oslo")
	searchIdx := strings.Index(prompt, "Search Results:")
	histIdx := strings.Index(prompt, "Previous conversation:")
	turnIdx := strings.Index(prompt, "Human: what is the weather\nAssistant:")
	if ctxIdx < 0 || searchIdx < 0 || histIdx < 0 || turnIdx < 0 {
		t.Fatalf("prompt missing a section:\n%s", prompt)
	}
	if !(ctxIdx < searchIdx && searchIdx < histIdx && histIdx < turnIdx) {
		t.Errorf("prompt sections out of order:\n%s", prompt)
	}
	if !strings.Contains(prompt, "1. Forecast: sunny all week") {
		t.Errorf("search snippet not folded in:\n%s", prompt)
	}
}

func TestBuildPromptSearchFailureDegrades(t *testing.T) {
	search := NewStaticSearch(map[string][]SearchResult{})
	cfg, err := NewEngineConfig(WithSeed(1))
	if err != nil {
		t.Fatalf("NewEngineConfig: %v", err)
	}
	e := NewInferenceEngine(cfg, search, nil)
	prompt := e.buildPrompt("anything", true, "")
	if strings.Contains(prompt, "Search Results:") {
		t.Errorf("failed search still produced a results section")
	}
	if !strings.Contains(prompt, "Human: anything\nAssistant:") {
		t.Errorf("prompt missing the current turn")
	}
}

func TestPostProcess(t *testing.T) {
	cases := []struct{ in, want string }{
		{"the cat ran the cat ran home", "The cat ran home."},
		{"already clean answer.", "Already clean answer."},
		{"needs a period", "Needs a period."},
		{"", ""},
	}
	for _, c := range cases {
		if got := postProcess(c.in); got != c.want {
			t.Errorf("postProcess(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStripRepeatedPhrases(t *testing.T) {
	in := strings.Fields("one two three one two three four")
	got := strings.Join(stripRepeatedPhrases(in), " ")
	if got != "one two three four" {
		t.Errorf("dedup = %q", got)
	}

	clean := strings.Fields("no repeats in here at all")
	if got := strings.Join(stripRepeatedPhrases(clean), " "); got != "no repeats in here at all" {
		t.Errorf("clean text changed: %q", got)
	}
}

func TestBatchGenerate(t *testing.T) {
	e := testEngine(t)
	out := e.BatchGenerate(context.Background(), []string{"hello", "thanks"})
	if len(out) != 2 {
		t.Fatalf("batch size = %d", len(out))
	}
	for i, r := range out {
		if r == "" {
			t.Errorf("empty response at %d", i)
		}
	}
}

func TestInfo(t *testing.T) {
	e := testEngine(t)
	if e.Info().Loaded {
		t.Errorf("Info reports loaded before publish")
	}
	publishTestModel(t, e)
	info := e.Info()
	if !info.Loaded || info.Parameters == 0 || info.VocabSize == 0 {
		t.Errorf("Info after publish = %+v", info)
	}
}
