package aimolel

import "fmt"

// GenerationParams controls the sampling loop for a single response.
type GenerationParams struct {
	// MaxLength bounds the number of generated tokens per response.
	MaxLength int
	// Temperature divides the logits before sampling. Lower is greedier.
	Temperature float64
	// TopK keeps only the K highest logits. Zero disables the filter.
	TopK int
	// TopP keeps the smallest nucleus of tokens whose cumulative
	// probability reaches P. One disables the filter.
	TopP float64
	// RepetitionPenalty discourages tokens already present in the
	// sequence. One disables the penalty.
	RepetitionPenalty float64
}

// GenerationOption mutates GenerationParams during construction.
type GenerationOption func(*GenerationParams)

// WithMaxLength sets the generated-token budget.
func WithMaxLength(n int) GenerationOption {
	return func(p *GenerationParams) { p.MaxLength = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GenerationOption {
	return func(p *GenerationParams) { p.Temperature = t }
}

// WithTopK sets the top-k filter.
func WithTopK(k int) GenerationOption {
	return func(p *GenerationParams) { p.TopK = k }
}

// WithTopP sets the nucleus filter.
func WithTopP(p float64) GenerationOption {
	return func(gp *GenerationParams) { gp.TopP = p }
}

// WithRepetitionPenalty sets the repetition penalty.
func WithRepetitionPenalty(r float64) GenerationOption {
	return func(p *GenerationParams) { p.RepetitionPenalty = r }
}

// NewGenerationParams returns generation parameters with chat-tuned
// defaults, modified by the given options.
func NewGenerationParams(opts ...GenerationOption) (GenerationParams, error) {
	p := GenerationParams{
		MaxLength:         512,
		Temperature:       0.8,
		TopK:              50,
		TopP:              0.95,
		RepetitionPenalty: 1.1,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.validate(); err != nil {
		return GenerationParams{}, err
	}
	return p, nil
}

func (p GenerationParams) validate() error {
	if p.MaxLength <= 0 {
		return fmt.Errorf("%w: max length must be positive, got %d", ErrInvalidConfig, p.MaxLength)
	}
	if p.Temperature <= 0 {
		return fmt.Errorf("%w: temperature must be positive, got %g", ErrInvalidConfig, p.Temperature)
	}
	if p.TopK < 0 {
		return fmt.Errorf("%w: top-k must be non-negative, got %d", ErrInvalidConfig, p.TopK)
	}
	if p.TopP <= 0 || p.TopP > 1 {
		return fmt.Errorf("%w: top-p must be in (0, 1], got %g", ErrInvalidConfig, p.TopP)
	}
	if p.RepetitionPenalty <= 0 {
		return fmt.Errorf("%w: repetition penalty must be positive, got %g", ErrInvalidConfig, p.RepetitionPenalty)
	}
	return nil
}

// EngineConfig configures an InferenceEngine.
type EngineConfig struct {
	// Params are the default sampling parameters for responses.
	Params GenerationParams
	// MaxHistory caps the number of retained conversation turns.
	MaxHistory int
	// MaxSearchResults caps the snippets folded into the prompt.
	MaxSearchResults int
	// Seed seeds the sampling RNG. Zero selects a time-based seed.
	Seed int64
}

// EngineOption mutates EngineConfig during construction.
type EngineOption func(*EngineConfig)

// WithParams sets the default sampling parameters.
func WithParams(p GenerationParams) EngineOption {
	return func(c *EngineConfig) { c.Params = p }
}

// WithMaxHistory sets the conversation-history cap.
func WithMaxHistory(n int) EngineOption {
	return func(c *EngineConfig) { c.MaxHistory = n }
}

// WithMaxSearchResults sets the search-snippet cap for prompts.
func WithMaxSearchResults(n int) EngineOption {
	return func(c *EngineConfig) { c.MaxSearchResults = n }
}

// WithSeed fixes the sampling RNG seed. Useful for reproducible runs.
func WithSeed(seed int64) EngineOption {
	return func(c *EngineConfig) { c.Seed = seed }
}

// NewEngineConfig returns an engine configuration with defaults applied
// and the given options folded in.
func NewEngineConfig(opts ...EngineOption) (EngineConfig, error) {
	params, err := NewGenerationParams()
	if err != nil {
		return EngineConfig{}, err
	}
	c := EngineConfig{
		Params:           params,
		MaxHistory:       5,
		MaxSearchResults: 3,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.validate(); err != nil {
		return EngineConfig{}, err
	}
	return c, nil
}

func (c EngineConfig) validate() error {
	if c.MaxHistory < 0 {
		return fmt.Errorf("%w: max history must be non-negative, got %d", ErrInvalidConfig, c.MaxHistory)
	}
	if c.MaxSearchResults < 0 {
		return fmt.Errorf("%w: max search results must be non-negative, got %d", ErrInvalidConfig, c.MaxSearchResults)
	}
	return c.Params.validate()
}
