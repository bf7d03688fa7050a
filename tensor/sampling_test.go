package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func TestSampleTokenGreedy(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	params := DefaultSamplingParams()
	params.TopK = 1
	for i := 0; i < 10; i++ {
		logits := []float64{0.1, 2.5, -1.0, 0.3}
		if got := SampleToken(logits, params, nil, rng); got != 1 {
			t.Fatalf("top-k=1 sampled %d, want 1", got)
		}
	}
}

func TestSampleTokenDeterministicSeed(t *testing.T) {
	params := SamplingParams{Temperature: 0.8, TopK: 3, TopP: 0.9, RepetitionPenalty: 1.1}
	draw := func() []int {
		rng := rand.New(rand.NewSource(42))
		out := make([]int, 20)
		for i := range out {
			logits := []float64{1.0, 0.9, 0.8, 0.7, 0.6}
			out[i] = SampleToken(logits, params, map[int]bool{0: true}, rng)
		}
		return out
	}
	a, b := draw(), draw()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at draw %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestRepetitionPenaltyPositiveLogit(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	params := DefaultSamplingParams()
	params.TopK = 1
	params.RepetitionPenalty = 1.1

	// 2.0/1.1 = 1.818 drops below 1.9, so the penalized token loses.
	logits := []float64{2.0, 1.9}
	if got := SampleToken(logits, params, map[int]bool{0: true}, rng); got != 1 {
		t.Errorf("sampled %d, want 1 after penalizing token 0", got)
	}
}

func TestRepetitionPenaltyNegativeLogit(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	params := DefaultSamplingParams()
	params.TopK = 1
	params.RepetitionPenalty = 1.1

	// -2.0*1.1 = -2.2 drops below -2.1: negative logits are multiplied,
	// not divided.
	logits := []float64{-2.0, -2.1}
	if got := SampleToken(logits, params, map[int]bool{0: true}, rng); got != 1 {
		t.Errorf("sampled %d, want 1 after penalizing token 0", got)
	}
}

func TestTopKMask(t *testing.T) {
	logits := []float64{3.0, 1.0, 2.0, 0.5}
	topKMask(logits, 2)
	if math.IsInf(logits[0], -1) || math.IsInf(logits[2], -1) {
		t.Errorf("top-2 logits were masked: %v", logits)
	}
	if !math.IsInf(logits[1], -1) || !math.IsInf(logits[3], -1) {
		t.Errorf("bottom logits survived: %v", logits)
	}
}

func TestTopPKeepsTopToken(t *testing.T) {
	// One dominant token with tiny p: the top token must survive even
	// though it alone exceeds the nucleus mass.
	logits := []float64{10.0, 1.0, 0.5}
	topPMask(logits, 0.01)
	if math.IsInf(logits[0], -1) {
		t.Fatalf("top token was masked")
	}
	if !math.IsInf(logits[1], -1) || !math.IsInf(logits[2], -1) {
		t.Errorf("nucleus kept too much: %v", logits)
	}
}

func TestSampleMultinomialCoverage(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	counts := make([]int, 2)
	for i := 0; i < 1000; i++ {
		counts[sampleMultinomial([]float64{0.5, 0.5}, rng)]++
	}
	if counts[0] == 0 || counts[1] == 0 {
		t.Errorf("multinomial never hit one side: %v", counts)
	}
}

// zeroSource drives rand.Float64 to return exactly 0.
type zeroSource struct{}

func (zeroSource) Int63() int64 { return 0 }
func (zeroSource) Seed(int64)   {}

func TestSampleMultinomialSkipsMaskedSlots(t *testing.T) {
	// A draw of exactly 0 lands on the boundary of the first slot; a
	// masked leading token must never be chosen.
	rng := rand.New(zeroSource{})
	if got := sampleMultinomial([]float64{0, 0.5, 0.5}, rng); got != 1 {
		t.Errorf("boundary draw = %d, want 1", got)
	}
	if got := sampleMultinomial([]float64{0, 0, 1.0}, rng); got != 2 {
		t.Errorf("boundary draw over two masked slots = %d, want 2", got)
	}
}
