package tensor

import (
	"math"
	"math/rand"
	"sort"
)

// SamplingParams holds parameters for next-token sampling.
type SamplingParams struct {
	Temperature       float64 // logit scaling, >0; lower is more deterministic
	TopK              int     // keep only the k highest logits; 0 disables
	TopP              float64 // nucleus cutoff on cumulative probability; 1.0 disables
	RepetitionPenalty float64 // multiplicative discouragement of seen tokens; 1.0 disables
}

// DefaultSamplingParams returns neutral sampling parameters.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		Temperature:       1.0,
		TopK:              0,
		TopP:              1.0,
		RepetitionPenalty: 1.0,
	}
}

// SampleToken draws one token id from logits after applying temperature,
// repetition penalty, top-k, and nucleus filtering, in that order. seen
// holds token ids already emitted in the sequence. The caller owns the
// rand source; seed it for deterministic output. logits is modified in
// place.
func SampleToken(logits []float64, params SamplingParams, seen map[int]bool, rng *rand.Rand) int {
	if params.Temperature > 0 && params.Temperature != 1.0 {
		for i := range logits {
			logits[i] /= params.Temperature
		}
	}

	// Repetition penalty: positive logits shrink by division, negative
	// logits grow more negative by multiplication.
	if params.RepetitionPenalty != 1.0 {
		for id := range seen {
			if id < 0 || id >= len(logits) {
				continue
			}
			if logits[id] < 0 {
				logits[id] *= params.RepetitionPenalty
			} else {
				logits[id] /= params.RepetitionPenalty
			}
		}
	}

	if params.TopK > 0 && params.TopK < len(logits) {
		topKMask(logits, params.TopK)
	}

	if params.TopP < 1.0 {
		topPMask(logits, params.TopP)
	}

	probs := softmaxSlice(logits)
	return sampleMultinomial(probs, rng)
}

// topKMask sets everything below the k-th highest logit to -inf.
func topKMask(logits []float64, k int) {
	sorted := make([]float64, len(logits))
	copy(sorted, logits)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	threshold := sorted[k-1]

	kept := 0
	for i, l := range logits {
		if l < threshold {
			logits[i] = math.Inf(-1)
		} else if l == threshold {
			// Ties at the threshold stay until k slots are filled.
			if kept >= k {
				logits[i] = math.Inf(-1)
			} else {
				kept++
			}
		} else {
			kept++
		}
	}
}

// topPMask removes tokens once the cumulative probability of the sorted
// distribution exceeds p. The removal mask is shifted right by one so
// the top token always survives.
func topPMask(logits []float64, p float64) {
	type indexedLogit struct {
		idx   int
		logit float64
	}
	indexed := make([]indexedLogit, len(logits))
	for i, l := range logits {
		indexed[i] = indexedLogit{i, l}
	}
	sort.Slice(indexed, func(i, j int) bool {
		return indexed[i].logit > indexed[j].logit
	})

	sortedLogits := make([]float64, len(indexed))
	for i, il := range indexed {
		sortedLogits[i] = il.logit
	}
	probs := softmaxSlice(sortedLogits)

	cum := 0.0
	remove := make([]bool, len(probs))
	for i, pr := range probs {
		cum += pr
		remove[i] = cum > p
	}
	// Shift right: position i is removed only if the cumulative mass
	// already exceeded p before including it.
	for i := len(remove) - 1; i > 0; i-- {
		remove[i] = remove[i-1]
	}
	remove[0] = false

	for i, il := range indexed {
		if remove[i] {
			logits[il.idx] = math.Inf(-1)
		}
	}
}

func softmaxSlice(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}

	probs := make([]float64, len(logits))
	sum := 0.0
	for i, l := range logits {
		probs[i] = math.Exp(l - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func sampleMultinomial(probs []float64, rng *rand.Rand) int {
	cum := make([]float64, len(probs))
	cum[0] = probs[0]
	for i := 1; i < len(probs); i++ {
		cum[i] = cum[i-1] + probs[i]
	}

	r := rng.Float64() * cum[len(cum)-1]
	idx := sort.SearchFloat64s(cum, r)
	if idx >= len(probs) {
		idx = len(probs) - 1
	}
	// r can land exactly on a slot boundary; a boundary slot with zero
	// probability belongs to a masked token, so move to the next live one.
	for idx < len(probs)-1 && probs[idx] == 0 {
		idx++
	}
	return idx
}
