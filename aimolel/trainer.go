package aimolel

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Abd196-bit/aimolel/tensor"
	"github.com/Abd196-bit/aimolel/tokenizer"
)

// Incremental runs fine-tune on small batches of fresh data, so they
// use a fraction of the base learning rate and only a couple of passes.
const (
	incrementalLRDivisor = 100
	incrementalEpochs    = 2
)

// TrainerConfig controls a training run.
type TrainerConfig struct {
	// Epochs is the number of passes over the windowed corpus.
	Epochs int
	// MaxLength is the training window size in tokens.
	MaxLength int
	// Stride is the window step. Zero means half the window.
	Stride int
	// LearningRate is the peak learning rate after warmup.
	LearningRate float64
	// MinLR is the floor the cosine decay settles at.
	MinLR float64
	// WarmupSteps is the linear warmup length in optimizer steps.
	WarmupSteps int
	// WeightDecay is Adam's decoupled weight decay.
	WeightDecay float64
	// ClipNorm caps the global gradient norm before each step.
	ClipNorm float64
	// SaveEvery checkpoints every N epochs. Zero saves only at the end.
	SaveEvery int
	// CheckpointPath is where checkpoints are written.
	CheckpointPath string
	// ShowProgress renders a per-epoch progress bar.
	ShowProgress bool
	// Seed seeds window shuffling. Zero selects a time-based seed.
	Seed int64
}

// DefaultTrainerConfig returns a configuration tuned for small chat
// corpora.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Epochs:         10,
		MaxLength:      128,
		LearningRate:   3e-4,
		MinLR:          3e-5,
		WarmupSteps:    100,
		WeightDecay:    0.01,
		ClipNorm:       1.0,
		SaveEvery:      5,
		CheckpointPath: "model.ckpt",
		ShowProgress:   true,
	}
}

func (c TrainerConfig) validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidConfig, c.Epochs)
	}
	if c.MaxLength < 2 {
		return fmt.Errorf("%w: max length must be at least 2, got %d", ErrInvalidConfig, c.MaxLength)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalidConfig, c.LearningRate)
	}
	if c.ClipNorm <= 0 {
		return fmt.Errorf("%w: clip norm must be positive, got %g", ErrInvalidConfig, c.ClipNorm)
	}
	return nil
}

// Trainer fits a model to text with Adam, warmup-cosine learning rate
// scheduling and gradient clipping.
type Trainer struct {
	model  *tensor.Model
	tok    *tokenizer.Tokenizer
	cfg    TrainerConfig
	params []*tensor.Tensor
	opt    *tensor.Adam
	logger *log.Logger
	rng    *rand.Rand

	epoch       int
	trainLosses []float64
	valLosses   []float64
	bestVal     float64
}

// NewTrainer returns a trainer over the given model and tokenizer.
func NewTrainer(m *tensor.Model, tok *tokenizer.Tokenizer, cfg TrainerConfig, logger *log.Logger) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("trainer config: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	params := m.Parameters()
	return &Trainer{
		model:   m,
		tok:     tok,
		cfg:     cfg,
		params:  params,
		opt:     tensor.NewAdam(params, 0.9, 0.999, 1e-8, cfg.WeightDecay),
		logger:  logger,
		rng:     rand.New(rand.NewSource(seed)),
		bestVal: math.Inf(1),
	}, nil
}

// Model returns the model being trained.
func (tr *Trainer) Model() *tensor.Model { return tr.model }

// Losses returns the recorded per-epoch train and validation losses.
func (tr *Trainer) Losses() (train, val []float64) {
	return tr.trainLosses, tr.valLosses
}

// buildWindows encodes each text and slices it into fixed-length
// overlapping training windows. Windows shorter than MaxLength are
// dropped, not padded, so a text shorter than the window contributes
// nothing.
func (tr *Trainer) buildWindows(texts []string) [][]int {
	stride := tr.cfg.Stride
	if stride <= 0 {
		stride = tr.cfg.MaxLength / 2
	}
	var windows [][]int
	for _, text := range texts {
		ids := tr.tok.Encode(text, true)
		for start := 0; start+tr.cfg.MaxLength <= len(ids); start += stride {
			w := make([]int, tr.cfg.MaxLength)
			copy(w, ids[start:start+tr.cfg.MaxLength])
			windows = append(windows, w)
		}
	}
	return windows
}

// Train runs the full training loop. valTexts may be empty to skip
// validation. Training stops early when ctx is cancelled; the model
// keeps whatever progress it made.
func (tr *Trainer) Train(ctx context.Context, texts, valTexts []string) error {
	windows := tr.buildWindows(texts)
	if len(windows) == 0 {
		return ErrNoTrainingData
	}
	valWindows := tr.buildWindows(valTexts)

	sched := tensor.NewLRScheduler(tr.cfg.LearningRate, tr.cfg.MinLR, tr.cfg.WarmupSteps, tr.cfg.Epochs*len(windows))
	tr.logger.Printf("training: %d windows, %d epochs, %d parameters",
		len(windows), tr.cfg.Epochs, tr.model.NumParameters())

	for epoch := 1; epoch <= tr.cfg.Epochs; epoch++ {
		var bar *progressbar.ProgressBar
		if tr.cfg.ShowProgress {
			bar = progressbar.NewOptions(len(windows),
				progressbar.OptionSetDescription(fmt.Sprintf("epoch %d/%d", epoch, tr.cfg.Epochs)),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}

		tr.rng.Shuffle(len(windows), func(i, j int) {
			windows[i], windows[j] = windows[j], windows[i]
		})

		var epochLoss float64
		var steps int
		for _, w := range windows {
			if err := ctx.Err(); err != nil {
				return err
			}
			loss, err := tr.step(w, sched)
			if err != nil {
				return err
			}
			if !math.IsNaN(loss) {
				epochLoss += loss
				steps++
			}
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if steps == 0 {
			return ErrNoTrainingData
		}

		tr.epoch++
		avg := epochLoss / float64(steps)
		tr.trainLosses = append(tr.trainLosses, avg)

		if len(valWindows) > 0 {
			valLoss := tr.evaluate(valWindows)
			tr.valLosses = append(tr.valLosses, valLoss)
			tr.logger.Printf("epoch %d: train loss %.4f, val loss %.4f", tr.epoch, avg, valLoss)
			if valLoss < tr.bestVal {
				tr.bestVal = valLoss
				if err := tr.save(bestPath(tr.cfg.CheckpointPath)); err != nil {
					return err
				}
			}
		} else {
			tr.logger.Printf("epoch %d: train loss %.4f", tr.epoch, avg)
		}

		if tr.cfg.SaveEvery > 0 && epoch%tr.cfg.SaveEvery == 0 {
			if err := tr.save(tr.cfg.CheckpointPath); err != nil {
				return err
			}
		}
	}
	return tr.save(tr.cfg.CheckpointPath)
}

// step runs one window through forward, loss, backward, clip and an
// optimizer update. It returns NaN when the window held only padding.
func (tr *Trainer) step(w []int, sched *tensor.LRScheduler) (float64, error) {
	inputs := w[:len(w)-1]
	targets := w[1:]

	tr.opt.ZeroGrad(tr.params)
	logits, cache, err := tr.model.ForwardWithCache(inputs)
	if err != nil {
		return 0, fmt.Errorf("forward pass: %w", err)
	}
	loss, counted := tensor.CrossEntropyLoss(logits, targets, tokenizer.PAD)
	if counted == 0 {
		return math.NaN(), nil
	}
	grad := tensor.CrossEntropyBackward(logits, targets, tokenizer.PAD)
	tr.model.Backward(grad, cache)
	tensor.ClipGradients(tr.params, tr.cfg.ClipNorm)
	tr.opt.Step(tr.params, sched.Next())
	return loss, nil
}

// evaluate computes the mean loss over validation windows without
// touching gradients.
func (tr *Trainer) evaluate(windows [][]int) float64 {
	var total float64
	var steps int
	for _, w := range windows {
		logits, err := tr.model.Forward(w[:len(w)-1])
		if err != nil {
			continue
		}
		loss, counted := tensor.CrossEntropyLoss(logits, w[1:], tokenizer.PAD)
		if counted > 0 {
			total += loss
			steps++
		}
	}
	if steps == 0 {
		return math.Inf(1)
	}
	return total / float64(steps)
}

// TrainIncremental fine-tunes on a small batch of fresh examples with
// a reduced learning rate and a short epoch budget, so new data nudges
// the model without washing out what it already knows.
func (tr *Trainer) TrainIncremental(ctx context.Context, texts []string) error {
	saved := tr.cfg
	tr.cfg.Epochs = incrementalEpochs
	tr.cfg.LearningRate = saved.LearningRate / incrementalLRDivisor
	tr.cfg.MinLR = tr.cfg.LearningRate / 10
	tr.cfg.WarmupSteps = 0
	tr.cfg.SaveEvery = 0
	defer func() { tr.cfg = saved }()

	return tr.Train(ctx, texts, nil)
}

// save writes a checkpoint bundle for the current state.
func (tr *Trainer) save(path string) error {
	if path == "" {
		return nil
	}
	ck := tensor.Snapshot(tr.model, tr.opt, tr.epoch, tr.trainLosses, tr.valLosses)
	if err := ck.Save(path); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// bestPath derives the best-model checkpoint path from the regular one.
func bestPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_best" + ext
}
