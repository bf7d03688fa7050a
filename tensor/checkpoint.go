package tensor

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint is the persisted bundle of everything needed to rebuild the
// model and resume training: the architecture config (shapes depend on
// it, so it travels with the weights), the parameter tensors in
// Parameters order, the optimizer moments, and the loss history.
type Checkpoint struct {
	Config Config
	Epoch  int

	Params [][]float64

	AdamM [][]float64
	AdamV [][]float64
	AdamT int

	TrainLosses []float64
	ValLosses   []float64

	SavedAt time.Time
}

// Snapshot captures the model and optimizer state into a Checkpoint.
func Snapshot(m *Model, opt *Adam, epoch int, trainLosses, valLosses []float64) *Checkpoint {
	params := m.Parameters()
	ck := &Checkpoint{
		Config:      m.Config,
		Epoch:       epoch,
		Params:      make([][]float64, len(params)),
		TrainLosses: append([]float64(nil), trainLosses...),
		ValLosses:   append([]float64(nil), valLosses...),
		SavedAt:     time.Now(),
	}
	for i, p := range params {
		ck.Params[i] = append([]float64(nil), p.Data...)
	}
	if opt != nil {
		ck.AdamT = opt.T
		ck.AdamM = make([][]float64, len(opt.M))
		ck.AdamV = make([][]float64, len(opt.V))
		for i := range opt.M {
			ck.AdamM[i] = append([]float64(nil), opt.M[i].Data...)
			ck.AdamV[i] = append([]float64(nil), opt.V[i].Data...)
		}
	}
	return ck
}

// Save writes the checkpoint to path atomically: the bundle lands under a
// temporary name and is renamed into place, so a reader never observes a
// torn file.
func (ck *Checkpoint) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(ck); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to finalize checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint bundle from path.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	var ck Checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &ck, nil
}

// Restore reconstructs a model from the checkpoint's config and weights.
func (ck *Checkpoint) Restore() (*Model, error) {
	m, err := NewModel(ck.Config, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, fmt.Errorf("checkpoint config invalid: %w", err)
	}

	params := m.Parameters()
	if len(params) != len(ck.Params) {
		return nil, fmt.Errorf("checkpoint has %d tensors, model expects %d", len(ck.Params), len(params))
	}
	for i, p := range params {
		if len(ck.Params[i]) != len(p.Data) {
			return nil, fmt.Errorf("checkpoint tensor %d has %d values, model expects %d",
				i, len(ck.Params[i]), len(p.Data))
		}
		copy(p.Data, ck.Params[i])
	}
	return m, nil
}

// RestoreOptimizer rebuilds the Adam state for params from the
// checkpoint, or returns a fresh optimizer if the bundle carries none.
func (ck *Checkpoint) RestoreOptimizer(params []*Tensor, beta1, beta2, epsilon, weightDecay float64) (*Adam, error) {
	opt := NewAdam(params, beta1, beta2, epsilon, weightDecay)
	if len(ck.AdamM) == 0 {
		return opt, nil
	}
	if len(ck.AdamM) != len(params) {
		return nil, fmt.Errorf("checkpoint optimizer has %d moments, model expects %d", len(ck.AdamM), len(params))
	}
	for i := range params {
		if len(ck.AdamM[i]) != len(opt.M[i].Data) {
			return nil, fmt.Errorf("checkpoint optimizer moment %d size mismatch", i)
		}
		copy(opt.M[i].Data, ck.AdamM[i])
		copy(opt.V[i].Data, ck.AdamV[i])
	}
	opt.T = ck.AdamT
	return opt, nil
}
