package aimolel

import "errors"

// ErrInvalidConfig reports a configuration that fails validation. It is
// wrapped with the specific field complaint.
var ErrInvalidConfig = errors.New("invalid config")

// ErrModelUnavailable reports that no usable checkpoint is loaded. The
// engine recovers locally by answering from the rule-based fallback
// table, so callers normally never see it.
var ErrModelUnavailable = errors.New("model unavailable")

// ErrTrainingActive reports that an incremental training run is already
// in flight. Concurrent triggers are no-ops, not queued.
var ErrTrainingActive = errors.New("incremental training already active")

// ErrNoTrainingData reports that a training call received texts that
// produced no usable windows.
var ErrNoTrainingData = errors.New("no training data")
