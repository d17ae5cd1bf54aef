// Copyright 2025 The Ember Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package train

import (
	"github.com/ember-ml/ember/internal/checkpoint"
	"github.com/ember-ml/ember/internal/data"
	"github.com/ember-ml/ember/internal/nn"
	"github.com/ember-ml/ember/internal/optim"
	"github.com/ember-ml/ember/internal/train"
)

// Point is a moment of the training loop at which callbacks run.
type Point = train.Point

// Callback points.
const (
	BeforeFit   = train.BeforeFit
	BeforeEpoch = train.BeforeEpoch
	BeforeBatch = train.BeforeBatch
	AfterBatch  = train.AfterBatch
	AfterEpoch  = train.AfterEpoch
	AfterFit    = train.AfterFit
)

// Signal is a callback's instruction to the training loop.
type Signal = train.Signal

// Signals.
const (
	Continue    = train.Continue
	CancelBatch = train.CancelBatch
	CancelEpoch = train.CancelEpoch
	CancelFit   = train.CancelFit
)

// State is the training state shared with callbacks.
type State = train.State

// Callback observes and steers training.
type Callback = train.Callback

// CallbackFunc adapts a function to Callback.
type CallbackFunc = train.CallbackFunc

// LearnerConfig configures a Learner.
type LearnerConfig = train.LearnerConfig

// Learner trains a network.
type Learner = train.Learner

// NewLearner creates a Learner.
func NewLearner(net *nn.Network, loader data.DataLoader, opt optim.Optimizer, loss nn.Loss,
	cfg LearnerConfig, callbacks ...Callback) *Learner {
	return train.NewLearner(net, loader, opt, loss, cfg, callbacks...)
}

// Metric selects the value a callback watches.
type Metric = train.Metric

// Metrics.
const (
	MetricTrainLoss    = train.MetricTrainLoss
	MetricTestLoss     = train.MetricTestLoss
	MetricTestAccuracy = train.MetricTestAccuracy
)

// Callbacks

// DropLROnPlateau multiplies the learning rate by a factor when the metric
// stops improving.
type DropLROnPlateau = train.DropLROnPlateau

// NewDropLROnPlateau creates a DropLROnPlateau callback.
func NewDropLROnPlateau(patience int, factor float32, metric Metric) *DropLROnPlateau {
	return train.NewDropLROnPlateau(patience, factor, metric)
}

// StopWhenNoProgress cancels training when the metric stops improving.
type StopWhenNoProgress = train.StopWhenNoProgress

// NewStopWhenNoProgress creates a StopWhenNoProgress callback.
func NewStopWhenNoProgress(patience int, metric Metric) *StopWhenNoProgress {
	return train.NewStopWhenNoProgress(patience, metric)
}

// AutosaveBest saves a checkpoint whenever the metric improves.
type AutosaveBest = train.AutosaveBest

// NewAutosaveBest creates an AutosaveBest callback writing to store.
//
// Example:
//
//	store, _ := checkpoint.NewFileStore("checkpoints")
//	autosave := train.NewAutosaveBest(store, "best.bin", train.MetricTestAccuracy)
func NewAutosaveBest(store checkpoint.Store, name string, metric Metric) *AutosaveBest {
	return train.NewAutosaveBest(store, name, metric)
}

// ProgressLogger logs training progress.
type ProgressLogger = train.ProgressLogger

// NewProgressLogger creates a ProgressLogger logging every n batches.
func NewProgressLogger(every int) *ProgressLogger {
	return train.NewProgressLogger(every)
}

// History records per-epoch metrics.
type History = train.History
