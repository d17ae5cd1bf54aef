// Package train drives the Ember training loop.
//
// A Learner ties a Network, a DataLoader, an Optimizer and a Loss together
// and runs the nested epoch/batch state machine:
//
//	BeforeFit
//	  BeforeEpoch
//	    BeforeBatch -> forward, loss, backward, clip, step -> AfterBatch
//	    ...
//	  [test evaluation]
//	  AfterEpoch
//	  ...
//	AfterFit
//
// Callbacks run at every point in registration order. They observe and
// mutate the shared State and steer the loop by returning a Signal.
package train

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/ember-ml/ember/internal/data"
	"github.com/ember-ml/ember/internal/nn"
	"github.com/ember-ml/ember/internal/optim"
	"github.com/ember-ml/ember/internal/tensor"
)

// Point is a lifecycle point of the training loop.
type Point int

// Lifecycle points in the order they are first reached.
const (
	BeforeFit Point = iota
	BeforeEpoch
	BeforeBatch
	AfterBatch
	AfterEpoch
	AfterFit
)

// String returns the point name.
func (p Point) String() string {
	switch p {
	case BeforeFit:
		return "BeforeFit"
	case BeforeEpoch:
		return "BeforeEpoch"
	case BeforeBatch:
		return "BeforeBatch"
	case AfterBatch:
		return "AfterBatch"
	case AfterEpoch:
		return "AfterEpoch"
	case AfterFit:
		return "AfterFit"
	default:
		return fmt.Sprintf("Point(%d)", int(p))
	}
}

// Signal is returned by callbacks to continue or cancel part of the loop.
type Signal int

const (
	// Continue lets the loop proceed.
	Continue Signal = iota

	// CancelBatch skips the rest of the current batch. AfterBatch still runs.
	CancelBatch

	// CancelEpoch skips the remaining batches and the test evaluation of
	// the current epoch. AfterEpoch still runs; State.Evaluated is false
	// and the test metrics are those of the last evaluated epoch.
	CancelEpoch

	// CancelFit ends training. AfterFit still runs, exactly once.
	CancelFit
)

// String returns the signal name.
func (s Signal) String() string {
	switch s {
	case Continue:
		return "Continue"
	case CancelBatch:
		return "CancelBatch"
	case CancelEpoch:
		return "CancelEpoch"
	case CancelFit:
		return "CancelFit"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}

// handles reports whether a signal raised at point p has somewhere to go:
// a point can only cancel the stage it belongs to or an enclosing one.
func handles(p Point, s Signal) bool {
	switch s {
	case Continue:
		return true
	case CancelBatch:
		return p == BeforeBatch
	case CancelEpoch:
		return p == BeforeEpoch || p == BeforeBatch || p == AfterBatch
	case CancelFit:
		return p != AfterFit
	default:
		return false
	}
}

// State is the training state shared with callbacks.
type State struct {
	LR float32 // Learning rate used by the next optimizer step

	TrainLoss    float32 // Mean batch loss of the current epoch so far
	TestLoss     float32 // Mean loss over the held-out set, last evaluation
	TestAccuracy float32 // Fraction of held-out samples counted correct

	// Trained and Evaluated report whether TrainLoss and the test metrics
	// were measured in the current epoch. An epoch that trains no batch
	// keeps the previous TrainLoss; a cancelled epoch keeps the previous
	// test metrics.
	Trained   bool
	Evaluated bool

	Epoch           int // Current epoch, from 0
	Batch           int // Current batch within the epoch, from 0
	Epochs          int // Epochs requested from Fit
	BatchesPerEpoch int

	Net *nn.Network
	Log logr.Logger
}

// Callback observes the training loop.
type Callback interface {
	Run(point Point, s *State) Signal
}

// CallbackFunc adapts a function to the Callback interface.
type CallbackFunc func(point Point, s *State) Signal

// Run calls f.
func (f CallbackFunc) Run(point Point, s *State) Signal { return f(point, s) }

// LearnerConfig configures a Learner.
type LearnerConfig struct {
	// MaxGradNorm is the global gradient norm limit applied before every
	// step (default: 1). Negative values disable clipping.
	MaxGradNorm float32

	Log logr.Logger
}

// Learner trains a network.
//
// Example:
//
//	learner := train.NewLearner(net, loader, optim.NewAdam(net, optim.AdamConfig{}),
//	    nn.CrossEntropy{}, train.LearnerConfig{},
//	    train.NewStopWhenNoProgress(5, train.MetricTestLoss),
//	)
//	if err := learner.Fit(ctx, 0.001, 100); err != nil {
//	    return err
//	}
type Learner struct {
	net       *nn.Network
	loader    data.DataLoader
	opt       optim.Optimizer
	loss      nn.Loss
	callbacks []Callback
	cfg       LearnerConfig

	state State
}

// NewLearner creates a Learner. Callbacks run in the order given.
func NewLearner(net *nn.Network, loader data.DataLoader, opt optim.Optimizer, loss nn.Loss,
	cfg LearnerConfig, callbacks ...Callback) *Learner {
	if cfg.MaxGradNorm == 0 {
		cfg.MaxGradNorm = 1
	}
	if cfg.Log.GetSink() == nil {
		cfg.Log = logr.Discard()
	}
	return &Learner{
		net:       net,
		loader:    loader,
		opt:       opt,
		loss:      loss,
		callbacks: callbacks,
		cfg:       cfg,
		state:     State{Net: net, Log: cfg.Log},
	}
}

// AddCallbacks appends callbacks after those already registered.
func (l *Learner) AddCallbacks(callbacks ...Callback) {
	l.callbacks = append(l.callbacks, callbacks...)
}

// State returns a copy of the current training state.
func (l *Learner) State() State { return l.state }

// run invokes every callback at point until one returns a signal other
// than Continue. Panics if that signal cannot be handled at point.
func (l *Learner) run(point Point) Signal {
	for _, cb := range l.callbacks {
		sig := cb.Run(point, &l.state)
		if sig == Continue {
			continue
		}
		if !handles(point, sig) {
			panic(fmt.Sprintf("learner: %s raised at %s has no handler", sig, point))
		}
		l.cfg.Log.V(1).Info("callback signal", "signal", sig.String(), "point", point.String(),
			"epoch", l.state.Epoch, "batch", l.state.Batch)
		return sig
	}
	return Continue
}

// Fit trains for the given number of epochs starting at learning rate lr.
//
// Each epoch runs NumSamples/BatchSize batches and then evaluates the
// held-out set. A cancelled ctx is noticed between batches and ends
// training like CancelFit; Fit then returns ctx.Err(). Data loading errors
// also end training and are returned. AfterFit runs in every case.
func (l *Learner) Fit(ctx context.Context, lr float32, epochs int) error {
	s := &l.state
	s.LR = lr
	s.Epochs = epochs
	s.BatchesPerEpoch = l.loader.NumSamples() / l.loader.BatchSize()
	s.Epoch, s.Batch = 0, 0
	s.TrainLoss, s.TestLoss, s.TestAccuracy = 0, 0, 0
	s.Trained, s.Evaluated = false, false

	start := time.Now()
	l.cfg.Log.Info("training", "epochs", epochs, "batchesPerEpoch", s.BatchesPerEpoch,
		"batchSize", l.loader.BatchSize(), "lr", lr, "parameters", l.net.ParameterCount())
	if s.BatchesPerEpoch == 0 {
		l.cfg.Log.Info("fewer samples than one batch, epochs will only evaluate",
			"samples", l.loader.NumSamples())
	}

	var err error
	completed := 0
	preloading := false
	if l.run(BeforeFit) == Continue {
		l.loader.AsyncPreloadBatch()
		preloading = true

		for epoch := 0; epoch < epochs; epoch++ {
			s.Epoch = epoch
			var sig Signal
			if sig, err = l.epoch(ctx); sig == CancelFit {
				break
			}
			completed++
			if l.run(AfterEpoch) == CancelFit {
				break
			}
		}
	}

	l.run(AfterFit)

	if preloading {
		err = errors.Join(err, l.loader.WaitForBatch())
	}
	l.cfg.Log.Info("training finished", "epochs", completed, "elapsed", time.Since(start).Round(time.Millisecond).String(),
		"trainLoss", s.TrainLoss, "testLoss", s.TestLoss, "testAccuracy", s.TestAccuracy)
	return err
}

// epoch runs BeforeEpoch, the training batches and the test evaluation.
// It returns CancelFit when training must stop, with the error that
// caused it if any.
func (l *Learner) epoch(ctx context.Context) (Signal, error) {
	s := &l.state
	s.Batch = 0
	s.Trained, s.Evaluated = false, false
	if err := ctx.Err(); err != nil {
		l.cfg.Log.Info("training cancelled", "epoch", s.Epoch)
		return CancelFit, err
	}

	switch l.run(BeforeEpoch) {
	case CancelEpoch:
		return CancelEpoch, nil
	case CancelFit:
		return CancelFit, nil
	}

	var lossSum float64
	trained := 0
	for batch := 0; batch < s.BatchesPerEpoch; batch++ {
		if err := ctx.Err(); err != nil {
			l.cfg.Log.Info("training cancelled", "epoch", s.Epoch, "batch", batch)
			return CancelFit, err
		}
		s.Batch = batch

		if err := l.loader.WaitForBatch(); err != nil {
			return CancelFit, err
		}
		l.loader.SwapBuffers()
		l.loader.AsyncPreloadBatch()

		sig := l.run(BeforeBatch)
		switch sig {
		case Continue:
			lossSum += float64(l.step())
			trained++
			s.TrainLoss = float32(lossSum / float64(trained))
			s.Trained = true
		case CancelEpoch, CancelFit:
			return sig, nil
		}

		switch l.run(AfterBatch) {
		case CancelEpoch:
			return CancelEpoch, nil
		case CancelFit:
			return CancelFit, nil
		}
	}

	if err := l.evaluate(); err != nil {
		return CancelFit, err
	}
	return Continue, nil
}

// step trains on the active batch and returns its loss.
func (l *Learner) step() float32 {
	l.opt.ZeroGrad()

	input, target := l.loader.BatchData()
	l.net.Forward(input)
	loss := l.loss.Forward(l.net.Output(), target)

	l.backward(target)
	if l.cfg.MaxGradNorm > 0 {
		l.opt.ClipGrad(l.cfg.MaxGradNorm)
	}
	l.opt.Step(l.state.LR)
	l.opt.ZeroGrad()

	l.cfg.Log.V(2).Info("batch", "epoch", l.state.Epoch, "batch", l.state.Batch, "loss", loss)
	return loss
}

// backward walks the layers from last to first, accumulating parameter
// gradients into the optimizer. Layer gradients are already averaged over
// the batch.
func (l *Learner) backward(target *tensor.Tensor) {
	layers := l.net.Layers()
	grad := l.loss.Backward(l.net.Output(), target)

	for i := len(layers) - 1; i > 0; i-- {
		g := layers[i].Backward(layers[i-1], grad)
		if layers[i].HasParameters() {
			l.opt.Accumulate(i, g, 1)
		}
		grad = g.Input
	}
}

// evaluate forwards the held-out set in batch-sized chunks and records
// TestLoss and TestAccuracy. An empty held-out set measures nothing and
// leaves Evaluated false. The active buffer is replaced by the test
// set; the next SwapBuffers brings a training batch back.
func (l *Learner) evaluate() error {
	s := &l.state
	if err := l.loader.LoadTestSet(); err != nil {
		return err
	}

	input, target := l.loader.BatchData()
	n := input.Dim(0)
	if n == 0 {
		s.TestLoss, s.TestAccuracy = 0, 0
		return nil
	}

	var lossSum float64
	correct := 0
	for start := 0; start < n; start += l.loader.BatchSize() {
		end := min(start+l.loader.BatchSize(), n)
		in, tg := input.Rows(start, end), target.Rows(start, end)

		l.net.Forward(in)
		lossSum += float64(l.loss.Forward(l.net.Output(), tg)) * float64(end-start)
		correct += l.loader.CountCorrect(l.net.Output(), tg)
	}

	s.TestLoss = float32(lossSum / float64(n))
	s.TestAccuracy = float32(correct) / float32(n)
	s.Evaluated = true
	return nil
}
