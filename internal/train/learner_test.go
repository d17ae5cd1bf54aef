package train_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember-ml/ember/internal/data"
	"github.com/ember-ml/ember/internal/nn"
	"github.com/ember-ml/ember/internal/optim"
	"github.com/ember-ml/ember/internal/tensor"
	"github.com/ember-ml/ember/internal/train"
)

// dataset returns n samples of y = x1 + 2*x2.
func dataset(n, offset int) data.Dataset {
	in := tensor.New(n, 2)
	tg := tensor.New(n, 1)
	for i := 0; i < n; i++ {
		x1 := float32((i+offset)%5) / 5
		x2 := float32((i+offset)%3) / 3
		in.Set(x1, i, 0)
		in.Set(x2, i, 1)
		tg.Set(x1+2*x2, i, 0)
	}
	return data.Dataset{Inputs: in, Targets: tg}
}

type fixture struct {
	net    *nn.Network
	loader *data.Loader
	opt    *countingOptimizer
	rec    *recorder
}

// newFixture builds a linear regression with 8 training samples in
// batches of 2 (4 batches per epoch) and 5 held-out samples.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	net := nn.NewNetworkWithConfig(nn.NetworkConfig{Seed: 42}, nn.NewInput(2), nn.NewLinear(1))
	loader, err := data.NewSliceLoader(dataset(8, 0), dataset(5, 1), data.Config{BatchSize: 2, Threads: 1})
	require.NoError(t, err)
	return &fixture{
		net:    net,
		loader: loader,
		opt:    &countingOptimizer{Optimizer: optim.NewSGD(net, optim.SGDConfig{})},
		rec:    &recorder{},
	}
}

func (f *fixture) learner(t *testing.T, callbacks ...train.Callback) *train.Learner {
	cfg := train.LearnerConfig{Log: testr.New(t)}
	return train.NewLearner(f.net, f.loader, f.opt, nn.MSE{}, cfg, append([]train.Callback{f.rec}, callbacks...)...)
}

type countingOptimizer struct {
	optim.Optimizer
	steps int
}

func (c *countingOptimizer) Step(lr float32) {
	c.steps++
	c.Optimizer.Step(lr)
}

type recorder struct {
	points []train.Point
	epochs []int
}

func (r *recorder) Run(p train.Point, s *train.State) train.Signal {
	r.points = append(r.points, p)
	if p == train.AfterEpoch {
		r.epochs = append(r.epochs, s.Epoch)
	}
	return train.Continue
}

func (r *recorder) count(p train.Point) int {
	n := 0
	for _, q := range r.points {
		if q == p {
			n++
		}
	}
	return n
}

// signalAt raises sig at point during the given epoch and batch.
func signalAt(point train.Point, epoch, batch int, sig train.Signal) train.Callback {
	return train.CallbackFunc(func(p train.Point, s *train.State) train.Signal {
		if p == point && s.Epoch == epoch && s.Batch == batch {
			return sig
		}
		return train.Continue
	})
}

// testLossSequence overrides TestLoss at AfterEpoch with losses[epoch].
func testLossSequence(losses ...float32) train.Callback {
	return train.CallbackFunc(func(p train.Point, s *train.State) train.Signal {
		if p == train.AfterEpoch {
			s.TestLoss = losses[s.Epoch]
		}
		return train.Continue
	})
}

func TestFitLifecycleOrder(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.learner(t).Fit(context.Background(), 0.01, 2))

	var want []train.Point
	want = append(want, train.BeforeFit)
	for epoch := 0; epoch < 2; epoch++ {
		want = append(want, train.BeforeEpoch)
		for batch := 0; batch < 4; batch++ {
			want = append(want, train.BeforeBatch, train.AfterBatch)
		}
		want = append(want, train.AfterEpoch)
	}
	want = append(want, train.AfterFit)

	assert.Equal(t, want, f.rec.points)
	assert.Equal(t, 8, f.opt.steps)
}

func TestFitReducesLoss(t *testing.T) {
	f := newFixture(t)
	history := &train.History{}
	require.NoError(t, f.learner(t, history).Fit(context.Background(), 0.01, 30))

	require.Equal(t, 30, history.Len())
	assert.Less(t, history.TestLoss[29], history.TestLoss[0])
	assert.Less(t, history.TrainLoss[29], history.TrainLoss[0])

	epoch, _ := history.Best(train.MetricTestLoss)
	assert.Greater(t, epoch, 0)
}

func TestFitEvaluatesHeldOutSetInChunks(t *testing.T) {
	f := newFixture(t)
	skipAll := train.CallbackFunc(func(p train.Point, _ *train.State) train.Signal {
		if p == train.BeforeBatch {
			return train.CancelBatch
		}
		return train.Continue
	})
	learner := f.learner(t, skipAll)
	require.NoError(t, learner.Fit(context.Background(), 0.01, 1))
	require.Equal(t, 0, f.opt.steps, "every batch was cancelled")

	// Five samples in chunks of 2, 2 and 1 give the same mean as one pass.
	test := dataset(5, 1)
	f.net.Forward(test.Inputs)
	want := nn.MSE{}.Forward(f.net.Output(), test.Targets)

	state := learner.State()
	assert.InDelta(t, want, state.TestLoss, 1e-6)
	assert.Equal(t, float32(1), state.TestAccuracy, "argmax over one output always matches")
	assert.Equal(t, float32(0), state.TrainLoss, "no batch trained")
	assert.False(t, state.Trained)
	assert.True(t, state.Evaluated)
}

func TestCancelBatch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.learner(t, signalAt(train.BeforeBatch, 0, 1, train.CancelBatch)).
		Fit(context.Background(), 0.01, 1))

	assert.Equal(t, 3, f.opt.steps)
	assert.Equal(t, 4, f.rec.count(train.AfterBatch), "AfterBatch runs for the cancelled batch")
	assert.Equal(t, 1, f.rec.count(train.AfterEpoch))
}

func TestCancelEpoch(t *testing.T) {
	f := newFixture(t)
	var testLoss []float32
	var evaluated []bool
	watch := train.CallbackFunc(func(p train.Point, s *train.State) train.Signal {
		if p == train.AfterEpoch {
			testLoss = append(testLoss, s.TestLoss)
			evaluated = append(evaluated, s.Evaluated)
		}
		return train.Continue
	})

	require.NoError(t, f.learner(t, signalAt(train.BeforeBatch, 0, 1, train.CancelEpoch), watch).
		Fit(context.Background(), 0.01, 2))

	assert.Equal(t, 1+4, f.opt.steps)
	assert.Equal(t, 1+4, f.rec.count(train.AfterBatch), "no AfterBatch for the batch that cancelled the epoch")
	assert.Equal(t, []int{0, 1}, f.rec.epochs)
	require.Len(t, testLoss, 2)
	assert.Zero(t, testLoss[0], "test evaluation skipped")
	assert.NotZero(t, testLoss[1])
	assert.Equal(t, []bool{false, true}, evaluated)
}

func TestCancelEpochFromBeforeEpoch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.learner(t, signalAt(train.BeforeEpoch, 0, 0, train.CancelEpoch)).
		Fit(context.Background(), 0.01, 2))

	assert.Equal(t, 4, f.opt.steps, "only the second epoch trains")
	assert.Equal(t, 2, f.rec.count(train.AfterEpoch))
}

func TestEpochWithoutTrainingKeepsTrainLoss(t *testing.T) {
	f := newFixture(t)
	losses := []float32{3, 0, 2, 1, 0.5}
	trainLoss := train.CallbackFunc(func(p train.Point, s *train.State) train.Signal {
		if p == train.AfterEpoch && s.Trained {
			s.TrainLoss = losses[s.Epoch]
		}
		return train.Continue
	})
	var skipped train.State
	watch := train.CallbackFunc(func(p train.Point, s *train.State) train.Signal {
		if p == train.AfterEpoch && s.Epoch == 1 {
			skipped = *s
		}
		return train.Continue
	})

	require.NoError(t, f.learner(t,
		signalAt(train.BeforeEpoch, 1, 0, train.CancelEpoch),
		trainLoss,
		watch,
		train.NewStopWhenNoProgress(2, train.MetricTrainLoss),
	).Fit(context.Background(), 0.01, 5))

	assert.Equal(t, []int{0, 1, 2, 3, 4}, f.rec.epochs, "falling losses never stop the fit")
	assert.Equal(t, 16, f.opt.steps)
	assert.False(t, skipped.Trained)
	assert.False(t, skipped.Evaluated)
	assert.Equal(t, float32(3), skipped.TrainLoss, "previous epoch's loss is kept")
}

func TestCancelFit(t *testing.T) {
	tests := []struct {
		name      string
		cb        train.Callback
		wantSteps int
		wantEpoch int
	}{
		{"before fit", signalAt(train.BeforeFit, 0, 0, train.CancelFit), 0, 0},
		{"after batch", signalAt(train.AfterBatch, 0, 0, train.CancelFit), 1, 0},
		{"before batch", signalAt(train.BeforeBatch, 1, 2, train.CancelFit), 6, 1},
		{"after epoch", signalAt(train.AfterEpoch, 1, 3, train.CancelFit), 8, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.learner(t, tt.cb).Fit(context.Background(), 0.01, 5))

			assert.Equal(t, tt.wantSteps, f.opt.steps)
			assert.Equal(t, tt.wantEpoch, f.rec.count(train.AfterEpoch))
			assert.Equal(t, 1, f.rec.count(train.AfterFit))
		})
	}
}

func TestFirstSignalStopsRemainingCallbacks(t *testing.T) {
	f := newFixture(t)
	late := &recorder{}
	require.NoError(t, f.learner(t, signalAt(train.AfterEpoch, 0, 3, train.CancelFit), late).
		Fit(context.Background(), 0.01, 3))

	assert.Equal(t, 1, f.rec.count(train.AfterEpoch))
	assert.Equal(t, 0, late.count(train.AfterEpoch))
	assert.Equal(t, 1, late.count(train.AfterFit))
}

func TestUnhandledSignalPanics(t *testing.T) {
	tests := []struct {
		point train.Point
		sig   train.Signal
	}{
		{train.BeforeFit, train.CancelEpoch},
		{train.BeforeEpoch, train.CancelBatch},
		{train.AfterBatch, train.CancelBatch},
		{train.AfterEpoch, train.CancelEpoch},
		{train.AfterFit, train.CancelFit},
	}

	for _, tt := range tests {
		t.Run(tt.sig.String()+" at "+tt.point.String(), func(t *testing.T) {
			f := newFixture(t)
			raise := train.CallbackFunc(func(p train.Point, _ *train.State) train.Signal {
				if p == tt.point {
					return tt.sig
				}
				return train.Continue
			})
			assert.Panics(t, func() {
				_ = f.learner(t, raise).Fit(context.Background(), 0.01, 1)
			})
		})
	}
}

func TestStopWhenNoProgressScenario(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.learner(t,
		testLossSequence(1, 1, 1, 1, 1, 1, 1, 1, 1, 1),
		train.NewStopWhenNoProgress(2, train.MetricTestLoss),
	).Fit(context.Background(), 0.01, 10))

	assert.Equal(t, []int{0, 1, 2}, f.rec.epochs, "halts after epoch 2")
	assert.Equal(t, 1, f.rec.count(train.AfterFit))
	assert.Equal(t, 12, f.opt.steps)
}

func TestDropLROnPlateauScenario(t *testing.T) {
	f := newFixture(t)
	history := &train.History{}
	learner := f.learner(t,
		testLossSequence(1, 1, 1, 1),
		history,
		train.NewDropLROnPlateau(1, 0.5, train.MetricTestLoss),
	)
	require.NoError(t, learner.Fit(context.Background(), 0.1, 4))

	assert.Equal(t, float32(0.05), learner.State().LR, "dropped exactly once")
	assert.InDeltaSlice(t, []float64{0.1, 0.1, 0.1, 0.05}, history.LR, 1e-7)
}

func TestFitContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelAt := train.CallbackFunc(func(p train.Point, s *train.State) train.Signal {
		if p == train.AfterBatch && s.Epoch == 0 && s.Batch == 1 {
			cancel()
		}
		return train.Continue
	})

	err := f.learner(t, cancelAt).Fit(ctx, 0.01, 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, f.opt.steps)
	assert.Equal(t, 0, f.rec.count(train.AfterEpoch))
	assert.Equal(t, 1, f.rec.count(train.AfterFit))
}

var errUnreadable = errors.New("unreadable batch")

// flakySource fails from the given batch number on.
type flakySource struct {
	*data.SliceSource
	failFrom int
}

func (s *flakySource) LoadBatch(batch int, input, target *tensor.Tensor) error {
	if batch >= s.failFrom {
		return errUnreadable
	}
	return s.SliceSource.LoadBatch(batch, input, target)
}

func TestFitReturnsLoaderErrors(t *testing.T) {
	f := newFixture(t)
	src, err := data.NewSliceSource(dataset(8, 0), dataset(5, 1))
	require.NoError(t, err)
	loader := data.NewLoader(&flakySource{SliceSource: src, failFrom: 2}, data.Config{BatchSize: 2, Threads: 1})

	learner := train.NewLearner(f.net, loader, f.opt, nn.MSE{}, train.LearnerConfig{}, f.rec)
	err = learner.Fit(context.Background(), 0.01, 2)

	assert.ErrorIs(t, err, errUnreadable)
	assert.Equal(t, 2, f.opt.steps)
	assert.Equal(t, 1, f.rec.count(train.AfterFit))
}

func TestClippingCanBeDisabled(t *testing.T) {
	f := newFixture(t)
	clipped := &normRecorder{Optimizer: f.opt}
	learner := train.NewLearner(f.net, f.loader, clipped, nn.MSE{}, train.LearnerConfig{MaxGradNorm: -1})
	require.NoError(t, learner.Fit(context.Background(), 0.01, 1))
	assert.Empty(t, clipped.norms)

	f = newFixture(t)
	clipped = &normRecorder{Optimizer: f.opt}
	learner = train.NewLearner(f.net, f.loader, clipped, nn.MSE{}, train.LearnerConfig{})
	require.NoError(t, learner.Fit(context.Background(), 0.01, 1))
	assert.Equal(t, []float32{1, 1, 1, 1}, clipped.norms, "default limit")
}

type normRecorder struct {
	optim.Optimizer
	norms []float32
}

func (n *normRecorder) ClipGrad(maxNorm float32) {
	n.norms = append(n.norms, maxNorm)
	n.Optimizer.ClipGrad(maxNorm)
}
