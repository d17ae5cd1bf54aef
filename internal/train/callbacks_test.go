package train_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember-ml/ember/internal/checkpoint"
	"github.com/ember-ml/ember/internal/nn"
	"github.com/ember-ml/ember/internal/train"
)

// epochs feeds values of the test loss through cb at AfterEpoch and
// returns the signals it raised.
func epochs(cb train.Callback, s *train.State, losses ...float32) []train.Signal {
	sigs := make([]train.Signal, len(losses))
	for i, loss := range losses {
		s.Epoch = i
		s.TestLoss = loss
		sigs[i] = cb.Run(train.AfterEpoch, s)
	}
	return sigs
}

func newState() *train.State {
	return &train.State{LR: 0.1, Trained: true, Evaluated: true, Log: logr.Discard()}
}

func TestMetricValue(t *testing.T) {
	s := &train.State{TrainLoss: 0.5, TestLoss: 0.7, TestAccuracy: 0.9}
	assert.Equal(t, float32(0.5), train.MetricTrainLoss.Value(s))
	assert.Equal(t, float32(0.7), train.MetricTestLoss.Value(s))
	assert.InDelta(t, 0.1, train.MetricTestAccuracy.Value(s), 1e-6, "lower is better")

	s.Trained = true
	assert.True(t, train.MetricTrainLoss.Measured(s))
	assert.False(t, train.MetricTestLoss.Measured(s))
	assert.False(t, train.MetricTestAccuracy.Measured(s))
}

func TestCallbacksSkipUnmeasuredEpochs(t *testing.T) {
	store := &memStore{saved: map[string]int{}}
	drop := train.NewDropLROnPlateau(0, 0.5, train.MetricTrainLoss)
	stop := train.NewStopWhenNoProgress(1, train.MetricTrainLoss)
	autosave := train.NewAutosaveBest(store, "best", train.MetricTrainLoss)

	s := newState()
	run := func(loss float32, trained bool) train.Signal {
		s.TrainLoss, s.Trained = loss, trained
		drop.Run(train.AfterEpoch, s)
		autosave.Run(train.AfterEpoch, s)
		return stop.Run(train.AfterEpoch, s)
	}

	assert.Equal(t, train.Continue, run(3, true))
	// A zero loss from an epoch that trained nothing is not a new best.
	assert.Equal(t, train.Continue, run(0, false))
	assert.Equal(t, train.Continue, run(0, false))
	assert.Equal(t, train.Continue, run(2, true))

	assert.Equal(t, float32(0.1), s.LR, "no plateau while every measured epoch improved")
	assert.Equal(t, 2, autosave.Saves())
	assert.Equal(t, train.CancelFit, run(2, true))
}

func TestDropLROnPlateau(t *testing.T) {
	tests := []struct {
		name     string
		patience int
		losses   []float32
		wantLR   float32
	}{
		{"improving", 1, []float32{3, 2, 1}, 0.1},
		{"one plateau", 1, []float32{1, 1, 1}, 0.05},
		{"count restarts after drop", 1, []float32{1, 1, 1, 1}, 0.05},
		{"second plateau", 1, []float32{1, 1, 1, 1, 1}, 0.025},
		{"improvement resets", 1, []float32{2, 2, 1, 1, 0.5, 0.5}, 0.1},
		{"zero patience", 0, []float32{1, 1, 1}, 0.025},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newState()
			cb := train.NewDropLROnPlateau(tt.patience, 0.5, train.MetricTestLoss)
			for _, sig := range epochs(cb, s, tt.losses...) {
				assert.Equal(t, train.Continue, sig)
			}
			assert.InDelta(t, tt.wantLR, s.LR, 1e-7)
		})
	}
}

func TestDropLROnPlateauIgnoresOtherPoints(t *testing.T) {
	s := newState()
	cb := train.NewDropLROnPlateau(0, 0.5, train.MetricTestLoss)
	for _, p := range []train.Point{train.BeforeFit, train.BeforeEpoch, train.BeforeBatch, train.AfterBatch, train.AfterFit} {
		cb.Run(p, s)
		cb.Run(p, s)
	}
	assert.Equal(t, float32(0.1), s.LR)
}

func TestStopWhenNoProgress(t *testing.T) {
	cont, stop := train.Continue, train.CancelFit
	tests := []struct {
		name     string
		patience int
		losses   []float32
		want     []train.Signal
	}{
		{"constant", 2, []float32{1, 1, 1}, []train.Signal{cont, cont, stop}},
		{"improving", 2, []float32{3, 2, 1}, []train.Signal{cont, cont, cont}},
		{"reset by improvement", 2, []float32{2, 2, 1, 1, 1}, []train.Signal{cont, cont, cont, cont, stop}},
		{"patience one", 1, []float32{1, 1}, []train.Signal{cont, stop}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := train.NewStopWhenNoProgress(tt.patience, train.MetricTestLoss)
			assert.Equal(t, tt.want, epochs(cb, newState(), tt.losses...))
		})
	}
}

func TestStopWhenNoProgressOnAccuracy(t *testing.T) {
	cb := train.NewStopWhenNoProgress(1, train.MetricTestAccuracy)
	s := newState()

	s.TestAccuracy = 0.5
	assert.Equal(t, train.Continue, cb.Run(train.AfterEpoch, s))
	s.TestAccuracy = 0.6
	assert.Equal(t, train.Continue, cb.Run(train.AfterEpoch, s), "higher accuracy is progress")
	s.TestAccuracy = 0.55
	assert.Equal(t, train.CancelFit, cb.Run(train.AfterEpoch, s))
}

type memStore struct {
	saved map[string]int
	err   error
}

func (m *memStore) Save(name string, _ *nn.Network) error {
	if m.err != nil {
		return m.err
	}
	m.saved[name]++
	return nil
}

func (m *memStore) Load(string, *nn.Network) error { return nil }

func TestAutosaveBest(t *testing.T) {
	store := &memStore{saved: map[string]int{}}
	cb := train.NewAutosaveBest(store, "best", train.MetricTestLoss)

	epochs(cb, newState(), 3, 2, 2, 4, 1)

	assert.Equal(t, 3, cb.Saves())
	assert.Equal(t, 3, store.saved["best"])
	assert.NoError(t, cb.Err())
}

func TestAutosaveBestKeepsTrainingOnError(t *testing.T) {
	errFull := errors.New("disk full")
	cb := train.NewAutosaveBest(&memStore{err: errFull}, "best", train.MetricTestLoss)

	sigs := epochs(cb, newState(), 2, 1)

	assert.Equal(t, []train.Signal{train.Continue, train.Continue}, sigs)
	assert.Equal(t, 0, cb.Saves())
	assert.ErrorIs(t, cb.Err(), errFull)
}

func TestAutosaveBestWritesCheckpoint(t *testing.T) {
	f := newFixture(t)
	store, err := checkpoint.NewFileStore(t.TempDir())
	require.NoError(t, err)
	autosave := train.NewAutosaveBest(store, "best.bin", train.MetricTrainLoss)

	require.NoError(t, f.learner(t, autosave).Fit(context.Background(), 0.01, 3))
	require.Greater(t, autosave.Saves(), 0)

	restored := nn.NewNetworkWithConfig(nn.NetworkConfig{Seed: 7}, nn.NewInput(2), nn.NewLinear(1))
	require.NoError(t, store.Load("best.bin", restored))
	w, _ := restored.Layer(1).Parameters()
	assert.NotEqual(t, []float32{0, 0}, w.Data())
}

func TestProgressLogger(t *testing.T) {
	var lines []string
	log := funcr.New(func(prefix, args string) {
		lines = append(lines, prefix+" "+args)
	}, funcr.Options{Verbosity: 1})

	f := newFixture(t)
	learner := train.NewLearner(f.net, f.loader, f.opt, nn.MSE{}, train.LearnerConfig{Log: log},
		train.NewProgressLogger(2))
	require.NoError(t, learner.Fit(context.Background(), 0.01, 2))

	count := func(substr string) int {
		n := 0
		for _, l := range lines {
			if strings.Contains(l, substr) {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, count(`"msg"="training for 8 batches"`))
	assert.Equal(t, 4, count(`"msg"="progress"`), "every 2 of 4 batches, 2 epochs")
	assert.Equal(t, 2, count(`"msg"="epoch"`))
	assert.Equal(t, 1, count(`"msg"="done"`))
	assert.Equal(t, 1, count(`"msg"="training finished"`))
}

func TestHistory(t *testing.T) {
	h := &train.History{}
	epoch, _ := h.Best(train.MetricTestLoss)
	assert.Equal(t, -1, epoch, "empty history")

	s := newState()
	for i, v := range []struct{ train, test, acc float32 }{
		{1.0, 0.9, 0.50},
		{0.8, 0.6, 0.75},
		{0.6, 0.7, 0.70},
	} {
		s.Epoch = i
		s.TrainLoss, s.TestLoss, s.TestAccuracy = v.train, v.test, v.acc
		h.Run(train.AfterEpoch, s)
		h.Run(train.AfterBatch, s)
	}
	require.Equal(t, 3, h.Len())

	epoch, value := h.Best(train.MetricTestLoss)
	assert.Equal(t, 1, epoch)
	assert.InDelta(t, 0.6, value, 1e-6)

	epoch, value = h.Best(train.MetricTestAccuracy)
	assert.Equal(t, 1, epoch)
	assert.InDelta(t, 0.75, value, 1e-6)

	epoch, _ = h.Best(train.MetricTrainLoss)
	assert.Equal(t, 2, epoch)

	assert.InDelta(t, 0.7, h.Mean(train.MetricTrainLoss, 2), 1e-6)
	assert.InDelta(t, 0.65, h.Mean(train.MetricTestAccuracy, 0), 1e-6)
}
