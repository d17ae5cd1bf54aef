package train

import (
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/floats"

	"github.com/ember-ml/ember/internal/checkpoint"
)

// Metric selects the value the built-in callbacks watch. Every metric is
// lower-is-better; accuracy is watched as 1 - TestAccuracy.
type Metric int

// Supported metrics.
const (
	MetricTrainLoss Metric = iota
	MetricTestLoss
	MetricTestAccuracy
)

// String returns the metric name.
func (m Metric) String() string {
	switch m {
	case MetricTrainLoss:
		return "train loss"
	case MetricTestLoss:
		return "test loss"
	case MetricTestAccuracy:
		return "test accuracy"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// Value reads the metric from s, oriented so that lower is better.
func (m Metric) Value(s *State) float32 {
	switch m {
	case MetricTrainLoss:
		return s.TrainLoss
	case MetricTestLoss:
		return s.TestLoss
	case MetricTestAccuracy:
		return 1 - s.TestAccuracy
	default:
		panic(fmt.Sprintf("metric: unknown metric %d", int(m)))
	}
}

// Measured reports whether s holds a value of m for the current epoch.
func (m Metric) Measured(s *State) bool {
	if m == MetricTrainLoss {
		return s.Trained
	}
	return s.Evaluated
}

// tracker remembers the best value of a metric seen so far.
type tracker struct {
	metric Metric
	best   float32
}

func newTracker(m Metric) tracker {
	return tracker{metric: m, best: math32.Inf(1)}
}

// improved records the current value and reports whether it beat the best.
// Epochs that did not measure the metric never improve.
func (t *tracker) improved(s *State) bool {
	if !t.metric.Measured(s) {
		return false
	}
	if v := t.metric.Value(s); v < t.best {
		t.best = v
		return true
	}
	return false
}

// DropLROnPlateau multiplies the learning rate by Factor when the metric
// has not improved for more than Patience epochs. The count restarts after
// every drop. Epochs that did not measure the metric are not counted.
type DropLROnPlateau struct {
	Patience int
	Factor   float32

	tracker
	since int
}

// NewDropLROnPlateau returns a DropLROnPlateau watching metric.
func NewDropLROnPlateau(patience int, factor float32, metric Metric) *DropLROnPlateau {
	return &DropLROnPlateau{Patience: patience, Factor: factor, tracker: newTracker(metric)}
}

// Run implements Callback.
func (d *DropLROnPlateau) Run(point Point, s *State) Signal {
	if point != AfterEpoch || !d.metric.Measured(s) {
		return Continue
	}

	switch {
	case d.improved(s):
		d.since = 0
	case d.since >= d.Patience:
		s.LR *= d.Factor
		d.since = 0
		s.Log.Info("dropping learning rate", "lr", s.LR, "epoch", s.Epoch, "metric", d.metric.String())
	default:
		d.since++
	}
	return Continue
}

// StopWhenNoProgress ends training once the metric has gone Patience
// measured epochs without improving.
type StopWhenNoProgress struct {
	Patience int

	tracker
	since int
}

// NewStopWhenNoProgress returns a StopWhenNoProgress watching metric.
func NewStopWhenNoProgress(patience int, metric Metric) *StopWhenNoProgress {
	return &StopWhenNoProgress{Patience: patience, tracker: newTracker(metric)}
}

// Run implements Callback.
func (c *StopWhenNoProgress) Run(point Point, s *State) Signal {
	if point != AfterEpoch || !c.metric.Measured(s) {
		return Continue
	}

	if c.improved(s) {
		c.since = 0
		return Continue
	}
	c.since++
	if c.since >= c.Patience {
		s.Log.Info("stopping, no progress", "epochs", c.since, "epoch", s.Epoch, "metric", c.metric.String())
		return CancelFit
	}
	return Continue
}

// AutosaveBest saves the network to Store under Name every time the metric
// improves. Save failures are logged and kept in Err; training goes on.
type AutosaveBest struct {
	Store checkpoint.Store
	Name  string

	tracker
	saves int
	err   error
}

// NewAutosaveBest returns an AutosaveBest watching metric.
func NewAutosaveBest(store checkpoint.Store, name string, metric Metric) *AutosaveBest {
	return &AutosaveBest{Store: store, Name: name, tracker: newTracker(metric)}
}

// Run implements Callback.
func (a *AutosaveBest) Run(point Point, s *State) Signal {
	if point != AfterEpoch || !a.improved(s) {
		return Continue
	}

	if err := a.Store.Save(a.Name, s.Net); err != nil {
		a.err = err
		s.Log.Error(err, "autosave failed", "name", a.Name, "epoch", s.Epoch)
		return Continue
	}
	a.saves++
	s.Log.V(1).Info("saved best network", "name", a.Name, "epoch", s.Epoch, "metric", a.metric.String(), "value", a.best)
	return Continue
}

// Saves returns how many checkpoints were written.
func (a *AutosaveBest) Saves() int { return a.saves }

// Err returns the last save error, if any.
func (a *AutosaveBest) Err() error { return a.err }

// ProgressLogger logs a summary line after every epoch and, every Every
// batches, the running train loss at verbosity 1.
type ProgressLogger struct {
	Every int

	fitStart   time.Time
	epochStart time.Time
}

// NewProgressLogger returns a ProgressLogger reporting every n batches.
func NewProgressLogger(every int) *ProgressLogger {
	return &ProgressLogger{Every: every}
}

// Run implements Callback.
func (p *ProgressLogger) Run(point Point, s *State) Signal {
	switch point {
	case BeforeFit:
		p.fitStart = time.Now()
		s.Log.Info("training for "+humanize.Comma(int64(s.Epochs*s.BatchesPerEpoch))+" batches",
			"batchesPerEpoch", s.BatchesPerEpoch, "parameters", humanize.Comma(int64(s.Net.ParameterCount())))
	case BeforeEpoch:
		p.epochStart = time.Now()
	case AfterBatch:
		if p.Every > 0 && (s.Batch+1)%p.Every == 0 {
			done := s.Batch + 1
			elapsed := time.Since(p.epochStart)
			rate := float64(done) / max(elapsed.Seconds(), 1e-9)
			s.Log.V(1).Info("progress", "epoch", s.Epoch,
				"batch", fmt.Sprintf("%d/%d", done, s.BatchesPerEpoch),
				"trainLoss", s.TrainLoss,
				"batchesPerSec", fmt.Sprintf("%.2f", rate),
				"remaining", remaining(s.BatchesPerEpoch-done, rate).String())
		}
	case AfterEpoch:
		s.Log.Info("epoch",
			"epoch", s.Epoch,
			"trainLoss", fmt.Sprintf("%.5f", s.TrainLoss),
			"testLoss", fmt.Sprintf("%.5f", s.TestLoss),
			"testAccuracy", fmt.Sprintf("%.2f%%", s.TestAccuracy*100),
			"lr", s.LR,
			"elapsed", time.Since(p.epochStart).Round(time.Millisecond).String())
	case AfterFit:
		s.Log.Info("done", "elapsed", time.Since(p.fitStart).Round(time.Second).String())
	}
	return Continue
}

func remaining(batches int, rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(batches) / rate * float64(time.Second)).Round(time.Second)
}

// History records the metrics of every completed epoch.
type History struct {
	TrainLoss    []float64
	TestLoss     []float64
	TestAccuracy []float64
	LR           []float64
}

// Run implements Callback.
func (h *History) Run(point Point, s *State) Signal {
	if point == AfterEpoch {
		h.TrainLoss = append(h.TrainLoss, float64(s.TrainLoss))
		h.TestLoss = append(h.TestLoss, float64(s.TestLoss))
		h.TestAccuracy = append(h.TestAccuracy, float64(s.TestAccuracy))
		h.LR = append(h.LR, float64(s.LR))
	}
	return Continue
}

// Len returns the number of recorded epochs.
func (h *History) Len() int { return len(h.TrainLoss) }

// series returns the lower-is-better values of m per epoch.
func (h *History) series(m Metric) []float64 {
	switch m {
	case MetricTrainLoss:
		return h.TrainLoss
	case MetricTestLoss:
		return h.TestLoss
	case MetricTestAccuracy:
		inv := make([]float64, len(h.TestAccuracy))
		floats.AddConst(1, floats.ScaleTo(inv, -1, h.TestAccuracy))
		return inv
	default:
		panic(fmt.Sprintf("history: unknown metric %d", int(m)))
	}
}

// Best returns the epoch with the best value of m and that value as
// stored (accuracy is returned as accuracy, not 1 - accuracy). Returns
// -1 with no epochs recorded.
func (h *History) Best(m Metric) (epoch int, value float64) {
	vals := h.series(m)
	if len(vals) == 0 {
		return -1, 0
	}
	epoch = floats.MinIdx(vals)
	if m == MetricTestAccuracy {
		return epoch, h.TestAccuracy[epoch]
	}
	return epoch, vals[epoch]
}

// Mean returns the average of m over the last n epochs (all epochs when n
// is not positive or exceeds the history), as stored.
func (h *History) Mean(m Metric, n int) float64 {
	vals := h.TestAccuracy
	if m != MetricTestAccuracy {
		vals = h.series(m)
	}
	if n <= 0 || n > len(vals) {
		n = len(vals)
	}
	if n == 0 {
		return 0
	}
	return floats.Sum(vals[len(vals)-n:]) / float64(n)
}
