// Package data feeds batches to the Ember training loop.
//
// A DataLoader is double buffered: while the training loop works on the
// active buffer, the next batch is loaded into the inactive one. Concrete
// datasets implement the smaller Source interface and are wrapped by
// NewLoader, which owns the buffers and the prefetch task.
package data

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/ember-ml/ember/internal/tensor"
)

// Sentinel errors returned by the loaders.
var (
	// ErrNoClasses is returned when an image directory has no class
	// sub-directories.
	ErrNoClasses = errors.New("data: no class directories found")

	// ErrEmptyDataset is returned when a source has no training samples.
	ErrEmptyDataset = errors.New("data: dataset has no training samples")

	// ErrMalformedLine is returned for chess text lines that cannot be parsed.
	ErrMalformedLine = errors.New("data: malformed line")
)

// DataLoader is the contract between the training loop and a dataset.
//
// The loop calls, per batch: WaitForBatch, SwapBuffers, AsyncPreloadBatch,
// then reads BatchData. WaitForBatch is the only call that blocks.
type DataLoader interface {
	// AsyncPreloadBatch starts loading the next training batch into the
	// inactive buffer.
	AsyncPreloadBatch()

	// WaitForBatch blocks until the outstanding preload has finished and
	// returns its error. With no preload outstanding it returns nil.
	WaitForBatch() error

	// SwapBuffers exchanges the active and inactive buffers.
	SwapBuffers()

	// BatchData returns the active buffer: inputs [n, inputShape...] and
	// targets [n, targetShape...].
	BatchData() (input, target *tensor.Tensor)

	// LoadTestSet replaces the active buffer with the held-out set.
	LoadTestSet() error

	// CountCorrect returns how many rows of output match target.
	CountCorrect(output, target *tensor.Tensor) int

	// NumSamples returns the number of training samples per epoch.
	NumSamples() int

	// BatchSize returns the number of samples per training batch.
	BatchSize() int
}

// Source is a dataset that can fill batches on request.
//
// LoadBatch may be called from a goroutine other than the training loop,
// but never concurrently with itself or TestSet. The Loader finishes any
// outstanding preload before it asks for the test set.
type Source interface {
	// InputShape and TargetShape are the per-sample dimensions.
	InputShape() tensor.Shape
	TargetShape() tensor.Shape

	// NumSamples returns the number of training samples.
	NumSamples() int

	// LoadBatch fills input [n, InputShape()...] and target
	// [n, TargetShape()...] with the samples of training batch number
	// batch. Sources wrap around at the end of their training data.
	LoadBatch(batch int, input, target *tensor.Tensor) error

	// TestSet returns the held-out samples.
	TestSet() (input, target *tensor.Tensor, err error)
}

// Config configures a Loader.
type Config struct {
	BatchSize int // Samples per training batch (required)

	// Threads is the number of goroutines a source may use to decode one
	// batch. With zero threads nothing runs in the background: the preload
	// is deferred and executed by WaitForBatch.
	Threads int

	// Match counts correct predictions (default: ArgmaxMatch).
	Match Matcher

	Log logr.Logger
}

type buffer struct {
	input  *tensor.Tensor
	target *tensor.Tensor
}

// Loader implements DataLoader over a Source.
type Loader struct {
	src     Source
	cfg     Config
	buffers [2]buffer
	active  int
	next    int // next training batch number

	pending  *errgroup.Group
	deferred func() error
}

// NewLoader wraps src in a double-buffered DataLoader.
func NewLoader(src Source, cfg Config) *Loader {
	if cfg.BatchSize <= 0 {
		panic(fmt.Sprintf("data: batch size must be positive, got %d", cfg.BatchSize))
	}
	if cfg.Match == nil {
		cfg.Match = ArgmaxMatch
	}
	if cfg.Log.GetSink() == nil {
		cfg.Log = logr.Discard()
	}

	l := &Loader{src: src, cfg: cfg}
	for i := range l.buffers {
		l.buffers[i] = buffer{
			input:  tensor.New(src.InputShape().WithBatch(cfg.BatchSize)...),
			target: tensor.New(src.TargetShape().WithBatch(cfg.BatchSize)...),
		}
	}
	return l
}

// Source returns the wrapped dataset.
func (l *Loader) Source() Source { return l.src }

// AsyncPreloadBatch starts loading the next batch into the inactive buffer.
func (l *Loader) AsyncPreloadBatch() {
	if l.pending != nil || l.deferred != nil {
		panic("data: preload started while another is outstanding")
	}

	buf := &l.buffers[l.active^1]
	l.fit(buf)
	batch := l.next
	l.next++

	load := func() error {
		if err := l.src.LoadBatch(batch, buf.input, buf.target); err != nil {
			return fmt.Errorf("load batch %d: %w", batch, err)
		}
		return nil
	}

	if l.cfg.Threads == 0 {
		l.deferred = load
		return
	}
	l.pending = new(errgroup.Group)
	l.pending.Go(load)
}

// fit restores the batch shape of a buffer that last held the test set.
func (l *Loader) fit(buf *buffer) {
	wantIn := l.src.InputShape().WithBatch(l.cfg.BatchSize)
	if !buf.input.Shape().Equal(wantIn) {
		buf.input.Resize(wantIn...)
	}
	wantTarget := l.src.TargetShape().WithBatch(l.cfg.BatchSize)
	if !buf.target.Shape().Equal(wantTarget) {
		buf.target.Resize(wantTarget...)
	}
}

// WaitForBatch blocks until the outstanding preload has finished.
func (l *Loader) WaitForBatch() error {
	if load := l.deferred; load != nil {
		l.deferred = nil
		return load()
	}
	if g := l.pending; g != nil {
		l.pending = nil
		return g.Wait()
	}
	return nil
}

// SwapBuffers exchanges the active and inactive buffers.
func (l *Loader) SwapBuffers() { l.active ^= 1 }

// BatchData returns the active buffer.
func (l *Loader) BatchData() (input, target *tensor.Tensor) {
	buf := l.buffers[l.active]
	return buf.input, buf.target
}

// LoadTestSet replaces the active buffer with the held-out samples. It
// first waits for the outstanding preload, which stays in the inactive
// buffer for the next SwapBuffers.
func (l *Loader) LoadTestSet() error {
	if err := l.WaitForBatch(); err != nil {
		return err
	}
	input, target, err := l.src.TestSet()
	if err != nil {
		return fmt.Errorf("load test set: %w", err)
	}
	if input.Dim(0) != target.Dim(0) {
		panic(fmt.Sprintf("data: test inputs %v and targets %v differ in sample count", input, target))
	}
	l.buffers[l.active] = buffer{input: input, target: target}
	l.cfg.Log.V(1).Info("loaded test set", "samples", input.Dim(0))
	return nil
}

// CountCorrect applies the configured Matcher.
func (l *Loader) CountCorrect(output, target *tensor.Tensor) int {
	return l.cfg.Match(output, target)
}

// NumSamples returns the source's training sample count.
func (l *Loader) NumSamples() int { return l.src.NumSamples() }

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.cfg.BatchSize }
