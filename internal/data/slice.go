package data

import (
	"fmt"

	"github.com/ember-ml/ember/internal/tensor"
)

// Dataset is a set of samples held in memory: Inputs [n, ...] and
// Targets [n, ...] with the same leading dimension.
type Dataset struct {
	Inputs  *tensor.Tensor
	Targets *tensor.Tensor
}

// Len returns the number of samples.
func (d Dataset) Len() int {
	if d.Inputs == nil {
		return 0
	}
	return d.Inputs.Dim(0)
}

// SliceSource serves batches from in-memory datasets, in order, wrapping
// around at the end of the training set.
type SliceSource struct {
	train, test Dataset
}

// NewSliceSource creates a Source over train and test. The test set may be
// the zero Dataset; otherwise it must share the training sample shape.
func NewSliceSource(train, test Dataset) (*SliceSource, error) {
	if train.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	if test.Inputs == nil {
		test = Dataset{
			Inputs:  tensor.New(train.Inputs.Shape()[1:].WithBatch(0)...),
			Targets: tensor.New(train.Targets.Shape()[1:].WithBatch(0)...),
		}
	}
	for _, d := range []Dataset{train, test} {
		if d.Inputs.Dim(0) != d.Targets.Dim(0) {
			return nil, fmt.Errorf("data: %d inputs but %d targets", d.Inputs.Dim(0), d.Targets.Dim(0))
		}
	}
	if !test.Inputs.Shape()[1:].Equal(train.Inputs.Shape()[1:]) ||
		!test.Targets.Shape()[1:].Equal(train.Targets.Shape()[1:]) {
		return nil, fmt.Errorf("data: test shapes %v/%v differ from training shapes %v/%v",
			test.Inputs.Shape(), test.Targets.Shape(), train.Inputs.Shape(), train.Targets.Shape())
	}
	return &SliceSource{train: train, test: test}, nil
}

// InputShape returns the per-sample input shape.
func (s *SliceSource) InputShape() tensor.Shape { return s.train.Inputs.Shape()[1:] }

// TargetShape returns the per-sample target shape.
func (s *SliceSource) TargetShape() tensor.Shape { return s.train.Targets.Shape()[1:] }

// NumSamples returns the training sample count.
func (s *SliceSource) NumSamples() int { return s.train.Len() }

// LoadBatch copies training samples batch*n .. batch*n+n-1 (mod the
// training set size).
func (s *SliceSource) LoadBatch(batch int, input, target *tensor.Tensor) error {
	n := input.Dim(0)
	src := s.train
	in, tg := src.Inputs.Matrix(), src.Targets.Matrix()
	dstIn, dstTg := input.Matrix(), target.Matrix()

	for i := 0; i < n; i++ {
		j := (batch*n + i) % src.Len()
		copy(dstIn.Row(i), in.Row(j))
		copy(dstTg.Row(i), tg.Row(j))
	}
	return nil
}

// TestSet returns copies of the held-out samples.
func (s *SliceSource) TestSet() (input, target *tensor.Tensor, err error) {
	return s.test.Inputs.Clone(), s.test.Targets.Clone(), nil
}

// NewSliceLoader is NewLoader over a SliceSource.
func NewSliceLoader(train, test Dataset, cfg Config) (*Loader, error) {
	src, err := NewSliceSource(train, test)
	if err != nil {
		return nil, err
	}
	return NewLoader(src, cfg), nil
}
