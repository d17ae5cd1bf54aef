package data

import (
	"fmt"
	"image"
	_ "image/gif" // register GIF
	_ "image/jpeg"
	_ "image/png"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	_ "golang.org/x/image/bmp" // register BMP
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/ember-ml/ember/internal/tensor"
)

// ImageLoaderConfig configures NewImageLoader.
type ImageLoaderConfig struct {
	BatchSize int // Images per training batch (required)
	Threads   int // Decoding goroutines per batch; 0 defers loading to WaitForBatch

	// TrainSplit is the fraction of each class used for training; the rest
	// is held out (default: 0.9).
	TrainSplit float32

	// Width and Height of the network input. Images of another size are
	// resized with nearest-neighbour sampling. Zero takes the size of the
	// first image found.
	Width, Height int

	// Seed makes batch sampling reproducible. Zero picks a random seed.
	Seed uint64

	Log logr.Logger
}

type class struct {
	name  string
	train []string
	test  []string
}

// ImageSource serves greyscale images from a directory with one
// sub-directory per class:
//
//	root/
//	  cat/  001.png 002.png ...
//	  dog/  001.png ...
//
// Classes are numbered in name order. Each training batch draws every
// sample by picking a class uniformly and then one of its training images
// uniformly. Inputs are [Height, Width, 1] in [0, 1]; targets are one-hot.
type ImageSource struct {
	classes       []class
	width, height int
	seed          uint64
	threads       int
	numTrain      int
}

// OpenImageSource scans root for classes and images.
func OpenImageSource(root string, cfg ImageLoaderConfig) (*ImageSource, error) {
	if cfg.TrainSplit == 0 {
		cfg.TrainSplit = 0.9
	}
	if cfg.TrainSplit < 0 || cfg.TrainSplit > 1 {
		return nil, fmt.Errorf("data: train split %v outside (0, 1]", cfg.TrainSplit)
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Uint64()
	}

	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("open image data: %w", err)
	}

	s := &ImageSource{width: cfg.Width, height: cfg.Height, seed: cfg.Seed, threads: cfg.Threads}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(root, d.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read class %s: %w", d.Name(), err)
		}

		var files []string
		for _, e := range entries {
			if e.Type().IsRegular() {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("class %s: %w", d.Name(), ErrEmptyDataset)
		}

		split := min(max(int(float32(len(files))*cfg.TrainSplit), 1), len(files))
		s.classes = append(s.classes, class{name: d.Name(), train: files[:split], test: files[split:]})
		s.numTrain += split
	}
	if len(s.classes) == 0 {
		return nil, fmt.Errorf("%s: %w", root, ErrNoClasses)
	}

	if s.width == 0 || s.height == 0 {
		w, h, err := imageSize(s.classes[0].train[0])
		if err != nil {
			return nil, err
		}
		if s.width == 0 {
			s.width = w
		}
		if s.height == 0 {
			s.height = h
		}
	}
	return s, nil
}

func imageSize(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	c, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return c.Width, c.Height, nil
}

// Classes returns the class names in label order.
func (s *ImageSource) Classes() []string {
	names := make([]string, len(s.classes))
	for i, c := range s.classes {
		names[i] = c.name
	}
	return names
}

// InputShape returns [Height, Width, 1].
func (s *ImageSource) InputShape() tensor.Shape { return tensor.Shape{s.height, s.width, 1} }

// TargetShape returns [classes].
func (s *ImageSource) TargetShape() tensor.Shape { return tensor.Shape{len(s.classes)} }

// NumSamples returns the number of training images.
func (s *ImageSource) NumSamples() int { return s.numTrain }

// NumTestSamples returns the number of held-out images.
func (s *ImageSource) NumTestSamples() int { return s.numSamples() - s.numTrain }

func (s *ImageSource) numSamples() int {
	n := 0
	for _, c := range s.classes {
		n += len(c.train) + len(c.test)
	}
	return n
}

type labelled struct {
	path  string
	label int
}

// LoadBatch samples a training batch. The same batch number and seed
// always give the same images.
func (s *ImageSource) LoadBatch(batch int, input, target *tensor.Tensor) error {
	rng := rand.New(rand.NewPCG(s.seed, uint64(batch)))
	picks := make([]labelled, input.Dim(0))
	for i := range picks {
		label := rng.IntN(len(s.classes))
		train := s.classes[label].train
		picks[i] = labelled{path: train[rng.IntN(len(train))], label: label}
	}
	return s.load(picks, input, target)
}

// TestSet decodes every held-out image, grouped by class.
func (s *ImageSource) TestSet() (input, target *tensor.Tensor, err error) {
	var picks []labelled
	for label, c := range s.classes {
		for _, path := range c.test {
			picks = append(picks, labelled{path: path, label: label})
		}
	}

	input = tensor.New(s.InputShape().WithBatch(len(picks))...)
	target = tensor.New(s.TargetShape().WithBatch(len(picks))...)
	if err := s.load(picks, input, target); err != nil {
		return nil, nil, err
	}
	return input, target, nil
}

func (s *ImageSource) load(picks []labelled, input, target *tensor.Tensor) error {
	target.Zero()
	in, tg := input.Matrix(), target.Matrix()

	var g errgroup.Group
	g.SetLimit(max(s.threads, 1))
	for i, p := range picks {
		g.Go(func() error {
			if err := s.decode(p.path, in.Row(i)); err != nil {
				return err
			}
			tg.Row(i)[p.label] = 1
			return nil
		})
	}
	return g.Wait()
}

// decode reads an image as greyscale scaled to the source size.
func (s *ImageSource) decode(path string, dst []float32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	gray := image.NewGray(image.Rect(0, 0, s.width, s.height))
	draw.NearestNeighbor.Scale(gray, gray.Bounds(), src, src.Bounds(), draw.Src, nil)

	for y := 0; y < s.height; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+s.width]
		for x, v := range row {
			dst[y*s.width+x] = float32(v) / 255
		}
	}
	return nil
}

// NewImageLoader scans root and wraps it in a DataLoader that counts
// correct predictions with ArgmaxMatch.
func NewImageLoader(root string, cfg ImageLoaderConfig) (*Loader, *ImageSource, error) {
	if cfg.Log.GetSink() == nil {
		cfg.Log = logr.Discard()
	}

	cfg.Log.Info("opening image data", "dir", root)
	src, err := OpenImageSource(root, cfg)
	if err != nil {
		return nil, nil, err
	}
	cfg.Log.Info(fmt.Sprintf("found %d classes", len(src.classes)),
		"train", src.NumSamples(), "test", src.NumTestSamples(),
		"width", src.width, "height", src.height)

	l := NewLoader(src, Config{
		BatchSize: cfg.BatchSize,
		Threads:   cfg.Threads,
		Match:     ArgmaxMatch,
		Log:       cfg.Log,
	})
	return l, src, nil
}
