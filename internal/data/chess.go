package data

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/ember-ml/ember/internal/tensor"
)

// ChessLoaderConfig configures NewChessLoader.
type ChessLoaderConfig struct {
	BatchSize int // Positions per training batch (required)
	Threads   int // Parsing goroutines per batch; 0 defers loading to WaitForBatch

	// TestPositions is the number of positions, taken from the end of the
	// file, held out for evaluation (default: BatchSize). Negative values
	// disable the test set.
	TestPositions int

	// AccuracyScale is the bucket width used by ScaledRoundMatch when
	// counting correct evaluations (default: 1).
	AccuracyScale float32

	Log logr.Logger
}

type lineSpan struct {
	off int64
	n   int
}

// ChessSource reads positions from a text file with one "FEN|eval|wdl"
// record per line. Each position becomes ChessFeatures one-hot inputs from
// the point of view of the side to move and a single target, the eval.
//
// Lines are indexed once when the source is opened and read on demand, so
// the file is never held in memory.
type ChessSource struct {
	f       *os.File
	path    string
	train   []lineSpan
	test    []lineSpan
	threads int
}

// OpenChessSource indexes the records of the file at path.
func OpenChessSource(path string, testPositions, threads int) (*ChessSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chess data: %w", err)
	}

	spans, err := indexLines(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("index %s: %w", path, err)
	}

	testPositions = max(testPositions, 0)
	if testPositions >= len(spans) {
		f.Close()
		return nil, fmt.Errorf("%s: %w (%d positions, %d held out)", path, ErrEmptyDataset, len(spans), testPositions)
	}
	split := len(spans) - testPositions

	return &ChessSource{
		f:       f,
		path:    path,
		train:   spans[:split],
		test:    spans[split:],
		threads: threads,
	}, nil
}

// indexLines records the byte range of every line that is not blank once
// NUL characters are removed.
func indexLines(r io.Reader) ([]lineSpan, error) {
	var spans []lineSpan
	br := bufio.NewReaderSize(r, 1<<16)
	var off int64

	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if len(bytes.TrimSpace(cleanLine(line))) > 0 {
				spans = append(spans, lineSpan{off: off, n: len(line)})
			}
			off += int64(len(line))
		}
		if errors.Is(err, io.EOF) {
			return spans, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// cleanLine drops NULs (left behind by UTF-16 text) and byte order marks.
func cleanLine(line []byte) []byte {
	line = bytes.ReplaceAll(line, []byte{0}, nil)
	line = bytes.TrimPrefix(line, []byte{0xFF, 0xFE})
	line = bytes.TrimPrefix(line, []byte{0xEF, 0xBB, 0xBF})
	return line
}

// Close releases the underlying file.
func (s *ChessSource) Close() error { return s.f.Close() }

// InputShape returns [ChessFeatures].
func (s *ChessSource) InputShape() tensor.Shape { return tensor.Shape{ChessFeatures} }

// TargetShape returns [1].
func (s *ChessSource) TargetShape() tensor.Shape { return tensor.Shape{1} }

// NumSamples returns the number of training positions.
func (s *ChessSource) NumSamples() int { return len(s.train) }

// NumTestSamples returns the number of held-out positions.
func (s *ChessSource) NumTestSamples() int { return len(s.test) }

// LoadBatch parses training positions batch*n .. batch*n+n-1, wrapping
// around at the end of the training lines.
func (s *ChessSource) LoadBatch(batch int, input, target *tensor.Tensor) error {
	n := input.Dim(0)
	spans := make([]lineSpan, n)
	for i := range spans {
		spans[i] = s.train[(batch*n+i)%len(s.train)]
	}
	return s.load(spans, input, target)
}

// TestSet parses the held-out positions.
func (s *ChessSource) TestSet() (input, target *tensor.Tensor, err error) {
	input = tensor.New(len(s.test), ChessFeatures)
	target = tensor.New(len(s.test), 1)
	if err := s.load(s.test, input, target); err != nil {
		return nil, nil, err
	}
	return input, target, nil
}

func (s *ChessSource) load(spans []lineSpan, input, target *tensor.Tensor) error {
	input.Zero()
	in, tg := input.Matrix(), target.Matrix()

	var g errgroup.Group
	g.SetLimit(max(s.threads, 1))
	for i, span := range spans {
		g.Go(func() error {
			buf := make([]byte, span.n)
			if _, err := s.f.ReadAt(buf, span.off); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read %s at offset %d: %w", s.path, span.off, err)
			}
			eval, err := parsePosition(string(cleanLine(buf)), in.Row(i))
			if err != nil {
				return err
			}
			tg.Row(i)[0] = eval
			return nil
		})
	}
	return g.Wait()
}

// parsePosition decodes one "FEN|eval|wdl" record into features and returns
// the eval. The wdl field is not used.
func parsePosition(line string, features []float32) (float32, error) {
	line = strings.TrimSpace(line)
	tokens := strings.Split(line, "|")
	if len(tokens) != 3 {
		return 0, fmt.Errorf("%w: expected 3 tokens, got %d: %q", ErrMalformedLine, len(tokens), line)
	}

	if err := encodeFEN(strings.TrimSpace(tokens[0]), features); err != nil {
		return 0, fmt.Errorf("%w: %v: %q", ErrMalformedLine, err, line)
	}

	eval, err := strconv.ParseFloat(strings.TrimSpace(tokens[1]), 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad eval: %q", ErrMalformedLine, line)
	}
	return float32(eval), nil
}

// NewChessLoader opens the file at path and wraps it in a DataLoader whose
// accuracy is ScaledRoundMatch(cfg.AccuracyScale).
func NewChessLoader(path string, cfg ChessLoaderConfig) (*Loader, *ChessSource, error) {
	if cfg.TestPositions == 0 {
		cfg.TestPositions = cfg.BatchSize
	}
	if cfg.AccuracyScale == 0 {
		cfg.AccuracyScale = 1
	}
	if cfg.Log.GetSink() == nil {
		cfg.Log = logr.Discard()
	}

	cfg.Log.Info("opening chess data", "path", path)
	src, err := OpenChessSource(path, cfg.TestPositions, cfg.Threads)
	if err != nil {
		return nil, nil, err
	}
	cfg.Log.Info("found "+humanize.Comma(int64(src.NumSamples()))+" positions",
		"test", src.NumTestSamples())

	l := NewLoader(src, Config{
		BatchSize: cfg.BatchSize,
		Threads:   cfg.Threads,
		Match:     ScaledRoundMatch(cfg.AccuracyScale),
		Log:       cfg.Log,
	})
	return l, src, nil
}
