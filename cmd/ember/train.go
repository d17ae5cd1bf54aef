package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/ember-ml/ember/checkpoint"
	"github.com/ember-ml/ember/data"
	"github.com/ember-ml/ember/nn"
	"github.com/ember-ml/ember/optim"
	"github.com/ember-ml/ember/train"
)

func newTrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a network",
	}
	cmd.AddCommand(newTrainImagesCommand(), newTrainChessCommand())
	return cmd
}

func newTrainImagesCommand() *cobra.Command {
	var (
		fit           fitFlags
		cfg           data.ImageLoaderConfig
		kernels       int
		width, height int
	)
	cmd := &cobra.Command{
		Use:   "images DIR",
		Short: "Train a classifier on a directory with one sub-directory per class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logr.FromContextOrDiscard(cmd.Context())
			cfg.BatchSize, cfg.Threads, cfg.Seed = fit.batchSize, fit.threads, fit.seed
			cfg.Width, cfg.Height = width, height
			cfg.Log = log.WithName("data")

			loader, src, err := data.NewImageLoader(args[0], cfg)
			if err != nil {
				return err
			}
			shape := src.InputShape()
			if shape[0] < 3 || shape[1] < 3 {
				return fmt.Errorf("images of %dx%d are smaller than the 3x3 kernel", shape[1], shape[0])
			}

			net := imageNetwork(shape[0], shape[1], kernels, len(src.Classes()),
				nn.NetworkConfig{Init: fit.init, Seed: fit.seed})
			return fitNetwork(cmd, log, &fit, net, loader, nn.CrossEntropy{})
		},
	}

	fs := cmd.Flags()
	fit.register(fs, fitFlags{
		epochs:       20,
		lr:           0.001,
		batchSize:    64,
		threads:      4,
		optimizer:    "adam",
		init:         nn.He,
		metric:       train.MetricTestLoss,
		dropPatience: 2,
		dropFactor:   0.5,
		stopPatience: 5,
		every:        100,
		store:        "file",
		name:         "images.bin",
	})
	fs.Float32Var(&cfg.TrainSplit, "split", 0.9, "fraction of each class used for training")
	fs.IntVar(&width, "width", 0, "input width (0: size of the first image)")
	fs.IntVar(&height, "height", 0, "input height (0: size of the first image)")
	fs.IntVar(&kernels, "kernels", 16, "convolution kernels")
	return cmd
}

func newTrainChessCommand() *cobra.Command {
	var (
		fit       fitFlags
		cfg       data.ChessLoaderConfig
		hidden    int
		evalScale float32
	)
	cmd := &cobra.Command{
		Use:   "chess FILE",
		Short: `Train a position evaluator on "FEN|eval|wdl" lines`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logr.FromContextOrDiscard(cmd.Context())
			if evalScale <= 0 {
				return fmt.Errorf("eval scale must be positive, got %g", evalScale)
			}
			cfg.BatchSize, cfg.Threads = fit.batchSize, fit.threads
			cfg.AccuracyScale = evalScale
			cfg.Log = log.WithName("data")

			loader, src, err := data.NewChessLoader(args[0], cfg)
			if err != nil {
				return err
			}
			defer src.Close()

			net := chessNetwork(hidden, nn.NetworkConfig{Init: fit.init, Seed: fit.seed})
			return fitNetwork(cmd, log, &fit, net, loader, nn.NewStretchedSigmoidMSE(evalScale))
		},
	}

	fs := cmd.Flags()
	fit.register(fs, fitFlags{
		epochs:       40,
		lr:           0.005,
		batchSize:    16 * 1024,
		threads:      1,
		optimizer:    "adam",
		init:         nn.Xavier,
		metric:       train.MetricTrainLoss,
		dropPatience: 3,
		dropFactor:   0.3,
		stopPatience: 5,
		every:        100,
		store:        "file",
		name:         "net.bin",
	})
	fs.IntVar(&hidden, "hidden", 4096, "hidden layer width")
	fs.Float32Var(&evalScale, "eval-scale", 400, "evaluation units per sigmoid unit, also the accuracy bucket width")
	fs.IntVar(&cfg.TestPositions, "test-positions", 0, "positions held out from the end of the file (0: one batch, negative: none)")
	return cmd
}

// fitNetwork wires the optimizer, callbacks and checkpoint store around net
// and trains it.
func fitNetwork(cmd *cobra.Command, log logr.Logger, fit *fitFlags, net *nn.Network,
	loader data.DataLoader, loss nn.Loss) (err error) {
	opt, err := newOptimizer(fit.optimizer, net)
	if err != nil {
		return err
	}

	history := &train.History{}
	callbacks := []train.Callback{history, train.NewProgressLogger(fit.every)}
	if fit.dropPatience >= 0 {
		callbacks = append(callbacks, train.NewDropLROnPlateau(fit.dropPatience, fit.dropFactor, fit.metric))
	}
	if fit.stopPatience >= 0 {
		callbacks = append(callbacks, train.NewStopWhenNoProgress(fit.stopPatience, fit.metric))
	}

	var autosave *train.AutosaveBest
	if fit.checkpointDir != "" {
		var (
			store  checkpoint.Store
			closer io.Closer
		)
		store, closer, err = openStore(fit.store, fit.checkpointDir)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, closer.Close()) }()

		if fit.resume {
			if err := store.Load(fit.name, net); err != nil {
				return fmt.Errorf("resume from %s: %w", fit.name, err)
			}
			log.Info("resumed", "checkpoint", fit.name)
		}
		autosave = train.NewAutosaveBest(store, fit.name, fit.metric)
		callbacks = append(callbacks, autosave)
	}

	fmt.Fprintln(cmd.OutOrStdout(), net)

	learner := train.NewLearner(net, loader, opt, loss,
		train.LearnerConfig{MaxGradNorm: fit.maxGradNorm, Log: log.WithName("train")}, callbacks...)
	if err := learner.Fit(cmd.Context(), fit.lr, fit.epochs); err != nil {
		return err
	}

	if epoch, value := history.Best(fit.metric); epoch >= 0 {
		log.Info("best epoch", "epoch", epoch, "metric", fit.metric.String(), "value", value)
	}
	if autosave != nil {
		log.Info("checkpoints", "saves", autosave.Saves(), "size", humanize.Bytes(uint64(checkpoint.Size(net))))
		return autosave.Err()
	}
	return nil
}

func newOptimizer(name string, net *nn.Network) (optim.Optimizer, error) {
	switch name {
	case "adam":
		return optim.NewAdam(net, optim.AdamConfig{}), nil
	case "sgd":
		return optim.NewSGD(net, optim.SGDConfig{}), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q: must be adam or sgd", name)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(kind, dir string) (checkpoint.Store, io.Closer, error) {
	switch kind {
	case "file":
		store, err := checkpoint.NewFileStore(dir)
		return store, nopCloser{}, err
	case "badger":
		store, err := checkpoint.OpenBadgerStore(dir)
		return store, store, err
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint store %q: must be file or badger", kind)
	}
}
