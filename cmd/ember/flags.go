package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/pflag"

	"github.com/ember-ml/ember/nn"
	"github.com/ember-ml/ember/train"
)

var metricNames = map[string]train.Metric{
	"train-loss":    train.MetricTrainLoss,
	"test-loss":     train.MetricTestLoss,
	"test-accuracy": train.MetricTestAccuracy,
}

var initNames = map[string]nn.InitMethod{
	"xavier": nn.Xavier,
	"he":     nn.He,
}

// enumValue is a pflag.Value accepting one of a fixed set of names.
type enumValue[T comparable] struct {
	target  *T
	choices map[string]T
}

func newEnumValue[T comparable](target *T, choices map[string]T) *enumValue[T] {
	return &enumValue[T]{target: target, choices: choices}
}

func (e *enumValue[T]) String() string {
	name, _ := lo.FindKey(e.choices, *e.target)
	return name
}

func (e *enumValue[T]) Set(s string) error {
	v, ok := e.choices[strings.ToLower(s)]
	if !ok {
		return fmt.Errorf("must be one of %s", strings.Join(e.names(), ", "))
	}
	*e.target = v
	return nil
}

func (e *enumValue[T]) Type() string { return "string" }

func (e *enumValue[T]) names() []string {
	names := lo.Keys(e.choices)
	slices.Sort(names)
	return names
}

// fitFlags are shared by every train subcommand.
type fitFlags struct {
	epochs      int
	lr          float32
	batchSize   int
	threads     int
	optimizer   string
	maxGradNorm float32
	seed        uint64
	init        nn.InitMethod

	metric       train.Metric
	dropPatience int
	dropFactor   float32
	stopPatience int
	every        int

	checkpointDir string
	store         string
	name          string
	resume        bool
}

func (f *fitFlags) register(fs *pflag.FlagSet, defaults fitFlags) {
	*f = defaults
	fs.IntVarP(&f.epochs, "epochs", "e", f.epochs, "training epochs")
	fs.Float32Var(&f.lr, "lr", f.lr, "initial learning rate")
	fs.IntVarP(&f.batchSize, "batch-size", "b", f.batchSize, "samples per batch")
	fs.IntVarP(&f.threads, "threads", "j", f.threads, "loader goroutines (0: load synchronously)")
	fs.StringVar(&f.optimizer, "optimizer", f.optimizer, "optimizer: adam or sgd")
	fs.Float32Var(&f.maxGradNorm, "max-grad-norm", f.maxGradNorm, "gradient clipping norm (negative disables)")
	fs.Uint64Var(&f.seed, "seed", f.seed, "initialization and sampling seed (0: random)")
	fs.Var(newEnumValue(&f.init, initNames), "init", "weight initializer: xavier or he")

	fs.Var(newEnumValue(&f.metric, metricNames), "metric", "metric watched by callbacks: train-loss, test-loss or test-accuracy")
	fs.IntVar(&f.dropPatience, "drop-patience", f.dropPatience, "epochs without progress before the learning rate drops (negative disables)")
	fs.Float32Var(&f.dropFactor, "drop-factor", f.dropFactor, "learning rate multiplier on plateau")
	fs.IntVar(&f.stopPatience, "stop-patience", f.stopPatience, "epochs without progress before training stops (negative disables)")
	fs.IntVar(&f.every, "log-every", f.every, "batches between progress messages at -v 1")

	fs.StringVar(&f.checkpointDir, "checkpoint-dir", f.checkpointDir, "checkpoint directory (empty disables autosave)")
	fs.StringVar(&f.store, "store", f.store, "checkpoint store: file or badger")
	fs.StringVar(&f.name, "name", f.name, "checkpoint name")
	fs.BoolVar(&f.resume, "resume", f.resume, "load the named checkpoint before training")
}
