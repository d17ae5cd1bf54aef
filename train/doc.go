// Copyright 2025 The Ember Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package train provides the Learner, the training loop of the Ember
// engine, and its callbacks.
//
// # Overview
//
// Fit runs epochs of mini-batch gradient descent over a DataLoader and
// evaluates on the test set after each epoch. Callbacks observe and steer
// training at six points:
//
//	BeforeFit
//	  BeforeEpoch
//	    BeforeBatch, step, AfterBatch   (per batch)
//	  evaluate
//	  AfterEpoch
//	AfterFit
//
// A callback returns Continue or a cancellation signal:
//   - CancelBatch (BeforeBatch): skip this batch's step
//   - CancelEpoch (BeforeEpoch, BeforeBatch, AfterBatch): end the epoch
//   - CancelFit (any point but AfterFit): stop training
//
// # Basic Usage
//
//	import (
//	    "github.com/ember-ml/ember/nn"
//	    "github.com/ember-ml/ember/optim"
//	    "github.com/ember-ml/ember/train"
//	)
//
//	func main() {
//	    learner := train.NewLearner(net, loader, optim.NewAdam(net, optim.AdamConfig{}),
//	        nn.CrossEntropy{}, train.LearnerConfig{Log: log},
//	        train.NewDropLROnPlateau(2, 0.5, train.MetricTestLoss),
//	        train.NewStopWhenNoProgress(5, train.MetricTestLoss),
//	    )
//	    if err := learner.Fit(ctx, 0.001, 20); err != nil {
//	        log.Error(err, "training failed")
//	    }
//	}
package train
