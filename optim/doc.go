// Copyright 2025 The Ember Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the parameter update rules of the Ember training
// engine.
//
// # Overview
//
// An optimizer owns one gradient accumulator per trainable layer of a
// network. The training loop adds batch gradients with Accumulate,
// optionally rescales them with ClipGrad, and applies them with Step:
//   - SGD: stochastic gradient descent with momentum
//   - Adam: adaptive moments with decoupled weight decay
//
// # Basic Usage
//
//	import (
//	    "github.com/ember-ml/ember/nn"
//	    "github.com/ember-ml/ember/optim"
//	)
//
//	func main() {
//	    net := nn.NewNetwork(nn.NewInput(2), nn.NewLinear(1))
//	    opt := optim.NewAdam(net, optim.AdamConfig{})
//
//	    opt.ZeroGrad()
//	    // ... forward, loss, opt.Accumulate per layer ...
//	    opt.ClipGrad(1)
//	    opt.Step(0.001)
//	}
package optim
