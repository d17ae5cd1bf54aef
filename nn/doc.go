// Copyright 2025 The Ember Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the layers, networks and loss functions of the
// Ember training engine.
//
// # Overview
//
// This package contains:
//   - Input, Linear, Convolution, MaxPool, Flatten layers
//   - ReLU, CReLU, Softmax activations
//   - Network: an ordered layer stack with Xavier or He initialization
//   - MSE, SigmoidMSE and CrossEntropy losses
//
// Every layer works on whole batches: values are [batch, shape...] and
// backward passes return gradients already averaged over the batch.
//
// # Basic Usage
//
//	import (
//	    "github.com/ember-ml/ember/nn"
//	    "github.com/ember-ml/ember/tensor"
//	)
//
//	func main() {
//	    net := nn.NewNetwork(
//	        nn.NewInput(28, 28, 1),
//	        nn.NewConvolution(16, 3, 1),
//	        nn.NewReLU(),
//	        nn.NewMaxPool(2),
//	        nn.NewFlatten(),
//	        nn.NewLinear(10),
//	        nn.NewSoftmax(),
//	    )
//	    fmt.Println(net)
//
//	    net.Forward(tensor.New(32, 28, 28, 1))
//	    probs := net.Output() // [32, 10]
//	}
//
// # Layout
//
// Images are height x width x channels per sample. Convolution kernels
// slide with the given stride without padding; MaxPool windows do not
// overlap and must divide the input size.
package nn
