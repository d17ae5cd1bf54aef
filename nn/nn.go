// Copyright 2025 The Ember Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/ember-ml/ember/internal/nn"
)

// Layer is the uniform interface of every layer.
type Layer = nn.Layer

// Kind identifies a layer variant.
type Kind = nn.Kind

// Layer kinds.
const (
	KindInput       = nn.KindInput
	KindLinear      = nn.KindLinear
	KindConvolution = nn.KindConvolution
	KindMaxPool     = nn.KindMaxPool
	KindFlatten     = nn.KindFlatten
	KindReLU        = nn.KindReLU
	KindCReLU       = nn.KindCReLU
	KindSoftmax     = nn.KindSoftmax
)

// Gradient holds the gradients produced by one layer's backward pass.
type Gradient = nn.Gradient

// Layers

// Input is the first layer of every network.
type Input = nn.Input

// NewInput creates an input layer with the given per-sample shape.
func NewInput(dims ...int) *Input {
	return nn.NewInput(dims...)
}

// Linear is a fully connected layer.
type Linear = nn.Linear

// NewLinear creates a fully connected layer with out neurons.
func NewLinear(out int) *Linear {
	return nn.NewLinear(out)
}

// Convolution is a 2D convolution over height x width x channels input.
type Convolution = nn.Convolution

// NewConvolution creates a convolution with the given number of square
// kernels of side size, moved by stride.
func NewConvolution(kernels, size, stride int) *Convolution {
	return nn.NewConvolution(kernels, size, stride)
}

// MaxPool is non-overlapping max pooling.
type MaxPool = nn.MaxPool

// NewMaxPool creates a max pooling layer with a square window.
func NewMaxPool(window int) *MaxPool {
	return nn.NewMaxPool(window)
}

// Flatten reshapes each sample to one dimension.
type Flatten = nn.Flatten

// NewFlatten creates a flatten layer.
func NewFlatten() *Flatten {
	return nn.NewFlatten()
}

// Activations

// ReLU is max(x, 0).
type ReLU = nn.ReLU

// NewReLU creates a ReLU activation.
func NewReLU() *ReLU {
	return nn.NewReLU()
}

// CReLU clamps to [0, 1].
type CReLU = nn.CReLU

// NewCReLU creates a clipped ReLU activation.
func NewCReLU() *CReLU {
	return nn.NewCReLU()
}

// Softmax normalizes each sample into a probability distribution.
type Softmax = nn.Softmax

// NewSoftmax creates a softmax activation.
func NewSoftmax() *Softmax {
	return nn.NewSoftmax()
}

// Network

// Network is an ordered stack of layers.
type Network = nn.Network

// NetworkConfig configures network construction.
type NetworkConfig = nn.NetworkConfig

// InitMethod selects the weight initializer.
type InitMethod = nn.InitMethod

// Weight initializers.
const (
	Xavier = nn.Xavier
	He     = nn.He
)

// NewNetwork builds a network with Xavier initialization.
//
// Example:
//
//	net := nn.NewNetwork(
//	    nn.NewInput(768),
//	    nn.NewLinear(64),
//	    nn.NewCReLU(),
//	    nn.NewLinear(1),
//	)
func NewNetwork(layers ...Layer) *Network {
	return nn.NewNetwork(layers...)
}

// NewNetworkWithConfig builds a network with the given initializer and seed.
func NewNetworkWithConfig(cfg NetworkConfig, layers ...Layer) *Network {
	return nn.NewNetworkWithConfig(cfg, layers...)
}

// Losses

// Loss scores a batch of outputs against targets.
type Loss = nn.Loss

// MSE is the mean squared error.
type MSE = nn.MSE

// CrossEntropy is the categorical cross-entropy of probabilities.
type CrossEntropy = nn.CrossEntropy

// SigmoidMSE compares squashed outputs and targets.
type SigmoidMSE = nn.SigmoidMSE

// NewSigmoidMSE returns a SigmoidMSE with the default chess eval curve.
func NewSigmoidMSE() SigmoidMSE {
	return nn.NewSigmoidMSE()
}

// NewStretchedSigmoidMSE returns a SigmoidMSE whose curve is stretched
// horizontally by stretch.
func NewStretchedSigmoidMSE(stretch float32) SigmoidMSE {
	return nn.NewStretchedSigmoidMSE(stretch)
}
