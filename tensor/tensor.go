// Copyright 2025 The Ember Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/ember-ml/ember/internal/parallel"
	"github.com/ember-ml/ember/internal/tensor"
)

// Tensor is an N-dimensional float32 array.
type Tensor = tensor.Tensor

// Shape represents the dimensions of a tensor.
type Shape = tensor.Shape

// Device identifies where a tensor's storage lives.
type Device = tensor.Device

// Supported devices.
const (
	CPU         = tensor.CPU
	Accelerator = tensor.Accelerator
)

// New creates a zero-filled CPU tensor.
//
// Example:
//
//	t := tensor.New(32, 28, 28, 1) // batch of 32 greyscale images
func New(dims ...int) *Tensor {
	return tensor.New(dims...)
}

// NewOn creates a zero-filled tensor on the given device.
func NewOn(device Device, dims ...int) *Tensor {
	return tensor.NewOn(device, dims...)
}

// FromSlice creates a CPU tensor holding a copy of data.
func FromSlice(data []float32, dims ...int) *Tensor {
	return tensor.FromSlice(data, dims...)
}

// SetWorkers sets how many goroutines matrix multiplication may use.
// Values below 1 restore the default of one worker per CPU.
func SetWorkers(n int) {
	parallel.SetWorkers(n)
}

// Workers returns the current matrix multiplication worker count.
func Workers() int {
	return parallel.Workers()
}
