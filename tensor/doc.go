// Copyright 2025 The Ember Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the N-dimensional float32 array of the Ember
// training engine.
//
// # Overview
//
// Every layer output, parameter, gradient and data batch is a Tensor:
//   - Row-major, contiguous storage with derived strides
//   - Batched values carry the batch size as the leading dimension
//   - Matrix-multiply-accumulate (Madd) backed by gonum BLAS
//   - Device-tagged storage (CPU, Accelerator) with explicit transfer
//
// # Basic Usage
//
//	import "github.com/ember-ml/ember/tensor"
//
//	func main() {
//	    a := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
//	    b := tensor.New(3, 2)
//	    b.Fill(1)
//
//	    c := tensor.New(2, 2)
//	    c.Madd(a, b, false, false) // c += a·b
//	}
//
// # Contracts
//
// Indexing with the wrong number of indices, out-of-range indices,
// size-changing reshapes and mismatched devices panic. They signal a
// construction bug, not a recoverable condition.
//
// # Devices
//
// Accelerator storage lives in page-aligned memory mapped outside the Go
// heap. To moves a tensor between devices and invalidates every slice
// previously returned by Data:
//
//	t.To(tensor.Accelerator)
//	data := t.Data() // re-fetch after every transfer
//
// # Parallelism
//
// Madd splits its output rows across SetWorkers goroutines.
package tensor
