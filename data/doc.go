// Copyright 2025 The Ember Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package data provides double-buffered batch loading for the Ember
// training engine.
//
// # Overview
//
// A Loader owns two batch buffers. While the learner trains on the active
// one, the next batch is loaded into the other in the background:
//
//	loader.AsyncPreloadBatch()
//	for ... {
//	    if err := loader.WaitForBatch(); err != nil { ... }
//	    loader.SwapBuffers()
//	    loader.AsyncPreloadBatch()
//	    input, target := loader.BatchData()
//	    // ... train ...
//	}
//
// Datasets plug in as a Source:
//   - SliceSource: in-memory tensors
//   - ChessSource: "FEN|eval|wdl" text files, 768 one-hot features
//   - ImageSource: one subdirectory per class, greyscale images
//
// # Basic Usage
//
//	import "github.com/ember-ml/ember/data"
//
//	func main() {
//	    loader, src, err := data.NewImageLoader("digits", data.ImageLoaderConfig{
//	        BatchSize: 64,
//	        Width:     28,
//	        Height:    28,
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(src.Classes())
//	}
package data
