// Copyright 2025 The Ember Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package data

import (
	"github.com/ember-ml/ember/internal/data"
	"github.com/ember-ml/ember/internal/tensor"
)

// Errors returned by the dataset sources.
var (
	ErrNoClasses     = data.ErrNoClasses
	ErrEmptyDataset  = data.ErrEmptyDataset
	ErrMalformedLine = data.ErrMalformedLine
)

// ChessFeatures is the input width of a chess position.
const ChessFeatures = data.ChessFeatures

// DataLoader is what the learner consumes.
type DataLoader = data.DataLoader

// Source produces batches for a Loader.
type Source = data.Source

// Config configures a Loader.
type Config = data.Config

// Loader is the double-buffered DataLoader over a Source.
type Loader = data.Loader

// NewLoader creates a Loader over src.
func NewLoader(src Source, cfg Config) *Loader {
	return data.NewLoader(src, cfg)
}

// Matcher counts correct predictions in a batch.
type Matcher = data.Matcher

// ArgmaxMatch counts samples whose highest output matches the target's.
func ArgmaxMatch(output, target *tensor.Tensor) int {
	return data.ArgmaxMatch(output, target)
}

// ScaledRoundMatch counts samples whose output and target agree after
// scaling and truncation.
func ScaledRoundMatch(scale float32) Matcher {
	return data.ScaledRoundMatch(scale)
}

// In-memory data

// Dataset pairs inputs with targets.
type Dataset = data.Dataset

// SliceSource serves batches from in-memory tensors.
type SliceSource = data.SliceSource

// NewSliceSource creates a SliceSource.
func NewSliceSource(train, test Dataset) (*SliceSource, error) {
	return data.NewSliceSource(train, test)
}

// NewSliceLoader creates a Loader over in-memory tensors.
func NewSliceLoader(train, test Dataset, cfg Config) (*Loader, error) {
	return data.NewSliceLoader(train, test, cfg)
}

// Chess positions

// ChessLoaderConfig configures NewChessLoader.
type ChessLoaderConfig = data.ChessLoaderConfig

// ChessSource reads positions from a "FEN|eval|wdl" file.
type ChessSource = data.ChessSource

// OpenChessSource indexes the file at path.
func OpenChessSource(path string, testPositions, threads int) (*ChessSource, error) {
	return data.OpenChessSource(path, testPositions, threads)
}

// NewChessLoader creates a Loader over a chess position file.
//
// Example:
//
//	loader, src, err := data.NewChessLoader("positions.txt", data.ChessLoaderConfig{BatchSize: 256})
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
func NewChessLoader(path string, cfg ChessLoaderConfig) (*Loader, *ChessSource, error) {
	return data.NewChessLoader(path, cfg)
}

// Images

// ImageLoaderConfig configures NewImageLoader.
type ImageLoaderConfig = data.ImageLoaderConfig

// ImageSource reads greyscale images from one subdirectory per class.
type ImageSource = data.ImageSource

// OpenImageSource scans root for classes.
func OpenImageSource(root string, cfg ImageLoaderConfig) (*ImageSource, error) {
	return data.OpenImageSource(root, cfg)
}

// NewImageLoader creates a Loader over an image directory.
func NewImageLoader(root string, cfg ImageLoaderConfig) (*Loader, *ImageSource, error) {
	return data.NewImageLoader(root, cfg)
}
