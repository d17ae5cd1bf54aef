// Copyright 2025 The Ember Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package checkpoint saves and restores network parameters.
//
// A checkpoint is the raw little-endian float32 weights then biases of
// every trainable layer, in layer order. It carries no header, so the
// network loading it must have the same architecture.
//
// Example:
//
//	store, err := checkpoint.NewFileStore("checkpoints")
//	if err != nil {
//	    return err
//	}
//	autosave := train.NewAutosaveBest(store, "best.bin", train.MetricTestLoss)
package checkpoint

import (
	"io"

	"github.com/ember-ml/ember/internal/checkpoint"
	"github.com/ember-ml/ember/internal/nn"
)

// Errors returned when restoring checkpoints.
var (
	ErrChecksumMismatch = checkpoint.ErrChecksumMismatch
	ErrNotFound         = checkpoint.ErrNotFound
)

// Size returns the checkpoint size of net in bytes.
func Size(net *nn.Network) int {
	return checkpoint.Size(net)
}

// Save writes the parameters of net to w.
func Save(w io.Writer, net *nn.Network) error {
	return checkpoint.Save(w, net)
}

// Load reads parameters from r into net.
func Load(r io.Reader, net *nn.Network) error {
	return checkpoint.Load(r, net)
}

// SaveFile writes the parameters of net to path.
func SaveFile(path string, net *nn.Network) error {
	return checkpoint.SaveFile(path, net)
}

// LoadFile reads parameters from path into net.
func LoadFile(path string, net *nn.Network) error {
	return checkpoint.LoadFile(path, net)
}

// Store keeps named checkpoints.
type Store = checkpoint.Store

// FileStore keeps one file per checkpoint in a directory.
type FileStore = checkpoint.FileStore

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	return checkpoint.NewFileStore(dir)
}

// BadgerStore keeps checksummed checkpoints in a Badger database.
type BadgerStore = checkpoint.BadgerStore

// OpenBadgerStore opens the database in dir, or an in-memory one when dir
// is empty.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	return checkpoint.OpenBadgerStore(dir)
}
