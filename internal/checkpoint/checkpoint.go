// Package checkpoint saves and restores network parameters.
//
// The file format is raw little-endian float32 with no header:
//
//	for each trainable layer, in network order:
//	  [weights: FanOut*FanIn float32]
//	  [biases:  FanOut float32]
//
// Nothing about the architecture is stored, so a checkpoint can only be
// loaded into a network built the same way. A file that is too short
// fails with io.ErrUnexpectedEOF; layers read before the failure keep
// their new values.
package checkpoint

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ember-ml/ember/internal/nn"
	"github.com/ember-ml/ember/internal/tensor"
)

// Common errors.
var (
	ErrChecksumMismatch = errors.New("checksum mismatch: checkpoint may be corrupted")
	ErrNotFound         = errors.New("checkpoint not found")
)

// parameters lists every trainable tensor of net in file order.
func parameters(net *nn.Network) []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, layer := range net.Layers() {
		if !layer.HasParameters() {
			continue
		}
		weights, biases := layer.Parameters()
		params = append(params, weights, biases)
	}
	return params
}

// Size returns the number of bytes Save writes for net.
func Size(net *nn.Network) int {
	return net.ParameterCount() * 4
}

// Save writes the parameters of net to w.
func Save(w io.Writer, net *nn.Network) error {
	bw := bufio.NewWriter(w)
	for i, p := range parameters(net) {
		if err := binary.Write(bw, binary.LittleEndian, p.Data()); err != nil {
			return fmt.Errorf("failed to write parameter tensor %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush checkpoint: %w", err)
	}
	return nil
}

// Load reads parameters from r into net, overwriting them in place.
func Load(r io.Reader, net *nn.Network) error {
	br := bufio.NewReader(r)
	for i, p := range parameters(net) {
		if err := binary.Read(br, binary.LittleEndian, p.Data()); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("failed to read parameter tensor %d: %w", i, err)
		}
	}
	return nil
}

// SaveFile writes a checkpoint of net to path, replacing any existing file.
func SaveFile(path string, net *nn.Network) error {
	//nolint:gosec // G304: checkpoint paths come from the caller
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	if err := Save(f, net); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads the checkpoint at path into net.
func LoadFile(path string, net *nn.Network) error {
	//nolint:gosec // G304: checkpoint paths come from the caller
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()
	return Load(f, net)
}
