package main

import (
	"github.com/ember-ml/ember/data"
	"github.com/ember-ml/ember/nn"
)

// chessNetwork evaluates a position from its one-hot piece features.
func chessNetwork(hidden int, cfg nn.NetworkConfig) *nn.Network {
	return nn.NewNetworkWithConfig(cfg,
		nn.NewInput(data.ChessFeatures),
		nn.NewLinear(hidden),
		nn.NewReLU(),
		nn.NewLinear(1),
	)
}

// imageNetwork classifies height x width greyscale images. The pooling
// layer is left out when the convolution output does not divide by two.
func imageNetwork(height, width, kernels, classes int, cfg nn.NetworkConfig) *nn.Network {
	layers := []nn.Layer{
		nn.NewInput(height, width, 1),
		nn.NewConvolution(kernels, 3, 1),
		nn.NewReLU(),
	}
	if (height-2)%2 == 0 && (width-2)%2 == 0 {
		layers = append(layers, nn.NewMaxPool(2))
	}
	layers = append(layers,
		nn.NewFlatten(),
		nn.NewLinear(classes),
		nn.NewSoftmax(),
	)
	return nn.NewNetworkWithConfig(cfg, layers...)
}
