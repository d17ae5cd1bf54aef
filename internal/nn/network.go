package nn

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/ember-ml/ember/internal/tensor"
)

// InitMethod selects how trainable weights are drawn.
type InitMethod int

// Supported initializers.
const (
	// Xavier draws from U(-sqrt(6/(fanIn+fanOut)), sqrt(6/(fanIn+fanOut))).
	Xavier InitMethod = iota
	// He draws from N(0, sqrt(2/fanIn)), suited to ReLU networks.
	He
)

// String returns the initializer name.
func (m InitMethod) String() string {
	switch m {
	case Xavier:
		return "xavier"
	case He:
		return "he"
	default:
		return "unknown"
	}
}

// NetworkConfig configures network construction.
type NetworkConfig struct {
	Init InitMethod // Weight initializer (default: Xavier).
	Seed uint64     // Non-zero for deterministic initialization.
}

// Network is an ordered stack of layers. The first layer is always an
// Input; every later layer reads the values of the one before it.
//
// Example:
//
//	net := nn.NewNetwork(
//	    nn.NewInput(784),
//	    nn.NewLinear(128),
//	    nn.NewReLU(),
//	    nn.NewLinear(10),
//	    nn.NewSoftmax(),
//	)
type Network struct {
	layers []Layer
}

// NewNetwork builds a network with Xavier initialization and a random seed.
func NewNetwork(layers ...Layer) *Network {
	return NewNetworkWithConfig(NetworkConfig{}, layers...)
}

// NewNetworkWithConfig builds a network, initializing every layer after the
// input from its predecessor's shape and drawing trainable weights with the
// configured initializer. Biases start at zero.
func NewNetworkWithConfig(cfg NetworkConfig, layers ...Layer) *Network {
	if len(layers) == 0 {
		panic("network: at least one layer is required")
	}
	if layers[0].Kind() != KindInput {
		panic(fmt.Sprintf("network: first layer must be Input, got %s", layers[0].Kind()))
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	//nolint:gosec // Weight initialization is not security-critical.
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	for i := 1; i < len(layers); i++ {
		layers[i].Init(layers[i-1].Shape())
		if layers[i].HasParameters() {
			initialize(layers[i], cfg.Init, rng)
		}
	}

	return &Network{layers: layers}
}

func initialize(l Layer, method InitMethod, rng *rand.Rand) {
	weights, biases := l.Parameters()
	fanIn, fanOut := float64(l.FanIn()), float64(l.FanOut())
	w := weights.Data()

	switch method {
	case Xavier:
		bound := math.Sqrt(6 / (fanIn + fanOut))
		for i := range w {
			w[i] = float32((rng.Float64()*2 - 1) * bound)
		}
	case He:
		stddev := math.Sqrt(2 / fanIn)
		for i := range w {
			w[i] = float32(rng.NormFloat64() * stddev)
		}
	default:
		panic(fmt.Sprintf("network: unknown initializer %d", method))
	}
	biases.Zero()
}

// Forward runs a batch through every layer.
//
// The input's leading dimension is the batch size; the remaining elements of
// each sample must match the input layer's feature count.
func (n *Network) Forward(input *tensor.Tensor) {
	first := n.layers[0]
	features := first.Shape().NumElements()
	batch := input.Dim(0)
	if input.Len() != batch*features {
		panic(fmt.Sprintf("network: input %v does not match %d features per sample", input, features))
	}

	for _, l := range n.layers {
		l.SetBatchSize(batch)
	}
	first.Values().CopyFrom(input)

	for i := 1; i < len(n.layers); i++ {
		n.layers[i].Forward(n.layers[i-1])
	}
}

// Output returns the last layer's values (no copy).
func (n *Network) Output() *tensor.Tensor {
	return n.layers[len(n.layers)-1].Values()
}

// Layers returns the layer stack. The slice is a copy; the layers are not.
func (n *Network) Layers() []Layer {
	return append([]Layer(nil), n.layers...)
}

// Len returns the number of layers, including the input.
func (n *Network) Len() int { return len(n.layers) }

// Layer returns layer i.
func (n *Network) Layer(i int) Layer { return n.layers[i] }

// ParameterCount returns the total number of trainable scalars.
func (n *Network) ParameterCount() int {
	return lo.SumBy(n.layers, func(l Layer) int { return l.ParameterCount() })
}

// String lists every layer and the parameter total.
func (n *Network) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Network of %d layers\n", len(n.layers))
	for i, l := range n.layers {
		fmt.Fprintf(&sb, "  %d: %s\n", i, l)
	}
	fmt.Fprintf(&sb, "%s trainable parameters", humanize.Comma(int64(n.ParameterCount())))
	return sb.String()
}

// Clone returns a deep copy of the network.
func (n *Network) Clone() *Network {
	return &Network{layers: lo.Map(n.layers, func(l Layer, _ int) Layer { return l.Clone() })}
}

// To moves every layer's values and parameters to device.
func (n *Network) To(device tensor.Device) {
	for _, l := range n.layers {
		l.Values().To(device)
		if w, b := l.Parameters(); w != nil {
			w.To(device)
			b.To(device)
		}
	}
}
