package optim

import (
	"github.com/ember-ml/ember/internal/nn"
	"github.com/ember-ml/ember/internal/tensor"
)

// SGD implements Stochastic Gradient Descent with momentum.
//
// Update rule:
//
//	velocity = momentum * velocity - lr * gradient
//	param    = param + velocity
//
// Example:
//
//	opt := optim.NewSGD(net, optim.SGDConfig{Momentum: 0.8})
type SGD struct {
	accumulators
	momentum   float32
	velocities [2][]*tensor.Tensor // weights, biases
}

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	Momentum    float32 // Momentum factor (default: 0.9)
	MomentumSet bool    // Use Momentum as given, even when zero
}

// NewSGD creates an SGD optimizer for net.
func NewSGD(net *nn.Network, config SGDConfig) *SGD {
	if config.Momentum == 0 && !config.MomentumSet {
		config.Momentum = 0.9
	}

	s := &SGD{accumulators: newAccumulators(net), momentum: config.Momentum}
	s.velocities[0], s.velocities[1] = s.zerosLikeParameters()
	return s
}

// Momentum returns the momentum factor in use.
func (s *SGD) Momentum() float32 { return s.momentum }

// Step applies one momentum update.
func (s *SGD) Step(lr float32) {
	s.forEachParameter(func(i int, bias bool, param, grad []float32) {
		v := s.velocities[index(bias)][i].Data()
		for j := range param {
			v[j] = s.momentum*v[j] - lr*grad[j]
			param[j] += v[j]
		}
	})
}

func index(bias bool) int {
	if bias {
		return 1
	}
	return 0
}
