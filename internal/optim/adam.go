package optim

import (
	"math"

	"github.com/chewxy/math32"

	"github.com/ember-ml/ember/internal/nn"
	"github.com/ember-ml/ember/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer with
// decoupled weight decay.
//
// Update rule, per parameter, after t++:
//
//	param = param * (1 - lr*decay)                     // Weight decay
//	m_t   = beta1 * m_{t-1} + (1-beta1) * gradient     // First moment
//	v_t   = beta2 * v_{t-1} + (1-beta2) * gradient²    // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)   // Parameter update
//
// Decay applies to biases as well as weights.
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
//
// Example:
//
//	opt := optim.NewAdam(net, optim.AdamConfig{Beta2: 0.99})
type Adam struct {
	accumulators
	beta1   float32
	beta2   float32
	eps     float32
	decay   float32
	t       int
	moments [2][]*tensor.Tensor // first moment: weights, biases
	squares [2][]*tensor.Tensor // second moment: weights, biases
}

// AdamConfig holds configuration for the Adam optimizer.
//
// Zero fields take their defaults. Decay is the exception when DecaySet is
// true, so that a decay of exactly zero can be requested.
type AdamConfig struct {
	Beta1    float32 // First moment decay (default: 0.9)
	Beta2    float32 // Second moment decay (default: 0.999)
	Epsilon  float32 // Term for numerical stability (default: 1e-8)
	Decay    float32 // Decoupled weight decay (default: 0.01)
	DecaySet bool    // Use Decay as given, even when zero
}

// NewAdam creates an Adam optimizer for net.
//
// Default hyperparameters:
//   - Beta1: 0.9
//   - Beta2: 0.999
//   - Epsilon: 1e-8
//   - Decay: 0.01
func NewAdam(net *nn.Network, config AdamConfig) *Adam {
	if config.Beta1 == 0 {
		config.Beta1 = 0.9
	}
	if config.Beta2 == 0 {
		config.Beta2 = 0.999
	}
	if config.Epsilon == 0 {
		config.Epsilon = 1e-8
	}
	if config.Decay == 0 && !config.DecaySet {
		config.Decay = 0.01
	}

	a := &Adam{
		accumulators: newAccumulators(net),
		beta1:        config.Beta1,
		beta2:        config.Beta2,
		eps:          config.Epsilon,
		decay:        config.Decay,
	}
	a.moments[0], a.moments[1] = a.zerosLikeParameters()
	a.squares[0], a.squares[1] = a.zerosLikeParameters()
	return a
}

// Iteration returns the number of steps taken.
func (a *Adam) Iteration() int { return a.t }

// Step performs a single optimization step.
func (a *Adam) Step(lr float32) {
	a.t++
	biasCorrection1 := float32(1 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1 - math.Pow(float64(a.beta2), float64(a.t)))
	shrink := 1 - lr*a.decay

	a.forEachParameter(func(i int, bias bool, param, grad []float32) {
		m := a.moments[index(bias)][i].Data()
		v := a.squares[index(bias)][i].Data()
		for j, g := range grad {
			param[j] *= shrink
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g

			mHat := m[j] / biasCorrection1
			vHat := v[j] / biasCorrection2
			param[j] -= lr * mHat / (math32.Sqrt(vHat) + a.eps)
		}
	})
}
