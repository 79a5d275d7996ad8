package toolbox

import (
	"fmt"
	"math"
)

type ActivationType int

const (
	ReLU ActivationType = iota
	Linear
	Sigmoid
)

func (t ActivationType) String() string {
	switch t {
	case ReLU:
		return "relu"
	case Linear:
		return "linear"
	case Sigmoid:
		return "sigmoid"
	default:
		return fmt.Sprintf("ActivationType(%d)", int(t))
	}
}

// ParseActivation is the inverse of ActivationType.String.
func ParseActivation(s string) (ActivationType, error) {
	for _, t := range []ActivationType{ReLU, Linear, Sigmoid} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown activation %q", s)
}

type activationFuncs struct {
	// apply maps the net input z to the unit output.
	apply func(z float64) float64

	// derivative is da/dz, given the cached net input z and output a.
	derivative func(z, a float64) float64
}

var activations = [...]activationFuncs{
	ReLU: {
		apply: func(z float64) float64 { return math.Max(0, z) },
		derivative: func(z, _ float64) float64 {
			if z > 0 {
				return 1
			}
			return 0
		},
	},
	Linear: {
		apply:      func(z float64) float64 { return z },
		derivative: func(_, _ float64) float64 { return 1 },
	},
	Sigmoid: {
		apply:      func(z float64) float64 { return 1 / (1 + math.Exp(-z)) },
		derivative: func(_, a float64) float64 { return a * (1 - a) },
	},
}

func (t ActivationType) funcs() activationFuncs {
	if t < 0 || int(t) >= len(activations) {
		panic("unhandled activation function")
	}
	return activations[t]
}

// initRange is the half-width of the uniform weight initialization interval
// for a unit with inputSize inputs.
func (t ActivationType) initRange(inputSize int) float64 {
	if t == ReLU {
		return math.Sqrt(2 / float64(inputSize))
	}
	return math.Sqrt(1 / float64(inputSize))
}
