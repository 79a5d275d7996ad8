package toolbox

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Neuron is a view of unit i of a Layer.  It holds no storage of its own;
// every method reads and writes the layer's buffers.
type Neuron struct {
	lay *Layer
	i   int
}

func (lay *Layer) Neuron(i int) Neuron {
	if i < 0 || i >= lay.OutputSize {
		panic(fmt.Sprintf("neuron index %d out of range [0, %d)", i, lay.OutputSize))
	}
	return Neuron{lay: lay, i: i}
}

// Weights aliases the unit's row of the layer weight matrix.
func (n Neuron) Weights() []float64 {
	in := n.lay.InputSize
	return n.lay.W[n.i*in : n.i*in+in : n.i*in+in]
}

func (n Neuron) Bias() float64 {
	return n.lay.B[n.i]
}

func (n Neuron) SetBias(b float64) {
	n.lay.B[n.i] = b
}

// WeightGradients aliases the unit's row of the accumulated weight gradients.
func (n Neuron) WeightGradients() []float64 {
	in := n.lay.InputSize
	return n.lay.dW[n.i*in : n.i*in+in : n.i*in+in]
}

func (n Neuron) BiasGradient() float64 {
	return n.lay.dB[n.i]
}

func (n Neuron) Delta() float64 {
	return n.lay.delta[n.i]
}

func (n Neuron) SetDelta(d float64) {
	n.lay.delta[n.i] = d
}

// Output is the cached post-activation value from the last Activate.
func (n Neuron) Output() float64 {
	return n.lay.a[n.i]
}

// CachedNetInput is the cached pre-activation value from the last NetInput.
func (n Neuron) CachedNetInput() float64 {
	return n.lay.z[n.i]
}

// NetInput computes and caches w·x + b.
func (n Neuron) NetInput(x []float64) float64 {
	if len(x) != n.lay.InputSize {
		panic(fmt.Sprintf("len(x) = %d, want %d", len(x), n.lay.InputSize))
	}
	z := floats.Dot(n.Weights(), x) + n.lay.B[n.i]
	n.lay.z[n.i] = z
	return z
}

// Activate computes and caches the unit output for x.
func (n Neuron) Activate(x []float64) float64 {
	z := n.NetInput(x)
	a := n.lay.Activation.funcs().apply(z)
	n.lay.a[n.i] = a
	return a
}

// ActivationDerivative is da/dz at the cached net input and output.
func (n Neuron) ActivationDerivative() float64 {
	return n.lay.Activation.funcs().derivative(n.lay.z[n.i], n.lay.a[n.i])
}

// AccumulateGradients folds the current delta into the accumulators.  x must
// be the input that produced the current activation.
func (n Neuron) AccumulateGradients(x []float64) {
	if len(x) != n.lay.InputSize {
		panic(fmt.Sprintf("len(x) = %d, want %d", len(x), n.lay.InputSize))
	}
	d := n.lay.delta[n.i]
	floats.AddScaled(n.WeightGradients(), d, x)
	n.lay.dB[n.i] += d
}

// ApplyGradients takes one descent step with the averaged accumulated
// gradients, then zeroes the accumulators.  batchSamples is the number of
// samples folded into them.
func (n Neuron) ApplyGradients(learningRate float64, batchSamples int) {
	if batchSamples <= 0 {
		panic(fmt.Sprintf("batchSamples = %d, must be > 0", batchSamples))
	}
	scale := learningRate / float64(batchSamples)

	dw := n.WeightGradients()
	floats.AddScaled(n.Weights(), -scale, dw)
	clear(dw)

	n.lay.B[n.i] -= scale * n.lay.dB[n.i]
	n.lay.dB[n.i] = 0
}

func (n Neuron) ResetGradients() {
	clear(n.WeightGradients())
	n.lay.dB[n.i] = 0
}
