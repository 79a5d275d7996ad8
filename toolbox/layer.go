package toolbox

import (
	"fmt"
	"math/rand"
)

// Layer is a dense layer.  All parameters and per-unit state live in flat
// buffers indexed by unit; Neuron gives a per-unit view over them.
type Layer struct {
	Activation ActivationType

	W []float64 // Shape (OutputSize, InputSize)
	B []float64 // Shape (OutputSize)

	InputSize  int
	OutputSize int

	// Gradient accumulators, same shapes as W and B.
	dW []float64
	dB []float64

	// Per-unit state for the most recent sample.
	z     []float64
	a     []float64
	delta []float64
}

// MakeDense creates a layer with weights drawn uniformly from [-r, r], where r
// is sqrt(2/inputSize) for ReLU and sqrt(1/inputSize) otherwise.  Biases start
// at zero.
func MakeDense(activation ActivationType, inputSize, outputSize int, r *rand.Rand) *Layer {
	l := NewLayer(activation, make([]float64, outputSize*inputSize), make([]float64, outputSize), inputSize, outputSize)

	limit := activation.initRange(inputSize)
	for i := range l.W {
		l.W[i] = (2*r.Float64() - 1) * limit
	}

	return l
}

// NewLayer wraps existing parameter storage.  w and b are used directly, not
// copied.
func NewLayer(activation ActivationType, w, b []float64, inputSize, outputSize int) *Layer {
	if inputSize <= 0 || outputSize <= 0 {
		panic(fmt.Sprintf("invalid layer shape: (%d, %d)", outputSize, inputSize))
	}
	if len(w) != outputSize*inputSize {
		panic(fmt.Sprintf("len(w) = %d, want %d", len(w), outputSize*inputSize))
	}
	if len(b) != outputSize {
		panic(fmt.Sprintf("len(b) = %d, want %d", len(b), outputSize))
	}
	activation.funcs()

	return &Layer{
		Activation: activation,
		W:          w,
		B:          b,
		InputSize:  inputSize,
		OutputSize: outputSize,
		dW:         make([]float64, outputSize*inputSize),
		dB:         make([]float64, outputSize),
		z:          make([]float64, outputSize),
		a:          make([]float64, outputSize),
		delta:      make([]float64, outputSize),
	}
}

func (lay *Layer) Len() int {
	return lay.OutputSize
}

// Forward activates every unit on x.  The returned slice is the layer's
// output buffer and is overwritten by the next call.
func (lay *Layer) Forward(x []float64) []float64 {
	for i := 0; i < lay.OutputSize; i++ {
		lay.Neuron(i).Activate(x)
	}
	return lay.a
}

func (lay *Layer) AccumulateGradients(x []float64) {
	for i := 0; i < lay.OutputSize; i++ {
		lay.Neuron(i).AccumulateGradients(x)
	}
}

func (lay *Layer) ApplyGradients(learningRate float64, batchSamples int) {
	for i := 0; i < lay.OutputSize; i++ {
		lay.Neuron(i).ApplyGradients(learningRate, batchSamples)
	}
}

func (lay *Layer) ResetGradients() {
	clear(lay.dW)
	clear(lay.dB)
}

// Output is the layer's output buffer for the most recent sample.
func (lay *Layer) Output() []float64 {
	return lay.a
}

// Deltas is the layer's error signal buffer for the most recent sample.
func (lay *Layer) Deltas() []float64 {
	return lay.delta
}

// WeightGradients returns the accumulated gradient buffer, shape
// (OutputSize, InputSize).
func (lay *Layer) WeightGradients() []float64 {
	return lay.dW
}

func (lay *Layer) BiasGradients() []float64 {
	return lay.dB
}
