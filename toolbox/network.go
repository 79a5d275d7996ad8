package toolbox

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

var ErrLengthMismatch = errors.New("inputs and targets have different lengths")

// Network is a feedforward pipeline of dense layers.
//
// A Network caches the inputs and outputs of every layer for the most recent
// sample, so it must not be used from more than one goroutine at a time.
type Network struct {
	LossFunction LossFunctionType
	Layers       []*Layer

	// lastInputs[l] is the vector fed into layer l by the last Forward.
	// lastInputs[0] is owned by the network; the rest alias the previous
	// layer's output buffer.
	lastInputs [][]float64

	// lastOutputs[l] is the vector produced by layer l.  With
	// SoftmaxCrossEntropy the final entry is the probability buffer.
	lastOutputs [][]float64

	probabilities []float64
}

// NewNetwork validates that consecutive layers chain and sizes the per-layer
// caches.
func NewNetwork(loss LossFunctionType, layers ...*Layer) (*Network, error) {
	if len(layers) == 0 {
		return nil, errors.New("network needs at least one layer")
	}
	for l := 1; l < len(layers); l++ {
		if layers[l-1].OutputSize != layers[l].InputSize {
			return nil, fmt.Errorf("layer %d output size %d does not match layer %d input size %d",
				l-1, layers[l-1].OutputSize, l, layers[l].InputSize)
		}
	}
	switch loss {
	case SoftmaxCrossEntropy, MeanSquaredError:
	default:
		return nil, fmt.Errorf("unknown loss function %d", loss)
	}

	net := &Network{
		LossFunction: loss,
		Layers:       layers,
		lastInputs:   make([][]float64, len(layers)),
		lastOutputs:  make([][]float64, len(layers)),
	}

	net.lastInputs[0] = make([]float64, layers[0].InputSize)
	for l := 1; l < len(layers); l++ {
		net.lastInputs[l] = layers[l-1].Output()
	}
	for l := range layers {
		net.lastOutputs[l] = layers[l].Output()
	}
	if loss == SoftmaxCrossEntropy {
		net.probabilities = make([]float64, net.OutputSize())
		net.lastOutputs[len(layers)-1] = net.probabilities
	}

	return net, nil
}

// Architecture describes a network by its layer widths.
type Architecture struct {
	InputSize   int
	HiddenSizes []int
	OutputSize  int

	Hidden ActivationType
	Output ActivationType
}

// DigitArchitecture is the 784 -> 256 -> 128 -> 10 classifier for 28x28
// digit images.
func DigitArchitecture() Architecture {
	return Architecture{
		InputSize:   28 * 28,
		HiddenSizes: []int{256, 128},
		OutputSize:  10,
		Hidden:      ReLU,
		Output:      Linear,
	}
}

func (a Architecture) String() string {
	b := &strings.Builder{}
	b.WriteString(strconv.Itoa(a.InputSize))
	for _, h := range a.HiddenSizes {
		b.WriteString(" -> ")
		b.WriteString(strconv.Itoa(h))
	}
	b.WriteString(" -> ")
	b.WriteString(strconv.Itoa(a.OutputSize))
	return b.String()
}

// MakeNetwork builds a freshly initialized network for a, drawing initial
// weights from r.
func MakeNetwork(a Architecture, loss LossFunctionType, r *rand.Rand) (*Network, error) {
	sizes := append([]int{a.InputSize}, a.HiddenSizes...)
	sizes = append(sizes, a.OutputSize)
	for _, s := range sizes {
		if s <= 0 {
			return nil, fmt.Errorf("invalid architecture %s", a)
		}
	}

	layers := make([]*Layer, 0, len(sizes)-1)
	for l := 1; l < len(sizes); l++ {
		activation := a.Hidden
		if l == len(sizes)-1 {
			activation = a.Output
		}
		layers = append(layers, MakeDense(activation, sizes[l-1], sizes[l], r))
	}

	return NewNetwork(loss, layers...)
}

func (net *Network) InputSize() int {
	return net.Layers[0].InputSize
}

func (net *Network) OutputSize() int {
	return net.Layers[len(net.Layers)-1].OutputSize
}

// Forward runs one sample through the network, caching every layer's input
// and output for Backward.  The returned slice is owned by the network and is
// overwritten by the next call.
func (net *Network) Forward(x []float64) []float64 {
	if len(x) != net.InputSize() {
		panic(fmt.Sprintf("len(x) = %d, want %d", len(x), net.InputSize()))
	}
	copy(net.lastInputs[0], x)

	var current []float64
	for l, lay := range net.Layers {
		current = lay.Forward(net.lastInputs[l])
	}

	if net.LossFunction == SoftmaxCrossEntropy {
		return Softmax(net.probabilities, current)
	}
	return current
}

// Backward computes the delta of every unit for the sample passed to the last
// Forward.
func (net *Network) Backward(target []float64) {
	last := len(net.Layers) - 1
	outputLayer := net.Layers[last]
	output := net.lastOutputs[last]
	if len(target) != outputLayer.OutputSize {
		panic(fmt.Sprintf("len(target) = %d, want %d", len(target), outputLayer.OutputSize))
	}

	for i := 0; i < outputLayer.OutputSize; i++ {
		n := outputLayer.Neuron(i)
		switch net.LossFunction {
		case SoftmaxCrossEntropy:
			// p - t is already the gradient wrt the logit.
			n.SetDelta(output[i] - target[i])
		case MeanSquaredError:
			n.SetDelta((output[i] - target[i]) * n.ActivationDerivative())
		default:
			panic("unimplemented loss function type")
		}
	}

	for l := last - 1; l >= 0; l-- {
		lay := net.Layers[l]
		next := net.Layers[l+1]
		for j := 0; j < lay.OutputSize; j++ {
			var sum float64
			for k := 0; k < next.OutputSize; k++ {
				sum += next.W[k*next.InputSize+j] * next.delta[k]
			}
			n := lay.Neuron(j)
			n.SetDelta(sum * n.ActivationDerivative())
		}
	}
}

// AccumulateGradients folds the current deltas into every layer's gradient
// accumulators, using the cached layer inputs.
func (net *Network) AccumulateGradients() {
	for l, lay := range net.Layers {
		lay.AccumulateGradients(net.lastInputs[l])
	}
}

func (net *Network) ApplyGradients(learningRate float64, batchSamples int) {
	for _, lay := range net.Layers {
		lay.ApplyGradients(learningRate, batchSamples)
	}
}

func (net *Network) ResetGradients() {
	for _, lay := range net.Layers {
		lay.ResetGradients()
	}
}

// TrainBatch runs one mini-batch step over xs/ys and returns the summed
// per-sample loss, measured before the update.
func (net *Network) TrainBatch(xs, ys [][]float64, learningRate float64) float64 {
	if len(xs) != len(ys) {
		panic(ErrLengthMismatch)
	}
	net.ResetGradients()

	var loss float64
	for k := range xs {
		loss += net.trainSample(xs[k], ys[k])
	}

	net.ApplyGradients(learningRate, len(xs))
	return loss
}

func (net *Network) trainSample(x, y []float64) float64 {
	output := net.Forward(x)
	loss := net.sampleLoss(output, y)
	net.Backward(y)
	net.AccumulateGradients()
	return loss
}

// Predict returns a copy of the network output for every input.
func (net *Network) Predict(inputs [][]float64) [][]float64 {
	outputs := make([][]float64, len(inputs))
	for k, x := range inputs {
		outputs[k] = append([]float64(nil), net.Forward(x)...)
	}
	return outputs
}

type TestResult struct {
	Correct int
	Total   int

	// Accuracy is the percentage of correctly classified samples.
	Accuracy float64

	// Loss is the mean per-sample loss against the one-hot labels.
	Loss float64
}

// Test classifies every input by the argmax of its output and scores it
// against the integer label.
func (net *Network) Test(inputs [][]float64, labels []int) (TestResult, error) {
	if len(inputs) != len(labels) {
		return TestResult{}, fmt.Errorf("while testing %d inputs against %d labels: %w", len(inputs), len(labels), ErrLengthMismatch)
	}
	if len(inputs) == 0 {
		return TestResult{}, errors.New("no samples to test")
	}

	res := TestResult{Total: len(inputs)}
	target := make([]float64, net.OutputSize())
	var totalLoss float64
	for k, x := range inputs {
		output := net.Forward(x)
		if ArgMax(output) == labels[k] {
			res.Correct++
		}

		clear(target)
		if labels[k] >= 0 && labels[k] < len(target) {
			target[labels[k]] = 1
		}
		totalLoss += net.sampleLoss(output, target)
	}

	res.Accuracy = float64(res.Correct) / float64(res.Total) * 100
	res.Loss = totalLoss / float64(res.Total)
	return res, nil
}
