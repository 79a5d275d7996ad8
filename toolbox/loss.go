package toolbox

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

type LossFunctionType int

const (
	// SoftmaxCrossEntropy applies softmax to the final layer's output and
	// scores it with cross-entropy against a one-hot target.
	SoftmaxCrossEntropy LossFunctionType = iota

	// MeanSquaredError scores the raw final layer output with ½Σ(a-t)².
	MeanSquaredError
)

// crossEntropyEpsilon keeps the loss finite when a probability is zero.
const crossEntropyEpsilon = 1e-9

// Softmax writes softmax(logits) into dst and returns it.  The maximum logit
// is subtracted before exponentiating, using softmax(v) = softmax(v - c).
func Softmax(dst, logits []float64) []float64 {
	if len(dst) != len(logits) {
		panic("len(dst) != len(logits)")
	}
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	for i, v := range logits {
		dst[i] = math.Exp(v - maxLogit)
	}
	floats.Scale(1/floats.Sum(dst), dst)
	return dst
}

// CrossEntropy is -Σ t[i]*ln(p[i]+ε).
func CrossEntropy(p, t []float64) float64 {
	if len(p) != len(t) {
		panic("len(p) != len(t)")
	}
	var loss float64
	for i := range p {
		loss -= t[i] * math.Log(p[i]+crossEntropyEpsilon)
	}
	return loss
}

// SquaredError is ½Σ(a[i]-t[i])².
func SquaredError(a, t []float64) float64 {
	if len(a) != len(t) {
		panic("len(a) != len(t)")
	}
	var loss float64
	for i := range a {
		diff := a[i] - t[i]
		loss += diff * diff / 2
	}
	return loss
}

// ArgMax returns the first index holding the maximum value.
func ArgMax(v []float64) int {
	return floats.MaxIdx(v)
}

// OneHot returns a vector of length n with a 1 at label.  A label outside
// [0, n) yields the zero vector.
func OneHot(label, n int) []float64 {
	t := make([]float64, n)
	if label >= 0 && label < n {
		t[label] = 1
	}
	return t
}

// OneHotAll encodes every label with OneHot.
func OneHotAll(labels []int, n int) [][]float64 {
	targets := make([][]float64, len(labels))
	for k, label := range labels {
		targets[k] = OneHot(label, n)
	}
	return targets
}

func (net *Network) sampleLoss(output, target []float64) float64 {
	switch net.LossFunction {
	case SoftmaxCrossEntropy:
		return CrossEntropy(output, target)
	case MeanSquaredError:
		return SquaredError(output, target)
	default:
		panic("unimplemented loss function type")
	}
}
