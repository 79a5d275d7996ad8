package toolbox

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var smallArch = Architecture{InputSize: 4, HiddenSizes: []int{6, 5}, OutputSize: 3, Hidden: ReLU, Output: Linear}

// cloneNetwork copies net through the weight file format.
func cloneNetwork(t *testing.T, net *Network, arch Architecture) *Network {
	t.Helper()

	buf := &bytes.Buffer{}
	if err := net.SaveWeights(buf); err != nil {
		t.Fatalf("SaveWeights: %v", err)
	}
	clone, err := MakeNetwork(arch, net.LossFunction, rand.New(rand.NewSource(999)))
	if err != nil {
		t.Fatalf("MakeNetwork: %v", err)
	}
	if err := clone.LoadWeights(buf); err != nil {
		t.Fatalf("LoadWeights: %v", err)
	}
	return clone
}

func randomSamples(r *rand.Rand, n, inputSize, outputSize int) (xs, ys [][]float64) {
	for k := 0; k < n; k++ {
		x := make([]float64, inputSize)
		for j := range x {
			x[j] = r.NormFloat64()
		}
		xs = append(xs, x)
		ys = append(ys, OneHot(r.Intn(outputSize), outputSize))
	}
	return xs, ys
}

func TestBatchUpdateEqualsSumOfSampleUpdates(t *testing.T) {
	r := rand.New(rand.NewSource(12345))
	net, err := MakeNetwork(smallArch, SoftmaxCrossEntropy, r)
	if err != nil {
		t.Fatalf("MakeNetwork: %v", err)
	}
	reference := cloneNetwork(t, net, smallArch)

	// A short batch, as at the end of an epoch.
	xs, ys := randomSamples(r, 5, smallArch.InputSize, smallArch.OutputSize)
	learningRate := 0.3

	net.TrainBatch(xs, ys, learningRate)

	// Compute each sample's gradient at the starting weights, then apply
	// rate/n times each of them.
	perSample := [][]float64{}
	for k := range xs {
		perSample = append(perSample, backpropGradient(reference, xs[k], ys[k]))
	}
	params := flattenParams(reference)
	scale := learningRate / float64(len(xs))
	for _, grad := range perSample {
		for i := range params {
			params[i] -= scale * grad[i]
		}
	}

	if diff := cmp.Diff(flattenParams(net), params, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Batched update differs from summed sample updates; diff (-batched +summed)\n%s", diff)
	}

	for l, lay := range net.Layers {
		for i, g := range lay.WeightGradients() {
			if g != 0 {
				t.Fatalf("layer %d weight gradient %d = %v after update, want 0", l, i, g)
			}
		}
	}
}

func TestTrainBatchReturnsLossBeforeUpdate(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	net, err := MakeNetwork(smallArch, SoftmaxCrossEntropy, r)
	if err != nil {
		t.Fatalf("MakeNetwork: %v", err)
	}
	xs, ys := randomSamples(r, 3, smallArch.InputSize, smallArch.OutputSize)

	var want float64
	for k, out := range net.Predict(xs) {
		want += CrossEntropy(out, ys[k])
	}

	got := net.TrainBatch(xs, ys, 0.1)
	if diff := cmp.Diff(got, want, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Wrong batch loss; diff (-got +want)\n%s", diff)
	}
}
