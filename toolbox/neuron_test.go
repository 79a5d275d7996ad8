package toolbox

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestNeuronNetInputAndActivate(t *testing.T) {
	lay := NewLayer(ReLU, []float64{1, 2, -1, -2}, []float64{0.5, 0}, 2, 2)

	if got, want := lay.Neuron(0).NetInput([]float64{3, 4}), 11.5; got != want {
		t.Errorf("NetInput: got %v, want %v", got, want)
	}

	out := lay.Forward([]float64{3, 4})
	if diff := cmp.Diff(out, []float64{11.5, 0}); diff != "" {
		t.Errorf("Wrong forward output; diff (-got +want)\n%s", diff)
	}
	if got, want := lay.Neuron(1).CachedNetInput(), -11.0; got != want {
		t.Errorf("cached net input of clamped unit: got %v, want %v", got, want)
	}
	if got := lay.Neuron(1).Output(); got != 0 {
		t.Errorf("cached output of clamped unit: got %v, want 0", got)
	}
}

func TestNeuronNetInputPanicsOnWrongLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("NetInput with a short input did not panic")
		}
	}()

	lay := NewLayer(Linear, []float64{1, 2}, []float64{0}, 2, 1)
	lay.Neuron(0).NetInput([]float64{1})
}

func TestNeuronAccumulateAndApply(t *testing.T) {
	lay := NewLayer(Linear, []float64{1, 2}, []float64{0.5}, 2, 1)
	n := lay.Neuron(0)
	x := []float64{3, 4}

	n.Activate(x)
	n.SetDelta(2)
	n.AccumulateGradients(x)
	n.AccumulateGradients(x)

	if diff := cmp.Diff(n.WeightGradients(), []float64{12, 16}); diff != "" {
		t.Errorf("Wrong weight gradients; diff (-got +want)\n%s", diff)
	}
	if got, want := n.BiasGradient(), 4.0; got != want {
		t.Errorf("bias gradient: got %v, want %v", got, want)
	}

	n.ApplyGradients(0.1, 2)

	approx := cmpopts.EquateApprox(0, 1e-12)
	if diff := cmp.Diff(n.Weights(), []float64{0.4, 1.2}, approx); diff != "" {
		t.Errorf("Wrong updated weights; diff (-got +want)\n%s", diff)
	}
	if diff := cmp.Diff(n.Bias(), 0.3, approx); diff != "" {
		t.Errorf("Wrong updated bias; diff (-got +want)\n%s", diff)
	}
	if diff := cmp.Diff(n.WeightGradients(), []float64{0, 0}); diff != "" {
		t.Errorf("Weight gradients not zeroed; diff (-got +want)\n%s", diff)
	}
	if n.BiasGradient() != 0 {
		t.Errorf("bias gradient not zeroed: %v", n.BiasGradient())
	}
}

func TestNeuronResetGradients(t *testing.T) {
	lay := NewLayer(Linear, []float64{1, 2, 3, 4}, []float64{0, 0}, 2, 2)
	x := []float64{1, 1}
	lay.Forward(x)
	lay.Neuron(0).SetDelta(1)
	lay.Neuron(1).SetDelta(-1)
	lay.AccumulateGradients(x)

	lay.Neuron(0).ResetGradients()
	if diff := cmp.Diff(lay.WeightGradients(), []float64{0, 0, -1, -1}); diff != "" {
		t.Errorf("Wrong gradients after resetting one neuron; diff (-got +want)\n%s", diff)
	}

	lay.ResetGradients()
	if diff := cmp.Diff(lay.WeightGradients(), []float64{0, 0, 0, 0}); diff != "" {
		t.Errorf("Wrong gradients after resetting the layer; diff (-got +want)\n%s", diff)
	}
	if diff := cmp.Diff(lay.BiasGradients(), []float64{0, 0}); diff != "" {
		t.Errorf("Wrong bias gradients after reset; diff (-got +want)\n%s", diff)
	}

	// Reset must not touch the parameters.
	if diff := cmp.Diff(lay.W, []float64{1, 2, 3, 4}); diff != "" {
		t.Errorf("Reset changed weights; diff (-got +want)\n%s", diff)
	}
}

func TestNeuronWeightsAliasLayer(t *testing.T) {
	lay := NewLayer(Linear, []float64{1, 2, 3, 4, 5, 6}, []float64{0, 0}, 3, 2)

	w := lay.Neuron(1).Weights()
	w[0] = 40
	if got := lay.W[3]; got != 40 {
		t.Errorf("write through Neuron.Weights not visible in layer: W[3] = %v", got)
	}

	// The row must not be extendable into the next neuron's storage.
	if cap(lay.Neuron(0).Weights()) != 3 {
		t.Errorf("cap(Weights()) = %d, want 3", cap(lay.Neuron(0).Weights()))
	}
}
