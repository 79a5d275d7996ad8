package toolbox

import (
	"math"
	"math/rand"
	"testing"
)

func TestActivationDerivativeMatchesFiniteDifference(t *testing.T) {
	const h = 1e-6

	for _, activation := range []ActivationType{ReLU, Linear, Sigmoid} {
		// Avoid z == 0, where ReLU has no derivative.
		for _, z := range []float64{-2.5, -0.4, 0.3, 1.7, 4} {
			lay := NewLayer(activation, []float64{1}, []float64{0}, 1, 1)
			n := lay.Neuron(0)
			n.Activate([]float64{z})

			apply := activation.funcs().apply
			want := (apply(z+h) - apply(z-h)) / (2 * h)
			got := n.ActivationDerivative()
			if math.Abs(got-want) > 1e-6 {
				t.Errorf("%v derivative at z=%v: got %v, want %v", activation, z, got, want)
			}
		}
	}
}

func TestActivationDerivativeUsesCachedValues(t *testing.T) {
	lay := NewLayer(Sigmoid, []float64{2}, []float64{-1}, 1, 1)
	n := lay.Neuron(0)
	a := n.Activate([]float64{0.75})

	if got, want := n.CachedNetInput(), 0.5; got != want {
		t.Errorf("cached net input: got %v, want %v", got, want)
	}
	if got, want := n.ActivationDerivative(), a*(1-a); got != want {
		t.Errorf("sigmoid derivative: got %v, want %v", got, want)
	}

	relu := NewLayer(ReLU, []float64{1}, []float64{0}, 1, 1)
	relu.Neuron(0).Activate([]float64{0})
	if got := relu.Neuron(0).ActivationDerivative(); got != 0 {
		t.Errorf("ReLU derivative at z=0: got %v, want 0", got)
	}
}

func TestMakeDenseInitRange(t *testing.T) {
	r := rand.New(rand.NewSource(12345))

	testCases := []struct {
		activation ActivationType
		inputSize  int
		limit      float64
	}{
		{ReLU, 8, 0.5},
		{Sigmoid, 4, 0.5},
		{Linear, 16, 0.25},
	}

	for _, tc := range testCases {
		lay := MakeDense(tc.activation, tc.inputSize, 32, r)
		sawNegative, sawPositive := false, false
		for _, w := range lay.W {
			if math.Abs(w) > tc.limit {
				t.Errorf("%v: weight %v outside [-%v, %v]", tc.activation, w, tc.limit, tc.limit)
			}
			sawNegative = sawNegative || w < 0
			sawPositive = sawPositive || w > 0
		}
		if !sawNegative || !sawPositive {
			t.Errorf("%v: weights are not spread around zero", tc.activation)
		}
		for i, b := range lay.B {
			if b != 0 {
				t.Errorf("%v: bias %d = %v, want 0", tc.activation, i, b)
			}
		}
	}
}

func TestParseActivation(t *testing.T) {
	for _, activation := range []ActivationType{ReLU, Linear, Sigmoid} {
		got, err := ParseActivation(activation.String())
		if err != nil {
			t.Fatalf("ParseActivation(%q): %v", activation.String(), err)
		}
		if got != activation {
			t.Errorf("ParseActivation(%q) = %v, want %v", activation.String(), got, activation)
		}
	}

	if _, err := ParseActivation("tanh"); err == nil {
		t.Errorf("ParseActivation(tanh) succeeded, want error")
	}
}
