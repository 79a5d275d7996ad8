package toolbox

import (
	"math"
	"math/rand"
	"testing"
)

// A single linear unit trained full-batch under MeanSquaredError is plain
// linear regression by gradient descent, so it must agree with a hand-coded
// version step for step.
func TestAgreesWithHandcodedLinreg(t *testing.T) {
	testCases := []struct {
		name  string
		slope []float64
		bias  float64
	}{
		{name: "1d", slope: []float64{10}, bias: 30},
		{name: "2d", slope: []float64{10, 3}, bias: 30},
	}

	alpha := 0.5
	steps := 2000
	batchSize := 200

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			x, y := generateLinRegDataset(batchSize, tc.slope, tc.bias)
			inputSize := len(tc.slope)

			lay := NewLayer(Linear, make([]float64, inputSize), make([]float64, 1), inputSize, 1)
			net, err := NewNetwork(MeanSquaredError, lay)
			if err != nil {
				t.Fatalf("NewNetwork: %v", err)
			}
			for s := 0; s < steps; s++ {
				net.TrainBatch(x, y, alpha)
			}
			t.Logf("toolbox m=%v b=%v loss=%v", lay.W, lay.B[0], linRegLoss(x, y, lay.W, lay.B[0]))

			m, b := gradientDescentLinReg(x, y, alpha, steps)
			t.Logf("hand-coded m=%v b=%v loss=%v", m, b, linRegLoss(x, y, m, b))

			for j := range m {
				if math.Abs(lay.W[j]-m[j]) > 1e-8 {
					t.Errorf("Disagreement on m%d parameter; got %v, want %v", j, lay.W[j], m[j])
				}
			}
			if math.Abs(lay.B[0]-b) > 1e-8 {
				t.Errorf("Disagreement on b parameter; got %v, want %v", lay.B[0], b)
			}

			// The fit should land near the generating line.
			for j := range m {
				if math.Abs(m[j]-tc.slope[j]) > 1 {
					t.Errorf("m%d = %v, far from generating slope %v", j, m[j], tc.slope[j])
				}
			}
		})
	}
}

func generateLinRegDataset(n int, slope []float64, bias float64) (x, y [][]float64) {
	r := rand.New(rand.NewSource(12345))

	for k := 0; k < n; k++ {
		// Inputs stay in [0, 1); larger inputs need a smaller alpha.
		xk := make([]float64, len(slope))
		yk := bias
		for j := range xk {
			xk[j] = r.Float64()
			yk += slope[j] * xk[j]
		}

		// Perturb the point a little bit
		yk += (r.Float64() - 0.5) * 2

		x = append(x, xk)
		y = append(y, []float64{yk})
	}

	return x, y
}

func linRegPredict(x, m []float64, b float64) float64 {
	pred := b
	for j := range m {
		pred += m[j] * x[j]
	}
	return pred
}

func linRegLoss(x, y [][]float64, m []float64, b float64) float64 {
	loss := 0.0
	for k := range x {
		d := linRegPredict(x[k], m, b) - y[k][0]
		loss += d * d / (2 * float64(len(x)))
	}
	return loss
}

func gradientDescentLinReg(x, y [][]float64, learningRate float64, steps int) (m []float64, b float64) {
	m = make([]float64, len(x[0]))
	gradM := make([]float64, len(m))
	for s := 0; s < steps; s++ {
		clear(gradM)
		gradB := 0.0
		for k := range x {
			d := linRegPredict(x[k], m, b) - y[k][0]
			for j := range m {
				gradM[j] += d * x[k][j] / float64(len(x))
			}
			gradB += d / float64(len(x))
		}
		for j := range m {
			m[j] -= learningRate * gradM[j]
		}
		b -= learningRate * gradB
	}
	return m, b
}
