package toolbox

import (
	"fmt"
	"strconv"

	"github.com/chewxy/math32"
)

// Compact is an inference-only float32 copy of a network, built from a
// safetensors export.  It keeps no training state and allocates only its
// scratch buffers.
type Compact struct {
	Softmax bool
	Layers  []CompactLayer

	scratch [2][]float32
}

type CompactLayer struct {
	Activation ActivationType

	W *AF32 // Shape (OutputSize, InputSize)
	B *AF32 // Shape (OutputSize)
}

func (cl *CompactLayer) InputSize() int  { return cl.W.Shape[1] }
func (cl *CompactLayer) OutputSize() int { return cl.W.Shape[0] }

// LoadCompact builds a Compact from the tensors and metadata written by
// Network.DumpTensors.
func LoadCompact(st *SafeTensors) (*Compact, error) {
	numLayers, err := strconv.Atoi(st.Metadata[layersMetadataKey])
	if err != nil || numLayers <= 0 {
		return nil, fmt.Errorf("bad %s metadata %q", layersMetadataKey, st.Metadata[layersMetadataKey])
	}
	loss, err := strconv.Atoi(st.Metadata[lossMetadataKey])
	if err != nil {
		return nil, fmt.Errorf("bad %s metadata %q", lossMetadataKey, st.Metadata[lossMetadataKey])
	}

	c := &Compact{
		Softmax: LossFunctionType(loss) == SoftmaxCrossEntropy,
	}
	maxSize := 0
	for l := 0; l < numLayers; l++ {
		activation, err := ParseActivation(st.Metadata[activationKey(l)])
		if err != nil {
			return nil, fmt.Errorf("while reading layer %d activation: %w", l, err)
		}
		w, ok := st.Tensors[weightKey(l)]
		if !ok || len(w.Shape) != 2 {
			return nil, fmt.Errorf("missing or malformed %s", weightKey(l))
		}
		b, err := lookupTensor(st, biasKey(l), w.Shape[0])
		if err != nil {
			return nil, err
		}
		if l > 0 && c.Layers[l-1].OutputSize() != w.Shape[1] {
			return nil, fmt.Errorf("layer %d input size %d does not match previous output size %d: %w",
				l, w.Shape[1], c.Layers[l-1].OutputSize(), ErrShapeMismatch)
		}
		c.Layers = append(c.Layers, CompactLayer{Activation: activation, W: w, B: b})
		maxSize = max(maxSize, w.Shape[0], w.Shape[1])
	}

	c.scratch[0] = make([]float32, maxSize)
	c.scratch[1] = make([]float32, maxSize)
	return c, nil
}

// Apply runs x through the network.  The result is freshly allocated.
func (c *Compact) Apply(x []float32) []float32 {
	if len(x) != c.Layers[0].InputSize() {
		panic(fmt.Sprintf("len(x) = %d, want %d", len(x), c.Layers[0].InputSize()))
	}

	a0 := c.scratch[0][:len(x)]
	copy(a0, x)
	a1 := c.scratch[1]
	for l := range c.Layers {
		lay := &c.Layers[l]
		a1 = a1[:lay.OutputSize()]
		lay.apply(a0, a1)

		// This layer's output becomes the input for the next layer.
		a0, a1 = a1, a0[:cap(a0)]
	}

	out := append([]float32(nil), a0...)
	if c.Softmax {
		softmax32(out)
	}
	return out
}

func (cl *CompactLayer) apply(x, a []float32) {
	inputSize := cl.InputSize()
	for i := range a {
		row := cl.W.V[i*inputSize : i*inputSize+inputSize]
		z := cl.B.V[i]
		for j, w := range row {
			z += w * x[j]
		}

		switch cl.Activation {
		case ReLU:
			a[i] = math32.Max(0, z)
		case Linear:
			a[i] = z
		case Sigmoid:
			a[i] = 1 / (1 + math32.Exp(-z))
		default:
			panic("unhandled activation function")
		}
	}
}

func softmax32(v []float32) {
	maxv := math32.Inf(-1)
	for _, x := range v {
		if x > maxv {
			maxv = x
		}
	}
	var sum float32
	for i, x := range v {
		v[i] = math32.Exp(x - maxv)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}
