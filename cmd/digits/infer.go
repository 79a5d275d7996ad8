package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"slices"

	"github.com/ahmedtd/digits/mnist"
	"github.com/ahmedtd/digits/toolbox"
	"github.com/google/subcommands"
)

type InferCommand struct {
	weightsFile string
	imageFile   string
	hidden      string
	invert      bool
	top         int
}

var _ subcommands.Command = (*InferCommand)(nil)

func (*InferCommand) Name() string {
	return "infer"
}

func (*InferCommand) Synopsis() string {
	return "Infer using the model weights"
}

func (*InferCommand) Usage() string {
	return ``
}

func (c *InferCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.weightsFile, "weights", "weights/pesos.csv", "Path to the weights produced by the train command (.csv) or the export command (.safetensors)")
	f.StringVar(&c.imageFile, "image", "", "Path to the 28x28 image to predict")
	f.StringVar(&c.hidden, "hidden", "256,128", "Comma-separated hidden layer sizes (.csv weights only)")
	f.BoolVar(&c.invert, "invert", false, "Invert the image first, for dark digits on a light background")
	f.IntVar(&c.top, "top", 5, "Number of most probable digits to print")
}

func (c *InferCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *InferCommand) executeErr(ctx context.Context) error {
	x, err := mnist.LoadImageFile(c.imageFile, c.invert)
	if err != nil {
		return fmt.Errorf("while loading image: %w", err)
	}

	var probabilities []float64
	if filepath.Ext(c.weightsFile) == ".safetensors" {
		probabilities, err = c.inferCompact(x)
	} else {
		probabilities, err = c.inferNetwork(x)
	}
	if err != nil {
		return err
	}

	log.Printf("Prediction: %d", toolbox.ArgMax(probabilities))
	for _, digit := range topK(probabilities, c.top) {
		log.Printf("  %d: %6.2f%%", digit, probabilities[digit]*100)
	}
	return nil
}

func (c *InferCommand) inferNetwork(x []float64) ([]float64, error) {
	arch, err := digitArchitecture(c.hidden)
	if err != nil {
		return nil, err
	}
	// Every parameter is overwritten by the weight file.
	net, err := toolbox.MakeNetwork(arch, toolbox.SoftmaxCrossEntropy, rand.New(rand.NewSource(1)))
	if err != nil {
		return nil, fmt.Errorf("while building network: %w", err)
	}
	if err := net.LoadWeightsFile(c.weightsFile); err != nil {
		return nil, err
	}
	return net.Forward(x), nil
}

func (c *InferCommand) inferCompact(x []float64) ([]float64, error) {
	f, err := os.Open(c.weightsFile)
	if err != nil {
		return nil, fmt.Errorf("while opening weights file: %w", err)
	}
	defer f.Close()

	tensors, err := toolbox.ReadSafeTensors(f)
	if err != nil {
		return nil, fmt.Errorf("while reading weight tensors: %w", err)
	}
	compact, err := toolbox.LoadCompact(tensors)
	if err != nil {
		return nil, fmt.Errorf("while restoring network: %w", err)
	}
	if got := compact.Layers[0].InputSize(); got != len(x) {
		return nil, fmt.Errorf("network takes %d inputs but the image has %d pixels", got, len(x))
	}

	x32 := make([]float32, len(x))
	for j, v := range x {
		x32[j] = float32(v)
	}
	out := compact.Apply(x32)

	probabilities := make([]float64, len(out))
	for i, v := range out {
		probabilities[i] = float64(v)
	}
	return probabilities, nil
}

// topK returns the indices of the k largest values, largest first.
func topK(v []float64, k int) []int {
	indices := make([]int, len(v))
	for i := range indices {
		indices[i] = i
	}
	slices.SortStableFunc(indices, func(a, b int) int {
		switch {
		case v[a] > v[b]:
			return -1
		case v[a] < v[b]:
			return 1
		default:
			return 0
		}
	})
	return indices[:max(0, min(k, len(indices)))]
}
