package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/ahmedtd/digits/toolbox"
	"github.com/google/subcommands"
)

type ExportCommand struct {
	weightsFile string
	hidden      string
	outputFile  string
}

var _ subcommands.Command = (*ExportCommand)(nil)

func (*ExportCommand) Name() string {
	return "export"
}

func (*ExportCommand) Synopsis() string {
	return "Convert trained weights to safetensors for float32 inference"
}

func (*ExportCommand) Usage() string {
	return ``
}

func (c *ExportCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.weightsFile, "weights", "weights/pesos.csv", "Path to the weights produced by the train command")
	f.StringVar(&c.hidden, "hidden", "256,128", "Comma-separated hidden layer sizes")
	f.StringVar(&c.outputFile, "output", "weights/digits.safetensors", "Path to write the safetensors file")
}

func (c *ExportCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *ExportCommand) executeErr(ctx context.Context) error {
	arch, err := digitArchitecture(c.hidden)
	if err != nil {
		return err
	}
	net, err := toolbox.MakeNetwork(arch, toolbox.SoftmaxCrossEntropy, rand.New(rand.NewSource(1)))
	if err != nil {
		return fmt.Errorf("while building network: %w", err)
	}
	if err := net.LoadWeightsFile(c.weightsFile); err != nil {
		return err
	}

	if err := writeTensorsFile(c.outputFile, net.DumpTensors()); err != nil {
		return err
	}

	log.Printf("Exported %s (%s) to %s", c.weightsFile, arch, c.outputFile)
	return nil
}

func writeTensorsFile(path string, st *toolbox.SafeTensors) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("while creating safetensors file: %w", err)
	}
	defer f.Close()

	if err := toolbox.WriteSafeTensors(f, st); err != nil {
		return fmt.Errorf("while writing tensors: %w", err)
	}

	return f.Close()
}
