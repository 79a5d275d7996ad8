// Command digits trains and runs the MNIST digit classifier.
//
// To train and then test: `go run ./cmd/digits train`
//
// To test saved weights only: `go run ./cmd/digits train --test-only`
//
// To infer: `go run ./cmd/digits infer --weights=weights/pesos.csv --image=five.png --invert`
//
// The IDX files are expected under data/ (see --train-images and friends).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/ahmedtd/digits/mnist"
	"github.com/ahmedtd/digits/toolbox"
	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&TrainCommand{}, "")
	subcommands.Register(&InferCommand{}, "")
	subcommands.Register(&ExportCommand{}, "")

	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	status := subcommands.Execute(ctx)
	stop()
	os.Exit(int(status))
}

type TrainCommand struct {
	trainImages string
	trainLabels string
	testImages  string
	testLabels  string
	npzFile     string

	trainLimit int
	testLimit  int

	hidden           string
	learningRate     float64
	lossThreshold    float64
	batchSize        int
	divergenceWindow int
	maxEpochs        int
	seed             int64

	weightsFile        string
	lossLogFile        string
	fromCheckpointFile string
	testOnly           bool

	cpuProfileFile string
}

var _ subcommands.Command = (*TrainCommand)(nil)

func (*TrainCommand) Name() string {
	return "train"
}

func (*TrainCommand) Synopsis() string {
	return "Train the model, then test it"
}

func (*TrainCommand) Usage() string {
	return ``
}

func (c *TrainCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.trainImages, "train-images", "data/train-images-idx3-ubyte", "Path to the IDX training images")
	f.StringVar(&c.trainLabels, "train-labels", "data/train-labels-idx1-ubyte", "Path to the IDX training labels")
	f.StringVar(&c.testImages, "test-images", "data/t10k-images-idx3-ubyte", "Path to the IDX test images")
	f.StringVar(&c.testLabels, "test-labels", "data/t10k-labels-idx1-ubyte", "Path to the IDX test labels")
	f.StringVar(&c.npzFile, "npz", "", "Read both splits from a Keras mnist.npz file instead of the IDX files")

	f.IntVar(&c.trainLimit, "limit", 60000, "Maximum number of training samples (<= 0 reads all)")
	f.IntVar(&c.testLimit, "test-limit", 10000, "Maximum number of test samples (<= 0 reads all)")

	f.StringVar(&c.hidden, "hidden", "256,128", "Comma-separated hidden layer sizes")
	f.Float64Var(&c.learningRate, "lr", toolbox.DefaultLearningRate, "Learning rate")
	f.Float64Var(&c.lossThreshold, "threshold", toolbox.DefaultLossThreshold, "Stop once the mean epoch loss is below this")
	f.IntVar(&c.batchSize, "batch-size", toolbox.DefaultBatchSize, "Mini-batch size")
	f.IntVar(&c.divergenceWindow, "divergence-window", toolbox.DefaultDivergenceWindow, "Epochs between loss increase checks")
	f.IntVar(&c.maxEpochs, "max-epochs", 0, "Maximum number of epochs (0 means no limit)")
	f.Int64Var(&c.seed, "seed", 0, "Seed for initialization and shuffling (0 seeds from the clock)")

	f.StringVar(&c.weightsFile, "weights", "weights/pesos.csv", "Path to save trained weights, or to load them with --test-only")
	f.StringVar(&c.lossLogFile, "loss-log", "weights/mse_values.txt", "Path to the per-epoch loss log")
	f.StringVar(&c.fromCheckpointFile, "from-checkpoint", "", "Path to initial weights to load for training")
	f.BoolVar(&c.testOnly, "test-only", false, "Skip training and test the weights in --weights")

	f.StringVar(&c.cpuProfileFile, "cpu-profile", "", "Write a CPU profile")
}

func (c *TrainCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *TrainCommand) executeErr(ctx context.Context) error {
	if c.cpuProfileFile != "" {
		f, err := os.Create(c.cpuProfileFile)
		if err != nil {
			return fmt.Errorf("while creating CPU profile file: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("while starting CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	arch, err := digitArchitecture(c.hidden)
	if err != nil {
		return err
	}

	seed := c.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(seed))

	log.Printf("Architecture: %s", arch)
	log.Printf("Learning rate: %v, loss threshold: %v, batch size: %d, seed: %d", c.learningRate, c.lossThreshold, c.batchSize, seed)

	train, test, err := c.loadData()
	if err != nil {
		return fmt.Errorf("while loading MNIST data set: %w", err)
	}
	if train != nil {
		log.Printf("Training data: %d images", train.Len())
	} else {
		log.Printf("Test-only mode: loaded only the test data")
	}
	log.Printf("Test data: %d images", test.Len())

	net, err := toolbox.MakeNetwork(arch, toolbox.SoftmaxCrossEntropy, r)
	if err != nil {
		return fmt.Errorf("while building network: %w", err)
	}

	if c.testOnly {
		log.Printf("Skipping training; loading weights from %s", c.weightsFile)
		if err := net.LoadWeightsFile(c.weightsFile); err != nil {
			return err
		}
	} else {
		if c.fromCheckpointFile != "" {
			if err := net.LoadWeightsFile(c.fromCheckpointFile); err != nil {
				return fmt.Errorf("while loading initial checkpoint: %w", err)
			}
		}

		cfg := toolbox.DefaultTrainConfig()
		cfg.LearningRate = c.learningRate
		cfg.LossThreshold = c.lossThreshold
		cfg.BatchSize = c.batchSize
		cfg.DivergenceWindow = c.divergenceWindow
		cfg.MaxEpochs = c.maxEpochs
		cfg.Rand = r
		cfg.LossLogPath = c.lossLogFile
		cfg.WeightsPath = c.weightsFile
		cfg.Logf = log.Printf

		res, err := net.Train(ctx, train.Images, toolbox.OneHotAll(train.Labels, arch.OutputSize), cfg)
		if res != nil {
			log.Printf("Training finished (%v) after %d epochs in %.1f seconds, final loss %.6f",
				res.Reason, res.Epochs, res.Duration.Seconds(), res.FinalLoss())
		}
		if ctx.Err() != nil {
			return fmt.Errorf("while training: %w", err)
		}
		if err != nil {
			// Loss log and weight file failures leave the trained network
			// usable, so go on to test it.
			log.Printf("Error: %v", err)
		}
	}

	testStart := time.Now()
	res, err := net.Test(test.Images, test.Labels)
	if err != nil {
		return fmt.Errorf("while testing: %w", err)
	}
	log.Printf("Test accuracy: %.2f%% (%d/%d), loss=%.6f", res.Accuracy, res.Correct, res.Total, res.Loss)
	log.Printf("Test time: %.1f seconds", time.Since(testStart).Seconds())

	return nil
}

// loadData returns a nil training set in test-only mode.
func (c *TrainCommand) loadData() (train, test *mnist.Dataset, err error) {
	if c.npzFile != "" {
		train, test, err = mnist.LoadNPZ(c.npzFile, 0)
		if err != nil {
			return nil, nil, err
		}
		train = limitDataset(train, c.trainLimit)
		test = limitDataset(test, c.testLimit)
		if c.testOnly {
			train = nil
		}
		return train, test, nil
	}

	if !c.testOnly {
		train, err = mnist.Load(c.trainImages, c.trainLabels, c.trainLimit)
		if err != nil {
			return nil, nil, err
		}
	}
	test, err = mnist.Load(c.testImages, c.testLabels, c.testLimit)
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func limitDataset(ds *mnist.Dataset, limit int) *mnist.Dataset {
	if limit <= 0 || limit >= ds.Len() {
		return ds
	}
	ds.Images = ds.Images[:limit]
	ds.Labels = ds.Labels[:limit]
	return ds
}

// digitArchitecture is the 28x28 -> hidden... -> 10 classifier with the given
// comma-separated hidden sizes.
func digitArchitecture(hidden string) (toolbox.Architecture, error) {
	arch := toolbox.DigitArchitecture()
	sizes, err := parseSizes(hidden)
	if err != nil {
		return toolbox.Architecture{}, fmt.Errorf("while parsing hidden layer sizes: %w", err)
	}
	arch.HiddenSizes = sizes
	return arch, nil
}

func parseSizes(s string) ([]int, error) {
	sizes := []int{}
	if strings.TrimSpace(s) == "" {
		return sizes, nil
	}
	for _, field := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("layer size %d must be > 0", n)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}
