package toolbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

// ErrLossLog marks a failure to write the per-epoch loss log.  Training
// carries on past it.
var ErrLossLog = errors.New("loss log")

const (
	DefaultLearningRate     = 0.1
	DefaultLossThreshold    = 0.005
	DefaultBatchSize        = 64
	DefaultDivergenceWindow = 10
)

// TrainState is a step of the training state machine.
type TrainState int

const (
	Initializing TrainState = iota
	EpochStart
	BatchProcessing
	EpochEnd
	Converged
	Diverging
	Stopped
)

func (s TrainState) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case EpochStart:
		return "epoch-start"
	case BatchProcessing:
		return "batch-processing"
	case EpochEnd:
		return "epoch-end"
	case Converged:
		return "converged"
	case Diverging:
		return "diverging"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("TrainState(%d)", int(s))
	}
}

// StopReason says which condition ended a training run.
type StopReason int

const (
	StopConverged StopReason = iota
	StopDiverged
	StopEpochLimit
	StopCanceled
)

func (r StopReason) String() string {
	switch r {
	case StopConverged:
		return "converged"
	case StopDiverged:
		return "diverged"
	case StopEpochLimit:
		return "epoch-limit"
	case StopCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

type TrainConfig struct {
	LearningRate float64

	// Training stops once an epoch's mean loss is below LossThreshold.
	LossThreshold float64

	BatchSize int

	// Every DivergenceWindow epochs, training stops if the loss is higher
	// than it was DivergenceWindow entries back in the loss history.
	DivergenceWindow int

	// MaxEpochs caps the number of epochs.  0 means no cap: the run ends
	// only by convergence, divergence or cancellation.
	MaxEpochs int

	// Rand drives the per-epoch shuffle.  If nil, a source seeded from the
	// clock is created for this call.
	Rand *rand.Rand

	// LossLogPath receives one line per epoch.  Empty disables the log.
	LossLogPath string

	// WeightsPath receives the weights when the loop exits.  Empty disables
	// saving.
	WeightsPath string

	// Logf, if set, receives progress messages.
	Logf func(format string, args ...any)

	// OnState, if set, is called on every state transition.
	OnState func(state TrainState, epoch int)
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LearningRate:     DefaultLearningRate,
		LossThreshold:    DefaultLossThreshold,
		BatchSize:        DefaultBatchSize,
		DivergenceWindow: DefaultDivergenceWindow,
	}
}

type TrainResult struct {
	Epochs      int
	LossHistory []float64
	Reason      StopReason
	Duration    time.Duration
}

// FinalLoss is the mean loss of the last completed epoch.
func (r *TrainResult) FinalLoss() float64 {
	if len(r.LossHistory) == 0 {
		return 0
	}
	return r.LossHistory[len(r.LossHistory)-1]
}

// Train runs mini-batch gradient descent over inputs/targets until the loss
// drops below cfg.LossThreshold or the divergence guard fires.  The caller's
// slices are not reordered.
//
// On exit the weights are saved to cfg.WeightsPath.  A failure writing the
// loss log does not stop training; it is reported in the returned error
// (wrapping ErrLossLog) alongside a non-nil result.
func (net *Network) Train(ctx context.Context, inputs, targets [][]float64, cfg TrainConfig) (*TrainResult, error) {
	if len(inputs) != len(targets) {
		return nil, fmt.Errorf("while starting training with %d inputs and %d targets: %w", len(inputs), len(targets), ErrLengthMismatch)
	}
	if len(inputs) == 0 {
		return nil, errors.New("no training samples")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0 (got %d)", cfg.BatchSize)
	}
	if cfg.DivergenceWindow <= 0 {
		cfg.DivergenceWindow = DefaultDivergenceWindow
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	state := func(s TrainState, epoch int) {
		if cfg.OnState != nil {
			cfg.OnState(s, epoch)
		}
	}

	start := time.Now()
	state(Initializing, 0)

	// Shuffle our own copies so the caller's order survives.
	xs := append([][]float64(nil), inputs...)
	ys := append([][]float64(nil), targets...)

	lossLog, logErr := openLossLog(cfg.LossLogPath)
	if logErr != nil {
		logf("Error: %v", logErr)
	}

	res := &TrainResult{}
	progressInterval := max(1, len(xs)/20)

	runErr := func() error {
		for {
			if err := ctx.Err(); err != nil {
				res.Reason = StopCanceled
				state(Stopped, res.Epochs)
				return err
			}

			state(EpochStart, res.Epochs+1)
			cfg.Rand.Shuffle(len(xs), func(i, j int) {
				xs[i], xs[j] = xs[j], xs[i]
				ys[i], ys[j] = ys[j], ys[i]
			})

			state(BatchProcessing, res.Epochs+1)
			var totalLoss float64
			samples := 0
			for begin := 0; begin < len(xs); begin += cfg.BatchSize {
				end := min(begin+cfg.BatchSize, len(xs))
				net.ResetGradients()
				for k := begin; k < end; k++ {
					totalLoss += net.trainSample(xs[k], ys[k])
					samples++
					if samples%progressInterval == 0 || samples == len(xs) {
						logf("epoch %d sample %d/%d partial-loss=%.6f", res.Epochs+1, samples, len(xs), totalLoss/float64(samples))
					}
				}
				net.ApplyGradients(cfg.LearningRate, end-begin)
			}

			epochLoss := totalLoss / float64(len(xs))
			res.LossHistory = append(res.LossHistory, epochLoss)
			res.Epochs++
			state(EpochEnd, res.Epochs)

			if lossLog != nil {
				if err := lossLog.append(epochLoss); err != nil && logErr == nil {
					logErr = err
					logf("Error: %v", err)
				}
			}

			if len(res.LossHistory) > 1 {
				logf("epoch %d loss=%.6f delta=%.6f", res.Epochs, epochLoss, epochLoss-res.LossHistory[len(res.LossHistory)-2])
			} else {
				logf("epoch %d loss=%.6f", res.Epochs, epochLoss)
			}

			if epochLoss < cfg.LossThreshold {
				res.Reason = StopConverged
				state(Converged, res.Epochs)
				logf("converged at epoch %d with loss=%.6f", res.Epochs, epochLoss)
				return nil
			}

			w := cfg.DivergenceWindow
			if res.Epochs >= w && res.Epochs%w == 0 {
				if epochLoss > res.LossHistory[len(res.LossHistory)-w] {
					res.Reason = StopDiverged
					state(Diverging, res.Epochs)
					logf("loss increased at epoch %d, stopping", res.Epochs)
					return nil
				}
			}

			if cfg.MaxEpochs > 0 && res.Epochs >= cfg.MaxEpochs {
				res.Reason = StopEpochLimit
				state(Stopped, res.Epochs)
				return nil
			}
		}
	}()

	if lossLog != nil {
		if err := lossLog.close(); err != nil && logErr == nil {
			logErr = err
			logf("Error: %v", err)
		}
	}

	var saveErr error
	if cfg.WeightsPath != "" {
		if err := net.SaveWeightsFile(cfg.WeightsPath); err != nil {
			saveErr = fmt.Errorf("while saving weights: %w", err)
		} else {
			logf("weights saved to %s", cfg.WeightsPath)
		}
	}

	res.Duration = time.Since(start)
	return res, errors.Join(runErr, saveErr, logErr)
}

type lossLogger struct {
	f *os.File
	w *bufio.Writer
}

func openLossLog(path string) (*lossLogger, error) {
	if path == "" {
		return nil, nil
	}
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("%w: while creating directory: %w", ErrLossLog, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: while creating file: %w", ErrLossLog, err)
	}
	return &lossLogger{f: f, w: bufio.NewWriter(f)}, nil
}

// append writes one epoch loss and flushes, so the log is current while
// training runs.
func (l *lossLogger) append(loss float64) error {
	if _, err := fmt.Fprintf(l.w, "%.10f\n", loss); err != nil {
		return fmt.Errorf("%w: while writing: %w", ErrLossLog, err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("%w: while flushing: %w", ErrLossLog, err)
	}
	return nil
}

func (l *lossLogger) close() error {
	flushErr := l.w.Flush()
	closeErr := l.f.Close()
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("%w: while closing: %w", ErrLossLog, err)
	}
	return nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
