package toolbox

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrShapeMismatch marks a weight file whose layout does not match the
// network it is loaded into.
var ErrShapeMismatch = errors.New("weight file does not match network shape")

// SaveWeights writes one line per neuron, layers in order and neurons in
// order within each layer.  A line holds the neuron's weights followed by its
// bias, comma-separated.  Values are written with the shortest representation
// that parses back to the same float64.
func (net *Network) SaveWeights(w io.Writer) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 32)
	for l, lay := range net.Layers {
		for i := 0; i < lay.OutputSize; i++ {
			n := lay.Neuron(i)
			for _, v := range n.Weights() {
				buf = strconv.AppendFloat(buf[:0], v, 'g', -1, 64)
				buf = append(buf, ',')
				bw.Write(buf) // bufio errors are sticky, checked at end of line
			}
			buf = strconv.AppendFloat(buf[:0], n.Bias(), 'g', -1, 64)
			buf = append(buf, '\n')
			if _, err := bw.Write(buf); err != nil {
				return fmt.Errorf("while writing layer %d neuron %d: %w", l, i, err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("while flushing weights: %w", err)
	}
	return nil
}

// LoadWeights reads the format written by SaveWeights, overwriting weights
// and biases in place.  It stops at the first bad line; neurons loaded before
// it keep their new values.  Lines after the last neuron are ignored.
func (net *Network) LoadWeights(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	lineNo := 0
	values := []float64{}
	for l, lay := range net.Layers {
		for i := 0; i < lay.OutputSize; i++ {
			if !sc.Scan() {
				if err := sc.Err(); err != nil {
					return fmt.Errorf("while reading line %d: %w", lineNo+1, err)
				}
				return fmt.Errorf("weight file ended after %d lines, want layer %d neuron %d: %w", lineNo, l, i, ErrShapeMismatch)
			}
			lineNo++

			tokens := strings.Split(sc.Text(), ",")
			n := lay.Neuron(i)
			if got, want := len(tokens)-1, lay.InputSize; got != want {
				return fmt.Errorf("line %d: got %d weights + 1 bias, want %d weights + 1 bias: %w", lineNo, got, want, ErrShapeMismatch)
			}

			values = values[:0]
			for j, tok := range tokens {
				v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
				if err != nil {
					return fmt.Errorf("line %d value %d: %w", lineNo, j, err)
				}
				values = append(values, v)
			}

			copy(n.Weights(), values[:lay.InputSize])
			n.SetBias(values[lay.InputSize])
		}
	}
	return nil
}

// SaveWeightsFile writes the weights to path, creating its directory if needed.
func (net *Network) SaveWeightsFile(path string) error {
	if err := ensureParentDir(path); err != nil {
		return fmt.Errorf("while creating directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("while creating weights file: %w", err)
	}
	if err := net.SaveWeights(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("while closing weights file: %w", err)
	}
	return nil
}

func (net *Network) LoadWeightsFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("while opening weights file: %w", err)
	}
	defer f.Close()

	if err := net.LoadWeights(f); err != nil {
		return fmt.Errorf("while loading %s: %w", path, err)
	}
	return nil
}
