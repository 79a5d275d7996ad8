package toolbox

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
)

// AF32 is a dense row-major float32 tensor, the element type of the
// safetensors export.
type AF32 struct {
	V     []float32
	Shape []int
}

func MakeAF32(shape ...int) *AF32 {
	for _, s := range shape {
		if s <= 0 {
			panic(fmt.Sprintf("invalid shape: %v", shape))
		}
	}
	size := 1
	for _, s := range shape {
		size *= s
	}

	return &AF32{
		V:     make([]float32, size),
		Shape: shape,
	}
}

func (a *AF32) At2(idx0, idx1 int) float32 {
	if len(a.Shape) != 2 {
		panic("At2() invalid for len(shape) != 2")
	}
	return a.V[idx0*a.Shape[1]+idx1]
}

func (a *AF32) Set2(idx0, idx1 int, v float32) {
	if len(a.Shape) != 2 {
		panic("Set2() invalid for len(shape) != 2")
	}
	a.V[idx0*a.Shape[1]+idx1] = v
}

// SafeTensors is the content of a safetensors file.
type SafeTensors struct {
	Tensors  map[string]*AF32
	Metadata map[string]string
}

type SafeTensorInfo struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets []int  `json:"data_offsets"`
}

const safeTensorsMetadataKey = "__metadata__"

func WriteSafeTensors(w io.Writer, st *SafeTensors) error {
	header := map[string]any{}
	if len(st.Metadata) > 0 {
		header[safeTensorsMetadataKey] = st.Metadata
	}

	keys := []string{}
	for k := range st.Tensors {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	dataOffset := 0
	for _, k := range keys {
		begin := dataOffset
		dataOffset += len(st.Tensors[k].V) * 4
		end := dataOffset

		header[k] = SafeTensorInfo{
			DType:       "F32",
			Shape:       st.Tensors[k].Shape,
			DataOffsets: []int{begin, end},
		}
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("while marshaling header: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return fmt.Errorf("while writing header length: %w", err)
	}

	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("while writing header: %w", err)
	}

	for _, k := range keys {
		if err := binary.Write(w, binary.LittleEndian, st.Tensors[k].V); err != nil {
			return fmt.Errorf("while writing %s values: %w", k, err)
		}
	}

	return nil
}

func ReadSafeTensors(r io.Reader) (*SafeTensors, error) {
	var headerLen uint64
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("while reading header length: %w", err)
	}
	if headerLen > 100<<20 {
		return nil, fmt.Errorf("header length %d is too large", headerLen)
	}

	headerBytes := make([]byte, int(headerLen))
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("while reading header: %w", err)
	}

	header := map[string]json.RawMessage{}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("while reading header: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("while reading tensor data: %w", err)
	}

	st := &SafeTensors{
		Tensors:  map[string]*AF32{},
		Metadata: map[string]string{},
	}
	for k, raw := range header {
		if k == safeTensorsMetadataKey {
			if err := json.Unmarshal(raw, &st.Metadata); err != nil {
				return nil, fmt.Errorf("while reading metadata: %w", err)
			}
			continue
		}

		var hdr SafeTensorInfo
		if err := json.Unmarshal(raw, &hdr); err != nil {
			return nil, fmt.Errorf("while reading header for %s: %w", k, err)
		}
		if hdr.DType != "F32" {
			return nil, fmt.Errorf("unsupported dtype %s", hdr.DType)
		}

		size := 1
		for _, s := range hdr.Shape {
			if s < 1 {
				return nil, fmt.Errorf("bad shape %v", hdr.Shape)
			}
			size *= s
		}

		if len(hdr.DataOffsets) != 2 {
			return nil, fmt.Errorf("bad data offsets %v for %s", hdr.DataOffsets, k)
		}
		begin, end := hdr.DataOffsets[0], hdr.DataOffsets[1]
		if begin < 0 || end > len(data) || end-begin != size*4 {
			return nil, fmt.Errorf("data offsets %v for %s do not fit shape %v in %d bytes", hdr.DataOffsets, k, hdr.Shape, len(data))
		}

		tensor := &AF32{
			V:     make([]float32, size),
			Shape: hdr.Shape,
		}
		if err := binary.Read(bytes.NewReader(data[begin:end]), binary.LittleEndian, tensor.V); err != nil {
			return nil, fmt.Errorf("while decoding %s: %w", k, err)
		}

		st.Tensors[k] = tensor
	}

	return st, nil
}

func weightKey(l int) string     { return fmt.Sprintf("net.%d.weights", l) }
func biasKey(l int) string       { return fmt.Sprintf("net.%d.biases", l) }
func activationKey(l int) string { return fmt.Sprintf("net.%d.activation", l) }

const (
	layersMetadataKey = "net.layers"
	lossMetadataKey   = "net.loss"
)

// DumpTensors exports the network parameters, narrowed to float32, with the
// layer activations and loss function recorded as metadata.
func (net *Network) DumpTensors() *SafeTensors {
	st := &SafeTensors{
		Tensors: map[string]*AF32{},
		Metadata: map[string]string{
			layersMetadataKey: strconv.Itoa(len(net.Layers)),
			lossMetadataKey:   strconv.Itoa(int(net.LossFunction)),
		},
	}
	for l, lay := range net.Layers {
		w := MakeAF32(lay.OutputSize, lay.InputSize)
		for i, v := range lay.W {
			w.V[i] = float32(v)
		}
		b := MakeAF32(lay.OutputSize)
		for i, v := range lay.B {
			b.V[i] = float32(v)
		}
		st.Tensors[weightKey(l)] = w
		st.Tensors[biasKey(l)] = b
		st.Metadata[activationKey(l)] = lay.Activation.String()
	}
	return st
}

// LoadTensors overwrites the network parameters from an export.  Shapes must
// match exactly.
func (net *Network) LoadTensors(st *SafeTensors) error {
	for l, lay := range net.Layers {
		w, err := lookupTensor(st, weightKey(l), lay.OutputSize, lay.InputSize)
		if err != nil {
			return err
		}
		b, err := lookupTensor(st, biasKey(l), lay.OutputSize)
		if err != nil {
			return err
		}
		for i, v := range w.V {
			lay.W[i] = float64(v)
		}
		for i, v := range b.V {
			lay.B[i] = float64(v)
		}
	}
	return nil
}

func lookupTensor(st *SafeTensors, key string, shape ...int) (*AF32, error) {
	t, ok := st.Tensors[key]
	if !ok {
		return nil, fmt.Errorf("no entry for %s", key)
	}
	if !slices.Equal(t.Shape, shape) {
		return nil, fmt.Errorf("wrong shape for %s; got %v want %v: %w", key, t.Shape, shape, ErrShapeMismatch)
	}
	return t, nil
}
