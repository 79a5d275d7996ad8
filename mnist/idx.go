// Package mnist reads the MNIST handwritten digit data set.
//
// The canonical source is the four IDX files published with the data set
// (train-images-idx3-ubyte and friends).  The Keras mnist.npz bundle and
// single PNG/JPEG images are also supported.
package mnist

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	ImageMagic = 2051
	LabelMagic = 2049

	// Mean and Std are the pixel statistics of the MNIST training set, after
	// scaling to [0, 1].
	Mean = 0.1307
	Std  = 0.3081
)

var (
	ErrBadMagic      = errors.New("bad IDX magic number")
	ErrCountMismatch = errors.New("image and label counts differ")
)

// Dataset is a set of standardized images and their digit labels.
type Dataset struct {
	// Each image is Rows*Cols pixels in row-major order.
	Images [][]float64
	Labels []int

	Rows, Cols int
}

func (d *Dataset) Len() int {
	return len(d.Images)
}

// Normalize maps a raw pixel byte to the standardized input scale.
func Normalize(b byte) float64 {
	return (float64(b)/255 - Mean) / Std
}

// Load reads a pair of IDX files.  limit <= 0 reads every sample; otherwise
// at most limit samples are read from each file.
func Load(imagesPath, labelsPath string, limit int) (*Dataset, error) {
	images, rows, cols, err := LoadImages(imagesPath, limit)
	if err != nil {
		return nil, err
	}
	labels, err := LoadLabels(labelsPath, limit)
	if err != nil {
		return nil, err
	}
	if len(images) != len(labels) {
		return nil, fmt.Errorf("%s has %d images but %s has %d labels: %w", imagesPath, len(images), labelsPath, len(labels), ErrCountMismatch)
	}

	return &Dataset{
		Images: images,
		Labels: labels,
		Rows:   rows,
		Cols:   cols,
	}, nil
}

func LoadImages(path string, limit int) (images [][]float64, rows, cols int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("while opening image file: %w", err)
	}
	defer f.Close()

	images, rows, cols, err = ReadImages(bufio.NewReader(f), limit)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("while reading %s: %w", path, err)
	}
	return images, rows, cols, nil
}

func LoadLabels(path string, limit int) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("while opening label file: %w", err)
	}
	defer f.Close()

	labels, err := ReadLabels(bufio.NewReader(f), limit)
	if err != nil {
		return nil, fmt.Errorf("while reading %s: %w", path, err)
	}
	return labels, nil
}

// ReadImages decodes an IDX image stream:
//
//	magic number: 2051
//	number of images: 4 bytes
//	number of rows: 4 bytes
//	number of cols: 4 bytes
//	pixel data: rows*cols unsigned bytes per image
//
// All integers are big-endian.
func ReadImages(r io.Reader, limit int) (images [][]float64, rows, cols int, err error) {
	var hdr struct {
		Magic, Count, Rows, Cols uint32
	}
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, 0, 0, fmt.Errorf("while reading header: %w", err)
	}
	if hdr.Magic != ImageMagic {
		return nil, 0, 0, fmt.Errorf("got %d, want %d: %w", hdr.Magic, ImageMagic, ErrBadMagic)
	}
	if hdr.Rows == 0 || hdr.Cols == 0 {
		return nil, 0, 0, fmt.Errorf("bad image size %dx%d", hdr.Rows, hdr.Cols)
	}

	n := samplesToRead(hdr.Count, limit)
	pixels := int(hdr.Rows) * int(hdr.Cols)
	buf := make([]byte, pixels)

	images = make([][]float64, n)
	for i := range images {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, 0, 0, fmt.Errorf("while reading image %d: %w", i, err)
		}
		img := make([]float64, pixels)
		for j, b := range buf {
			img[j] = Normalize(b)
		}
		images[i] = img
	}

	return images, int(hdr.Rows), int(hdr.Cols), nil
}

// ReadLabels decodes an IDX label stream: magic number 2049, a big-endian
// count, then one unsigned byte per label.
func ReadLabels(r io.Reader, limit int) ([]int, error) {
	var hdr struct {
		Magic, Count uint32
	}
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("while reading header: %w", err)
	}
	if hdr.Magic != LabelMagic {
		return nil, fmt.Errorf("got %d, want %d: %w", hdr.Magic, LabelMagic, ErrBadMagic)
	}

	raw := make([]byte, samplesToRead(hdr.Count, limit))
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("while reading labels: %w", err)
	}

	labels := make([]int, len(raw))
	for i, b := range raw {
		labels[i] = int(b)
	}
	return labels, nil
}

func samplesToRead(count uint32, limit int) int {
	if limit > 0 && limit < int(count) {
		return limit
	}
	return int(count)
}
