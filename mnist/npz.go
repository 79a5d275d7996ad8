package mnist

import (
	"fmt"

	"github.com/sbinet/npyio/npz"
)

// LoadNPZ reads the Keras mnist.npz bundle, which holds x_train, y_train,
// x_test and y_test as uint8 arrays.  Pixels are standardized the same way
// as the IDX reader does it.
func LoadNPZ(path string, limit int) (train, test *Dataset, err error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("while opening mnist data file: %w", err)
	}
	defer r.Close()

	train, err = readNPZSplit(r, "x_train.npy", "y_train.npy", limit)
	if err != nil {
		return nil, nil, err
	}
	test, err = readNPZSplit(r, "x_test.npy", "y_test.npy", limit)
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func readNPZSplit(r *npz.Reader, imagesName, labelsName string, limit int) (*Dataset, error) {
	imagesHeader := r.Header(imagesName)
	if imagesHeader == nil {
		return nil, fmt.Errorf("no %s in archive", imagesName)
	}

	// numpy writes C order regardless of what the format allows, so the
	// last index is contiguous.
	var pixels []uint8
	if err := r.Read(imagesName, &pixels); err != nil {
		return nil, fmt.Errorf("while reading %s: %w", imagesName, err)
	}

	var labels []uint8
	if err := r.Read(labelsName, &labels); err != nil {
		return nil, fmt.Errorf("while reading %s: %w", labelsName, err)
	}

	ds, err := datasetFromArrays(pixels, imagesHeader.Descr.Shape, labels, limit)
	if err != nil {
		return nil, fmt.Errorf("while converting %s: %w", imagesName, err)
	}
	return ds, nil
}

// datasetFromArrays splits a (count, rows, cols) pixel array into images.
func datasetFromArrays(pixels []uint8, shape []int, labels []uint8, limit int) (*Dataset, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("want image shape (count, rows, cols), got %v", shape)
	}
	count, rows, cols := shape[0], shape[1], shape[2]
	size := rows * cols
	if len(pixels) != count*size {
		return nil, fmt.Errorf("shape %v needs %d pixels, got %d", shape, count*size, len(pixels))
	}
	if len(labels) != count {
		return nil, fmt.Errorf("%d images but %d labels: %w", count, len(labels), ErrCountMismatch)
	}

	n := samplesToRead(uint32(count), limit)
	ds := &Dataset{
		Images: make([][]float64, n),
		Labels: make([]int, n),
		Rows:   rows,
		Cols:   cols,
	}
	for k := 0; k < n; k++ {
		img := make([]float64, size)
		for j, b := range pixels[k*size : (k+1)*size] {
			img[j] = Normalize(b)
		}
		ds.Images[k] = img
		ds.Labels[k] = int(labels[k])
	}
	return ds, nil
}
