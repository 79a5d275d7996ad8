package mnist

import (
	"fmt"
	"image"
	"image/color"
	"os"

	_ "image/jpeg"
	_ "image/png"
)

const (
	ImageRows = 28
	ImageCols = 28
)

// ImageVector converts a 28x28 image into a standardized input vector.
//
// MNIST digits are light strokes on a dark background.  Set invert for
// images drawn dark on light.
func ImageVector(img image.Image, invert bool) ([]float64, error) {
	bounds := img.Bounds()
	if bounds.Dx() != ImageCols || bounds.Dy() != ImageRows {
		return nil, fmt.Errorf("image is %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), ImageCols, ImageRows)
	}

	out := make([]float64, 0, ImageRows*ImageCols)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y) / 255
			if invert {
				v = 1 - v
			}
			out = append(out, (v-Mean)/Std)
		}
	}
	return out, nil
}

// LoadImageFile decodes a PNG or JPEG file with ImageVector.
func LoadImageFile(path string, invert bool) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("while opening image file: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("while decoding image: %w", err)
	}

	return ImageVector(img, invert)
}
