package mnist

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImageVector(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, ImageCols, ImageRows))
	img.SetGray(3, 0, color.Gray{Y: 255})
	img.SetGray(0, 2, color.Gray{Y: 51})

	v, err := ImageVector(img, false)
	require.NoError(t, err)
	require.Len(t, v, ImageRows*ImageCols)
	require.InDelta(t, Normalize(255), v[3], 1e-12)
	require.InDelta(t, Normalize(51), v[2*ImageCols], 1e-12)
	require.InDelta(t, Normalize(0), v[5], 1e-12)

	inverted, err := ImageVector(img, true)
	require.NoError(t, err)
	require.InDelta(t, Normalize(0), inverted[3], 1e-12)
	require.InDelta(t, Normalize(255), inverted[5], 1e-12)
}

func TestImageVectorRejectsWrongSize(t *testing.T) {
	_, err := ImageVector(image.NewGray(image.Rect(0, 0, 32, 28)), false)
	require.Error(t, err)
}

func TestLoadImageFile(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, ImageCols, ImageRows))
	img.Set(10, 10, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	path := filepath.Join(t.TempDir(), "digit.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	v, err := LoadImageFile(path, false)
	require.NoError(t, err)
	require.InDelta(t, Normalize(255), v[10*ImageCols+10], 1e-12)

	_, err = LoadImageFile(filepath.Join(t.TempDir(), "missing.png"), false)
	require.ErrorIs(t, err, os.ErrNotExist)
}
