package testutil

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// BlockImage returns a 256x256 grayscale image made of 8x8 flat cells whose
// shades are drawn from seed. Different seeds give visually different images.
func BlockImage(seed int64) *image.Gray {
	r := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, 256, 256))
	for cy := 0; cy < 8; cy++ {
		for cx := 0; cx < 8; cx++ {
			shade := color.Gray{Y: uint8(r.Intn(256))}
			for y := cy * 32; y < (cy+1)*32; y++ {
				for x := cx * 32; x < (cx+1)*32; x++ {
					img.SetGray(x, y, shade)
				}
			}
		}
	}
	return img
}

// Touched returns a copy of img with a small square near the corner inverted.
func Touched(img *image.Gray) *image.Gray {
	out := image.NewGray(img.Bounds())
	copy(out.Pix, img.Pix)
	for y := 4; y < 8; y++ {
		for x := 4; x < 8; x++ {
			out.SetGray(x, y, color.Gray{Y: 255 - img.GrayAt(x, y).Y})
		}
	}
	return out
}

// WriteImage encodes img at path as JPEG when the extension says so and as
// PNG otherwise.
func WriteImage(t *testing.T, path string, img image.Image) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating directory for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		t.Fatalf("encoding %s: %v", path, err)
	}
	return path
}
