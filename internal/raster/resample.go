package raster

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

type ResampleError struct {
	Height int
	Width  int
	Reason string
}

func (e *ResampleError) Error() string {
	return fmt.Sprintf("resample raster to %dx%d: %s", e.Height, e.Width, e.Reason)
}

func (e *ResampleError) Is(target error) bool { return target == ErrResample }

// Resample aligns src to height x width with nearest-neighbor sampling, the
// only policy that keeps category and mask values intact. A grid already at
// the target shape is returned as a copy.
func Resample(src *Grid, height, width int) (*Grid, error) {
	if height <= 0 || width <= 0 {
		return nil, &ResampleError{Height: height, Width: width, Reason: "non-positive target dimensions"}
	}
	if !src.Valid() {
		return nil, &ResampleError{Height: height, Width: width, Reason: "invalid source grid"}
	}
	if src.Height == height && src.Width == width {
		return src.Clone(), nil
	}

	dr := image.Rect(0, 0, width, height)
	srcImg := src.image()
	if src.Depth == Depth8 {
		dst := image.NewGray(dr)
		draw.NearestNeighbor.Scale(dst, dr, srcImg, srcImg.Bounds(), draw.Src, nil)
		return fromGray(dst), nil
	}
	dst := image.NewGray16(dr)
	draw.NearestNeighbor.Scale(dst, dr, srcImg, srcImg.Bounds(), draw.Src, nil)
	return fromGray16(dst), nil
}
