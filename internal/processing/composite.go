package processing

import (
	"errors"
	"fmt"
	"image"

	"snapearth-map-go/internal/palette"
	"snapearth-map-go/internal/raster"
)

var ErrShapeMismatch = errors.New("shape mismatch")

// ShapeMismatchError means a mask was not aligned to its image before
// compositing.
type ShapeMismatchError struct {
	ImageHeight, ImageWidth int
	MaskHeight, MaskWidth   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("cloud mask %dx%d does not match image %dx%d",
		e.MaskHeight, e.MaskWidth, e.ImageHeight, e.ImageWidth)
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

// Composite whitens every pixel of img whose mask cell is non-zero. Cloud
// always wins over the category color. img is modified in place and returned.
func Composite(img *image.RGBA, mask *raster.Grid) (*image.RGBA, error) {
	b := img.Bounds()
	if !mask.Valid() || mask.Height != b.Dy() || mask.Width != b.Dx() {
		e := &ShapeMismatchError{ImageHeight: b.Dy(), ImageWidth: b.Dx()}
		if mask != nil {
			e.MaskHeight, e.MaskWidth = mask.Height, mask.Width
		}
		return nil, e
	}

	white := palette.Fallback
	for y := 0; y < mask.Height; y++ {
		row := mask.Cells[y*mask.Width : (y+1)*mask.Width]
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		for _, v := range row {
			if v != 0 {
				img.Pix[off] = white[0]
				img.Pix[off+1] = white[1]
				img.Pix[off+2] = white[2]
				img.Pix[off+3] = 0xFF
			}
			off += 4
		}
	}
	return img, nil
}
