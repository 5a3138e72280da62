package raster

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"

	"golang.org/x/image/tiff"
)

var (
	ErrDecode   = errors.New("raster decode failed")
	ErrResample = errors.New("raster resample failed")
)

// DecodeError reports a blob that is empty, malformed or not a single-band
// integer raster.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode raster: %s: %v", e.Reason, e.Err)
	}
	return "decode raster: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Decode reads a single-band TIFF/GeoTIFF blob into a grid. 8-bit gray and
// paletted rasters give Depth8 grids, 16-bit gray gives Depth16. Any other
// band layout is rejected.
func Decode(blob []byte) (*Grid, error) {
	if len(blob) == 0 {
		return nil, &DecodeError{Reason: "empty blob"}
	}
	img, err := tiff.Decode(bytes.NewReader(blob))
	if err != nil {
		return nil, &DecodeError{Reason: "malformed container", Err: err}
	}
	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid dimensions %dx%d", b.Dx(), b.Dy())}
	}

	switch m := img.(type) {
	case *image.Gray:
		g := fromGray(m)
		if whiteIsZero(blob) {
			invert(g)
		}
		return g, nil
	case *image.Gray16:
		g := fromGray16(m)
		if whiteIsZero(blob) {
			invert(g)
		}
		return g, nil
	case *image.Paletted:
		return fromPaletted(m), nil
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64, *image.CMYK:
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported band count for %T", img)}
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported pixel type %T", img)}
	}
}

const (
	tagPhotometric  = 262
	photWhiteIsZero = 0
)

// whiteIsZero reports whether the first IFD marks the samples as
// WhiteIsZero. The tiff decoder flips such samples to match its gray
// models, which turns category codes and mask values into garbage.
func whiteIsZero(blob []byte) bool {
	off, order, ok := tagValueOffset(blob, tagPhotometric)
	return ok && order.Uint16(blob[off:]) == photWhiteIsZero
}

// tagValueOffset finds tag in the first IFD of a TIFF blob and returns the
// offset of its inline value field.
func tagValueOffset(blob []byte, tag uint16) (int, binary.ByteOrder, bool) {
	if len(blob) < 8 {
		return 0, nil, false
	}
	var order binary.ByteOrder
	switch string(blob[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, nil, false
	}
	ifd := int(order.Uint32(blob[4:8]))
	if ifd < 8 || ifd+2 > len(blob) {
		return 0, nil, false
	}
	n := int(order.Uint16(blob[ifd:]))
	for i := 0; i < n; i++ {
		entry := ifd + 2 + 12*i
		if entry+12 > len(blob) {
			return 0, nil, false
		}
		if order.Uint16(blob[entry:]) == tag {
			return entry + 8, order, true
		}
	}
	return 0, nil, false
}

func invert(g *Grid) {
	top := uint16(0xff)
	if g.Depth == Depth16 {
		top = 0xffff
	}
	for i, v := range g.Cells {
		g.Cells[i] = top - v
	}
}

// Encode writes g as an uncompressed single-band TIFF of the grid's depth.
func Encode(w io.Writer, g *Grid) error {
	if !g.Valid() {
		return errors.New("encode raster: invalid grid")
	}
	return tiff.Encode(w, g.image(), nil)
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(g *Grid) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
