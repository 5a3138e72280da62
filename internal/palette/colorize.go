package palette

import (
	"image"

	"snapearth-map-go/internal/raster"
)

// Colorize paints every cell of g with its table color. Codes missing from
// the table are painted with Fallback and returned once each, ascending.
//
// Codes are resolved per distinct value before painting, so the table is
// consulted once per category instead of once per pixel.
func (t *ColorTable) Colorize(g *raster.Grid) (*image.RGBA, []uint16) {
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	codes := g.Distinct()
	if len(codes) == 0 {
		return img, nil
	}

	var unknown []uint16
	lut := make([]RGB, int(codes[len(codes)-1])+1)
	for _, code := range codes {
		rgb, ok := t.Lookup(code)
		if !ok {
			unknown = append(unknown, code)
		}
		lut[code] = rgb
	}

	pix := img.Pix
	for y := 0; y < g.Height; y++ {
		row := g.Cells[y*g.Width : (y+1)*g.Width]
		off := y * img.Stride
		for _, v := range row {
			rgb := lut[v]
			pix[off] = rgb[0]
			pix[off+1] = rgb[1]
			pix[off+2] = rgb[2]
			pix[off+3] = 0xFF
			off += 4
		}
	}
	return img, unknown
}
