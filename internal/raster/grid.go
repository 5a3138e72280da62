// Package raster decodes single-band category rasters into grids and aligns
// grids of different resolutions.
package raster

import (
	"fmt"
	"image"
)

// Depth is the integer width a grid was encoded with.
type Depth int

const (
	Depth8  Depth = 8
	Depth16 Depth = 16
)

// Grid is a row-major single-band raster of category codes. Cells are
// widened to uint16 whatever the encoded depth.
type Grid struct {
	Height int
	Width  int
	Depth  Depth
	Cells  []uint16
}

func NewGrid(height, width int, depth Depth) *Grid {
	return &Grid{
		Height: height,
		Width:  width,
		Depth:  depth,
		Cells:  make([]uint16, height*width),
	}
}

// FromRows builds an 8-bit or 16-bit grid from nested rows; every row must
// have the same length.
func FromRows(rows [][]uint16, depth Depth) (*Grid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("empty rows")
	}
	g := NewGrid(len(rows), len(rows[0]), depth)
	for y, row := range rows {
		if len(row) != g.Width {
			return nil, fmt.Errorf("row %d has %d cells, want %d", y, len(row), g.Width)
		}
		copy(g.Cells[y*g.Width:(y+1)*g.Width], row)
	}
	return g, nil
}

func (g *Grid) At(y, x int) uint16 {
	return g.Cells[y*g.Width+x]
}

func (g *Grid) Set(y, x int, v uint16) {
	g.Cells[y*g.Width+x] = v
}

func (g *Grid) Fill(v uint16) {
	for i := range g.Cells {
		g.Cells[i] = v
	}
}

// Rows returns a nested copy of the cells.
func (g *Grid) Rows() [][]uint16 {
	out := make([][]uint16, g.Height)
	for y := 0; y < g.Height; y++ {
		row := make([]uint16, g.Width)
		copy(row, g.Cells[y*g.Width:(y+1)*g.Width])
		out[y] = row
	}
	return out
}

func (g *Grid) Clone() *Grid {
	cells := make([]uint16, len(g.Cells))
	copy(cells, g.Cells)
	return &Grid{Height: g.Height, Width: g.Width, Depth: g.Depth, Cells: cells}
}

// Valid reports whether the grid satisfies its shape invariants.
func (g *Grid) Valid() bool {
	return g != nil && g.Height >= 1 && g.Width >= 1 && len(g.Cells) == g.Height*g.Width
}

// Distinct returns the distinct codes present in the grid in ascending order.
func (g *Grid) Distinct() []uint16 {
	var seen [1 << 16]bool
	count := 0
	for _, v := range g.Cells {
		if !seen[v] {
			seen[v] = true
			count++
		}
	}
	out := make([]uint16, 0, count)
	for v := range seen {
		if seen[v] {
			out = append(out, uint16(v))
		}
	}
	return out
}

// image returns the grid as a gray image of matching depth.
func (g *Grid) image() image.Image {
	rect := image.Rect(0, 0, g.Width, g.Height)
	if g.Depth == Depth8 {
		img := image.NewGray(rect)
		for i, v := range g.Cells {
			img.Pix[i] = uint8(v)
		}
		return img
	}
	img := image.NewGray16(rect)
	for i, v := range g.Cells {
		img.Pix[2*i] = uint8(v >> 8)
		img.Pix[2*i+1] = uint8(v)
	}
	return img
}

func fromGray(img *image.Gray) *Grid {
	b := img.Bounds()
	g := NewGrid(b.Dy(), b.Dx(), Depth8)
	for y := 0; y < g.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+g.Width]
		for x, v := range row {
			g.Cells[y*g.Width+x] = uint16(v)
		}
	}
	return g
}

func fromGray16(img *image.Gray16) *Grid {
	b := img.Bounds()
	g := NewGrid(b.Dy(), b.Dx(), Depth16)
	for y := 0; y < g.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+2*g.Width]
		for x := 0; x < g.Width; x++ {
			g.Cells[y*g.Width+x] = uint16(row[2*x])<<8 | uint16(row[2*x+1])
		}
	}
	return g
}

func fromPaletted(img *image.Paletted) *Grid {
	b := img.Bounds()
	g := NewGrid(b.Dy(), b.Dx(), Depth8)
	for y := 0; y < g.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+g.Width]
		for x, v := range row {
			g.Cells[y*g.Width+x] = uint16(v)
		}
	}
	return g
}
