// Package simulator is a synthetic product catalog for debug runs and tests.
package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"snapearth-map-go/internal/catalog"
	"snapearth-map-go/internal/palette"
	"snapearth-map-go/internal/raster"
)

type Options struct {
	Count  int
	Height int
	Width  int
	// Block is the edge of the square patches painted with one category.
	Block int
	Seed  int64
	// Interval paces the stream, mimicking a slow catalog.
	Interval time.Duration
	Table    *palette.ColorTable
	Now      time.Time
}

func (o *Options) defaults() {
	if o.Count < 1 {
		o.Count = 20
	}
	if o.Height < 2 {
		o.Height = 256
	}
	if o.Width < 2 {
		o.Width = 256
	}
	if o.Block < 1 {
		o.Block = 16
	}
	if o.Table == nil {
		o.Table = palette.Default()
	}
	if o.Now.IsZero() {
		o.Now = time.Now().UTC()
	}
}

// Catalog serves a fixed set of generated products.
type Catalog struct {
	products []*catalog.SegmentationResponse
	codes    []map[uint16]bool
	interval time.Duration
}

func New(opts Options) (*Catalog, error) {
	opts.defaults()
	var codes []uint16
	for _, e := range opts.Table.Entries() {
		if e.Code != 0 {
			codes = append(codes, e.Code)
		}
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("color table has no categories to paint")
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	c := &Catalog{interval: opts.Interval}
	for i := 0; i < opts.Count; i++ {
		resp, present, err := generate(rng, i, codes, opts)
		if err != nil {
			return nil, err
		}
		c.products = append(c.products, resp)
		c.codes = append(c.codes, present)
	}
	return c, nil
}

func generate(rng *rand.Rand, i int, codes []uint16, opts Options) (*catalog.SegmentationResponse, map[uint16]bool, error) {
	seg := raster.NewGrid(opts.Height, opts.Width, raster.Depth16)
	present := make(map[uint16]bool)
	for y0 := 0; y0 < opts.Height; y0 += opts.Block {
		for x0 := 0; x0 < opts.Width; x0 += opts.Block {
			code := codes[rng.Intn(len(codes))]
			present[code] = true
			for y := y0; y < min(y0+opts.Block, opts.Height); y++ {
				for x := x0; x < min(x0+opts.Block, opts.Width); x++ {
					seg.Set(y, x, code)
				}
			}
		}
	}

	// Half-resolution mask with one Gaussian cloud; the renderer scales it up.
	mh, mw := opts.Height/2, opts.Width/2
	mask := raster.NewGrid(mh, mw, raster.Depth8)
	cx := rng.Float64() * float64(mw)
	cy := rng.Float64() * float64(mh)
	spread := float64(mw*mh) / (20 * (1 + rng.Float64()*3))
	cloudy := 0
	for y := 0; y < mh; y++ {
		for x := 0; x < mw; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			base := math.Exp(-(dx*dx + dy*dy) / spread)
			if base+rng.NormFloat64()*0.05 > 0.5 {
				mask.Set(y, x, 1)
				cloudy++
			}
		}
	}

	segBlob, err := raster.EncodeBytes(seg)
	if err != nil {
		return nil, nil, err
	}
	maskBlob, err := raster.EncodeBytes(mask)
	if err != nil {
		return nil, nil, err
	}

	lon := -10 + rng.Float64()*50
	lat := 36 + rng.Float64()*33
	created := opts.Now.Add(-time.Duration(rng.Intn(30*24)) * time.Hour).Truncate(time.Second)
	id := fmt.Sprintf("SIM_MSIL2A_%s_%04d", created.Format("20060102T150405"), i)
	return &catalog.SegmentationResponse{
		WKT:             footprint(lon, lat, 1),
		Segmentation:    segBlob,
		CloudMask:       maskBlob,
		ProductID:       id,
		CreationDate:    created,
		PublicationDate: created.Add(2 * time.Hour),
		CloudCover:      float64(cloudy) / float64(mh*mw),
		Quicklook:       "https://catalog.invalid/quicklook/" + id + ".png",
		BrowseURL:       "https://catalog.invalid/browse/" + id,
		DownloadURL:     "https://catalog.invalid/download/" + id,
	}, present, nil
}

func footprint(lon, lat, size float64) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	w, s, e, n := f(lon), f(lat), f(lon+size), f(lat+size)
	return fmt.Sprintf("POLYGON((%s %s, %s %s, %s %s, %s %s, %s %s))", w, s, e, s, e, n, w, n, w, s)
}

// Products returns the generated catalog in serving order.
func (c *Catalog) Products() []*catalog.SegmentationResponse {
	out := make([]*catalog.SegmentationResponse, len(c.products))
	copy(out, c.products)
	return out
}

// ListSegmentation streams matching products, at most req.NResults when set.
func (c *Catalog) ListSegmentation(req *catalog.ListSegmentationRequest, stream catalog.SegmentationSender) error {
	ctx := stream.Context()
	wanted, err := parseCategories(req.Categories)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	sent := 0
	for i, resp := range c.products {
		if req.NResults > 0 && sent >= int(req.NResults) {
			break
		}
		if !catalog.Matches(req, resp) || !hasAny(c.codes[i], wanted) {
			continue
		}
		if c.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.interval):
			}
		}
		if err := stream.Send(resp); err != nil {
			return err
		}
		sent++
	}
	return nil
}

func parseCategories(list []string) ([]uint16, error) {
	var out []uint16
	for _, s := range list {
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", s, err)
		}
		out = append(out, uint16(v))
	}
	return out, nil
}

func hasAny(present map[uint16]bool, wanted []uint16) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, code := range wanted {
		if present[code] {
			return true
		}
	}
	return false
}

// Serve exposes c as a catalog service on lis until ctx ends.
func Serve(ctx context.Context, lis net.Listener, c *Catalog, opts ...grpc.ServerOption) error {
	srv := grpc.NewServer(opts...)
	catalog.RegisterProductService(srv, c)
	go func() {
		<-ctx.Done()
		srv.Stop()
	}()
	return srv.Serve(lis)
}
