package processing

import (
	"fmt"
	"log"

	"snapearth-map-go/internal/geo"
	"snapearth-map-go/internal/palette"
	"snapearth-map-go/internal/raster"
	"snapearth-map-go/internal/types"
)

// Logf receives render diagnostics. Tests may replace it.
var Logf = log.Printf

type Stage string

const (
	StageSegmentationDecode Stage = "segmentation_decode"
	StageCloudMaskDecode    Stage = "cloud_mask_decode"
	StageComposite          Stage = "composite"
	StageGeometry           Stage = "geometry"
)

// PipelineError reports the stage at which one product stopped rendering.
type PipelineError struct {
	ProductID string
	Stage     Stage
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("render %s: %s: %v", e.ProductID, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Renderer turns catalog products into map overlays. It holds no mutable
// state and may render from many goroutines at once.
type Renderer struct {
	table *palette.ColorTable
}

// NewRenderer uses table for colorization, or the embedded land-cover table
// when table is nil.
func NewRenderer(table *palette.ColorTable) *Renderer {
	if table == nil {
		table = palette.Default()
	}
	return &Renderer{table: table}
}

func (r *Renderer) Table() *palette.ColorTable { return r.table }

// Render decodes, aligns, colorizes and cloud-masks one product and anchors
// it to its footprint.
func (r *Renderer) Render(p types.Product) (*types.Result, error) {
	id := p.Metadata.ProductID
	fail := func(stage Stage, err error) (*types.Result, error) {
		return nil, &PipelineError{ProductID: id, Stage: stage, Err: err}
	}

	seg, err := raster.Decode(p.Segmentation)
	if err != nil {
		return fail(StageSegmentationDecode, err)
	}

	cloud, err := raster.Decode(p.CloudMask)
	if err != nil {
		return fail(StageCloudMaskDecode, err)
	}
	cloud, err = raster.Resample(cloud, seg.Height, seg.Width)
	if err != nil {
		return fail(StageCloudMaskDecode, err)
	}

	img, unknown := r.table.Colorize(seg)
	for _, code := range unknown {
		Logf("[render] %s: category %d not found, painting fallback", id, code)
	}

	img, err = Composite(img, cloud)
	if err != nil {
		return fail(StageComposite, err)
	}

	footprint, err := geo.Parse(p.WKT)
	if err != nil {
		return fail(StageGeometry, err)
	}
	bounds, err := geo.ProjectBounds(footprint)
	if err != nil {
		return fail(StageGeometry, err)
	}
	centroid, err := geo.Centroid(footprint)
	if err != nil {
		return fail(StageGeometry, err)
	}

	return &types.Result{
		Image:             img,
		Bounds:            bounds,
		Centroid:          centroid,
		Metadata:          p.Metadata,
		UnknownCategories: unknown,
	}, nil
}
