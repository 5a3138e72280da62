package types

import (
	"image"
	"time"

	"snapearth-map-go/internal/geo"
)

// Metadata is the tabular part of a catalog product.
type Metadata struct {
	ProductID       string    `json:"product_id" cbor:"product_id"`
	CreationDate    time.Time `json:"creation_date" cbor:"creation_date"`
	PublicationDate time.Time `json:"publication_date" cbor:"publication_date"`
	CloudCover      float64   `json:"cloud_cover" cbor:"cloud_cover"`
	QuicklookURL    string    `json:"quicklook_url" cbor:"quicklook_url"`
	BrowseURL       string    `json:"browse_url" cbor:"browse_url"`
	DownloadURL     string    `json:"download_url" cbor:"download_url"`
}

// Product is one catalog record waiting to be rendered.
type Product struct {
	WKT          string
	Segmentation []byte
	CloudMask    []byte
	Metadata     Metadata
}

// Result is a rendered product ready for display.
type Result struct {
	Image             *image.RGBA
	Bounds            geo.Bounds
	Centroid          geo.LatLon
	Metadata          Metadata
	UnknownCategories []uint16
}

// Outcome pairs a product with its result or the reason it has none.
type Outcome struct {
	ProductID string
	Result    *Result
	Err       error
}
