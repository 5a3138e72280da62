// Package catalog talks to the SnapEarth product database over gRPC.
//
// Messages travel CBOR-encoded under the "cbor" content-subtype, so the
// client only interoperates with peers that register the same codec, such
// as the simulator, and not with protobuf builds of the service.
package catalog

import (
	"time"

	"snapearth-map-go/internal/types"
)

type ListSegmentationRequest struct {
	WKT        string    `cbor:"wkt"`
	StartDate  time.Time `cbor:"start_date"`
	EndDate    time.Time `cbor:"end_date"`
	ProductIDs []string  `cbor:"product_ids,omitempty"`
	Categories []string  `cbor:"categories,omitempty"`
	NResults   int32     `cbor:"n_results"`
}

type SegmentationResponse struct {
	WKT             string    `cbor:"wkt"`
	Segmentation    []byte    `cbor:"segmentation"`
	CloudMask       []byte    `cbor:"cloud_mask"`
	ProductID       string    `cbor:"product_id"`
	CreationDate    time.Time `cbor:"creation_date"`
	PublicationDate time.Time `cbor:"publication_date"`
	CloudCover      float64   `cbor:"cloud_cover"`
	Quicklook       string    `cbor:"quicklook"`
	BrowseURL       string    `cbor:"browse_url"`
	DownloadURL     string    `cbor:"download_url"`
}

// Product converts a response into a render job.
func (r *SegmentationResponse) Product() types.Product {
	return types.Product{
		WKT:          r.WKT,
		Segmentation: r.Segmentation,
		CloudMask:    r.CloudMask,
		Metadata: types.Metadata{
			ProductID:       r.ProductID,
			CreationDate:    r.CreationDate,
			PublicationDate: r.PublicationDate,
			CloudCover:      r.CloudCover,
			QuicklookURL:    r.Quicklook,
			BrowseURL:       r.BrowseURL,
			DownloadURL:     r.DownloadURL,
		},
	}
}
