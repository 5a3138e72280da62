package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"time"

	"snapearth-map-go/internal/catalog"
	"snapearth-map-go/internal/output"
	"snapearth-map-go/internal/raster"
)

type recordSummary struct {
	ProductID       string    `json:"product_id"`
	WKT             string    `json:"wkt"`
	CreationDate    time.Time `json:"creation_date"`
	PublicationDate time.Time `json:"publication_date"`
	CloudCover      float64   `json:"cloud_cover"`
	Quicklook       string    `json:"quicklook_url"`
	BrowseURL       string    `json:"browse_url"`
	DownloadURL     string    `json:"download_url"`
	Segmentation    string    `json:"segmentation"`
	CloudMask       string    `json:"cloud_mask"`
}

func main() {
	var (
		path  = flag.String("path", "", "Path to rawlog .bin file")
		limit = flag.Int("limit", 1, "Number of records to dump (0 dumps all)")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	reader, err := output.OpenRawLog(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		if *limit > 0 && count >= *limit {
			return
		}
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Fatalf("read record: %v", err)
		}
		if len(rec.Payload) == 0 {
			log.Printf("record %d: empty payload", count)
			count++
			continue
		}

		resp, err := catalog.DecodeResponse(rec.Payload)
		if err != nil {
			log.Printf("record %d: CBOR decode error: %v", count, err)
			count++
			continue
		}

		pretty, err := json.MarshalIndent(recordSummary{
			ProductID:       resp.ProductID,
			WKT:             resp.WKT,
			CreationDate:    resp.CreationDate,
			PublicationDate: resp.PublicationDate,
			CloudCover:      resp.CloudCover,
			Quicklook:       resp.Quicklook,
			BrowseURL:       resp.BrowseURL,
			DownloadURL:     resp.DownloadURL,
			Segmentation:    describeRaster(resp.Segmentation),
			CloudMask:       describeRaster(resp.CloudMask),
		}, "", "  ")
		if err != nil {
			log.Printf("record %d: JSON encode error: %v", count, err)
			count++
			continue
		}

		log.Printf("record %d timestamp=%s size=%d", count, rec.Time.Format(time.RFC3339Nano), len(rec.Payload))
		fmt.Println(string(pretty))
		count++
	}
}

func describeRaster(blob []byte) string {
	grid, err := raster.Decode(blob)
	if err != nil {
		return fmt.Sprintf("%d bytes, %v", len(blob), err)
	}
	return fmt.Sprintf("%d bytes, %dx%d %d-bit, %d categories", len(blob), grid.Height, grid.Width, grid.Depth, len(grid.Distinct()))
}
