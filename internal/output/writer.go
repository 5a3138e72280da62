package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"snapearth-map-go/internal/types"
)

// MetadataColumns is the column order of the product table.
var MetadataColumns = []string{
	"creation_date",
	"publication_date",
	"product_id",
	"quicklook_url",
	"cloud_cover",
	"browse_url",
	"download_url",
}

// MetadataRow formats m in MetadataColumns order.
func MetadataRow(m types.Metadata) []string {
	return []string{
		formatDate(m.CreationDate),
		formatDate(m.PublicationDate),
		m.ProductID,
		m.QuicklookURL,
		strconv.FormatFloat(m.CloudCover, 'f', -1, 64),
		m.BrowseURL,
		m.DownloadURL,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// WriteRun stores one run under outputDir: a PNG overlay per result, the
// product table and, when any product failed, a failure table.
func WriteRun(outputDir string, runTimestamp string, results []*types.Result, failures []types.Outcome) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	for _, res := range results {
		if res == nil || res.Image == nil {
			continue
		}
		data, err := EncodePNG(res.Image)
		if err != nil {
			return fmt.Errorf("encode overlay %s: %w", res.Metadata.ProductID, err)
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.png", runTimestamp, SafeName(res.Metadata.ProductID)))
		if err := os.WriteFile(filename, data, 0o644); err != nil {
			return err
		}
	}

	header := append(append([]string{}, MetadataColumns...), "south", "west", "north", "east", "unknown_categories")
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		if res == nil {
			continue
		}
		row := MetadataRow(res.Metadata)
		row = append(row,
			formatCoord(res.Bounds.South()),
			formatCoord(res.Bounds.West()),
			formatCoord(res.Bounds.North()),
			formatCoord(res.Bounds.East()),
			joinCodes(res.UnknownCategories),
		)
		rows = append(rows, row)
	}
	if err := writeCSV(filepath.Join(outputDir, runTimestamp+"_products.csv"), header, rows); err != nil {
		return err
	}

	if len(failures) == 0 {
		return nil
	}
	failRows := make([][]string, 0, len(failures))
	for _, f := range failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		failRows = append(failRows, []string{f.ProductID, msg})
	}
	return writeCSV(filepath.Join(outputDir, runTimestamp+"_failures.csv"), []string{"product_id", "error"}, failRows)
}

func writeCSV(filename string, header []string, rows [][]string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	_ = w.Write(header)
	_ = w.WriteAll(rows)
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinCodes(codes []uint16) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.Itoa(int(c))
	}
	return strings.Join(parts, " ")
}

// SafeName maps a product identifier onto a file name component.
func SafeName(id string) string {
	if id == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
