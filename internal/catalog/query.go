package catalog

import (
	"strings"
	"time"

	"snapearth-map-go/internal/geo"
)

// Query holds the search form of the dashboard.
type Query struct {
	WKT        string
	Start      time.Time
	End        time.Time
	ProductIDs []string
	Categories []string
	MaxResults int
}

// DefaultQuery covers Europe over the 30 days before now.
func DefaultQuery(maxResults int, now time.Time) Query {
	end := midnight(now)
	return Query{
		WKT:        geo.EuropeWKT,
		Start:      end.AddDate(0, 0, -30),
		End:        end,
		MaxResults: maxResults,
	}
}

// Request builds the wire request. Dates are sent as midnight UTC. An empty
// geometry is sent as is and means "no spatial filter".
func (q Query) Request() *ListSegmentationRequest {
	n := q.MaxResults
	if n < 1 {
		n = 1
	}
	return &ListSegmentationRequest{
		WKT:        strings.TrimSpace(q.WKT),
		StartDate:  midnight(q.Start),
		EndDate:    midnight(q.End),
		ProductIDs: q.ProductIDs,
		Categories: q.Categories,
		NResults:   int32(n),
	}
}

// SplitList parses a comma separated form field; blank input gives nil.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Matches applies the product-id, date and footprint filters of req to resp.
// The end date is inclusive.
// Category filtering needs the raster and is left to the source.
func Matches(req *ListSegmentationRequest, resp *SegmentationResponse) bool {
	if len(req.ProductIDs) > 0 && !contains(req.ProductIDs, resp.ProductID) {
		return false
	}
	if !req.StartDate.IsZero() && resp.CreationDate.Before(req.StartDate) {
		return false
	}
	if !req.EndDate.IsZero() && !resp.CreationDate.Before(req.EndDate.AddDate(0, 0, 1)) {
		return false
	}
	if req.WKT == "" {
		return true
	}
	area, err := geo.ParseBounds(req.WKT)
	if err != nil {
		return false
	}
	footprint, err := geo.ParseBounds(resp.WKT)
	if err != nil {
		return false
	}
	return overlaps(area, footprint)
}

func overlaps(a, b geo.Bounds) bool {
	return a.West() <= b.East() && b.West() <= a.East() &&
		a.South() <= b.North() && b.South() <= a.North()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
