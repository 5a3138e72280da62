package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"snapearth-map-go/internal/catalog"
	"snapearth-map-go/internal/config"
	"snapearth-map-go/internal/geo"
	"snapearth-map-go/internal/palette"
	"snapearth-map-go/internal/types"
)

var fixedNow = time.Date(2022, 3, 15, 17, 4, 0, 0, time.UTC)

func newTestServer(t *testing.T, h Handlers) (*Server, http.Handler) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Port = 9999
	srv := New(cfg, h)
	srv.now = func() time.Time { return fixedNow }
	handler, err := srv.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return srv, handler
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleConfig(t *testing.T) {
	_, h := newTestServer(t, Handlers{})
	rec := do(t, h, "GET", "/config", "")
	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var payload struct {
		Center  [2]float64     `json:"center"`
		Zoom    int            `json:"zoom"`
		Opacity float64        `json:"opacity"`
		Port    int            `json:"port"`
		Query   map[string]any `json:"query"`
		Columns []string       `json:"columns"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Zoom != DefaultZoom || payload.Opacity != 0.8 || payload.Port != 9999 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Center[0] < 35.97 || payload.Center[0] > 71.16 || payload.Center[1] < -10.61 || payload.Center[1] > 44.85 {
		t.Fatalf("center %v outside Europe", payload.Center)
	}
	if payload.Query["start_date"] != "2022-02-13" || payload.Query["end_date"] != "2022-03-15" {
		t.Fatalf("unexpected default dates: %v", payload.Query)
	}
	if payload.Query["wkt"] != geo.EuropeWKT {
		t.Fatalf("unexpected default wkt: %v", payload.Query["wkt"])
	}
	if len(payload.Columns) != 7 || payload.Columns[2] != "product_id" {
		t.Fatalf("unexpected columns: %v", payload.Columns)
	}
}

func TestHandleStatusCountsClients(t *testing.T) {
	_, h := newTestServer(t, Handlers{Status: func() map[string]any {
		return map[string]any{"stream": "idle", "metrics": map[string]any{}}
	}})
	rec := do(t, h, "GET", "/status", "")
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	metrics := payload["metrics"].(map[string]any)
	if metrics["ws_clients"].(float64) != 0 {
		t.Fatalf("unexpected ws_clients: %v", metrics["ws_clients"])
	}

	_, h = newTestServer(t, Handlers{Status: func() map[string]any { return nil }})
	if rec := do(t, h, "GET", "/status", ""); rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestHandleResults(t *testing.T) {
	_, h := newTestServer(t, Handlers{Results: func() []types.Metadata {
		return []types.Metadata{{ProductID: "S2A_1", CloudCover: 0.2}}
	}})
	rec := do(t, h, "GET", "/results", "")
	var payload struct {
		Columns []string         `json:"columns"`
		Rows    []types.Metadata `json:"rows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Rows) != 1 || payload.Rows[0].ProductID != "S2A_1" {
		t.Fatalf("unexpected rows: %+v", payload.Rows)
	}

	_, h = newTestServer(t, Handlers{})
	if body := do(t, h, "GET", "/results", "").Body.String(); !strings.Contains(body, `"rows":[]`) {
		t.Fatalf("expected empty rows, got %s", body)
	}
}

func TestHandleLegend(t *testing.T) {
	_, h := newTestServer(t, Handlers{Legend: func() []palette.Entry {
		return []palette.Entry{{Code: 111, Name: "Continuous urban fabric", RGB: palette.RGB{230, 0, 77}}}
	}})
	rec := do(t, h, "GET", "/legend", "")
	var entries []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(entries) != 1 || entries[0]["color"] != "#e6004d" {
		t.Fatalf("unexpected legend: %v", entries)
	}
}

func TestHandleOverlay(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	_, h := newTestServer(t, Handlers{Overlay: func(id string) (*image.RGBA, bool) {
		return img, id == "S2A_1"
	}})

	rec := do(t, h, "GET", "/overlay/S2A_1.png", "")
	if rec.Code != 200 || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	decoded, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Fatalf("unexpected bounds %v", decoded.Bounds())
	}

	if rec := do(t, h, "GET", "/overlay/missing.png", ""); rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/overlay/S2A_1", ""); rec.Code != 404 {
		t.Fatalf("expected 404 without extension, got %d", rec.Code)
	}
}

func TestHandleQuery(t *testing.T) {
	var got catalog.Query
	_, h := newTestServer(t, Handlers{Query: func(q catalog.Query) (string, error) {
		got = q
		return "run-42", nil
	}})

	rec := do(t, h, "POST", "/query", `{"start_date":"2021-06-01","end_date":"2021-06-30","product_ids":"a, b","categories":"311,312","max_results":4}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "run-42") {
		t.Fatalf("missing run id: %s", rec.Body.String())
	}
	if got.WKT != geo.EuropeWKT || got.MaxResults != 4 {
		t.Fatalf("unexpected query: %+v", got)
	}
	if len(got.ProductIDs) != 2 || got.ProductIDs[1] != "b" || len(got.Categories) != 2 {
		t.Fatalf("unexpected lists: %+v", got)
	}
	if !got.Start.Equal(time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start: %v", got.Start)
	}

	rec = do(t, h, "POST", "/query", `{"wkt":""}`)
	if rec.Code != http.StatusAccepted || got.WKT != "" || got.MaxResults != 1 {
		t.Fatalf("empty wkt should disable the spatial filter: %d %+v", rec.Code, got)
	}
}

func TestHandleQueryRejects(t *testing.T) {
	_, h := newTestServer(t, Handlers{Query: func(catalog.Query) (string, error) { return "run", nil }})
	for name, body := range map[string]string{
		"not json":       `wkt=POLYGON`,
		"unknown field":  `{"polygon":"x"}`,
		"bad wkt":        `{"wkt":"POLYGON(("}`,
		"bad date":       `{"start_date":"01/06/2021"}`,
		"reversed dates": `{"start_date":"2021-06-30","end_date":"2021-06-01"}`,
		"bad category":   `{"categories":"forest"}`,
		"negative count": `{"max_results":-1}`,
	} {
		t.Run(name, func(t *testing.T) {
			if rec := do(t, h, "POST", "/query", body); rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}

	_, busy := newTestServer(t, Handlers{Query: func(catalog.Query) (string, error) { return "", errors.New("run in progress") }})
	if rec := do(t, busy, "POST", "/query", `{}`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	_, disabled := newTestServer(t, Handlers{})
	if rec := do(t, disabled, "POST", "/query", `{}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestIndexServed(t *testing.T) {
	_, h := newTestServer(t, Handlers{})
	rec := do(t, h, "GET", "/", "")
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "leaflet") {
		t.Fatalf("index not served: %d", rec.Code)
	}
}

func TestWebsocketBroadcast(t *testing.T) {
	srv, h := newTestServer(t, Handlers{Snapshot: func() any {
		return types.UISnapshot{Type: "snapshot", RunID: "run-1"}
	}})
	ts := httptest.NewServer(h)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil || msg["type"] != "config" {
		t.Fatalf("expected config first, got %v (%v)", msg, err)
	}

	if err := conn.WriteJSON(map[string]any{"type": "snapshot_request"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = nil
	if err := conn.ReadJSON(&msg); err != nil || msg["run_id"] != "run-1" {
		t.Fatalf("expected snapshot, got %v (%v)", msg, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages := make(chan any, 1)
	go srv.broadcast(ctx, messages)
	messages <- types.Failure{Type: "failure", RunID: "run-1", ProductID: "p", Error: "boom"}
	msg = nil
	if err := conn.ReadJSON(&msg); err != nil || msg["type"] != "failure" {
		t.Fatalf("expected failure broadcast, got %v (%v)", msg, err)
	}
}
