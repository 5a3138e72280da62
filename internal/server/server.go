package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"snapearth-map-go/internal/catalog"
	"snapearth-map-go/internal/config"
	"snapearth-map-go/internal/geo"
	"snapearth-map-go/internal/output"
	"snapearth-map-go/internal/palette"
	"snapearth-map-go/internal/types"
)

//go:embed web/*
var webFS embed.FS

// DefaultZoom frames Europe on a typical screen.
const DefaultZoom = 3

// Handlers supply the data behind the HTTP routes. Any of them may be nil.
type Handlers struct {
	Status   func() map[string]any
	Snapshot func() any
	Results  func() []types.Metadata
	Overlay  func(productID string) (*image.RGBA, bool)
	Legend   func() []palette.Entry
	// Query starts a new run and returns its identifier.
	Query func(catalog.Query) (string, error)
}

type Server struct {
	upgrader websocket.Upgrader
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.Mutex
	cfg      config.AppConfig
	h        Handlers
	now      func() time.Time
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

func New(cfg config.AppConfig, h Handlers) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
		cfg:     cfg,
		h:       h,
		now:     time.Now,
	}
}

func (s *Server) Handler() (http.Handler, error) {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(sub)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("GET /config", s.handleConfig)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /results", s.handleResults)
	mux.HandleFunc("GET /legend", s.handleLegend)
	mux.HandleFunc("GET /overlay/{file}", s.handleOverlay)
	mux.HandleFunc("POST /query", s.handleQuery)
	return mux, nil
}

// Run serves the UI until ctx ends and broadcasts every value received on
// messages to the websocket clients as JSON.
func Run(ctx context.Context, cfg config.AppConfig, messages <-chan any, h Handlers) error {
	srv := New(cfg, h)
	handler, err := srv.Handler()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go srv.broadcast(ctx, messages)

	err = httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	writeMu := &sync.Mutex{}
	s.clients[conn] = writeMu
	s.mu.Unlock()

	_ = s.writeJSON(conn, writeMu, s.configPayload())

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var request map[string]any
			if err := json.Unmarshal(payload, &request); err != nil {
				continue
			}
			if request["type"] == "snapshot_request" {
				if s.h.Snapshot == nil {
					continue
				}
				snapshot := s.h.Snapshot()
				if snapshot == nil {
					continue
				}
				_ = s.writeJSON(conn, writeMu, snapshot)
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) configPayload() map[string]any {
	center := geo.LatLon{}
	if g, err := geo.Parse(geo.EuropeWKT); err == nil {
		center, _ = geo.Centroid(g)
	}
	defaults := catalog.DefaultQuery(s.cfg.Catalog.MaxResults, s.now())
	return map[string]any{
		"type":    "config",
		"center":  [2]float64{center.Lat, center.Lon},
		"zoom":    DefaultZoom,
		"opacity": s.cfg.Opacity,
		"port":    s.cfg.Port,
		"debug":   s.cfg.Debug,
		"query": map[string]any{
			"wkt":         defaults.WKT,
			"start_date":  defaults.Start.Format(time.DateOnly),
			"end_date":    defaults.End.Format(time.DateOnly),
			"max_results": defaults.MaxResults,
		},
		"columns": output.MetadataColumns,
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.configPayload())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var payload map[string]any
	if s.h.Status != nil {
		payload = s.h.Status()
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if metrics, ok := payload["metrics"].(map[string]any); ok {
		metrics["ws_clients"] = s.clientCount()
	} else {
		payload["ws_clients"] = s.clientCount()
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleResults serves the metadata table of the current run.
func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	rows := []types.Metadata{}
	if s.h.Results != nil {
		if got := s.h.Results(); got != nil {
			rows = got
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"columns": output.MetadataColumns,
		"rows":    rows,
	})
}

func (s *Server) handleLegend(w http.ResponseWriter, _ *http.Request) {
	type legendEntry struct {
		Code  uint16 `json:"code"`
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	entries := []legendEntry{}
	if s.h.Legend != nil {
		for _, e := range s.h.Legend() {
			entries = append(entries, legendEntry{
				Code:  e.Code,
				Name:  e.Name,
				Color: fmt.Sprintf("#%02x%02x%02x", e.RGB[0], e.RGB[1], e.RGB[2]),
			})
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutSuffix(r.PathValue("file"), ".png")
	if !ok || id == "" || s.h.Overlay == nil {
		http.NotFound(w, r)
		return
	}
	img, found := s.h.Overlay(id)
	if !found {
		http.NotFound(w, r)
		return
	}
	data, err := output.EncodePNG(img)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

type queryRequest struct {
	WKT        *string `json:"wkt"`
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	ProductIDs string  `json:"product_ids"`
	Categories string  `json:"categories"`
	MaxResults int     `json:"max_results"`
}

// parseQuery fills unset fields from the dashboard defaults. A present but
// empty wkt disables the spatial filter.
func (s *Server) parseQuery(body queryRequest) (catalog.Query, error) {
	q := catalog.DefaultQuery(s.cfg.Catalog.MaxResults, s.now())
	if body.WKT != nil {
		q.WKT = strings.TrimSpace(*body.WKT)
		if q.WKT != "" {
			if _, err := geo.Parse(q.WKT); err != nil {
				return q, err
			}
		}
	}
	if body.StartDate != "" {
		t, err := time.Parse(time.DateOnly, body.StartDate)
		if err != nil {
			return q, fmt.Errorf("start_date: %w", err)
		}
		q.Start = t
	}
	if body.EndDate != "" {
		t, err := time.Parse(time.DateOnly, body.EndDate)
		if err != nil {
			return q, fmt.Errorf("end_date: %w", err)
		}
		q.End = t
	}
	if q.End.Before(q.Start) {
		return q, fmt.Errorf("end_date %s is before start_date %s", q.End.Format(time.DateOnly), q.Start.Format(time.DateOnly))
	}
	q.ProductIDs = catalog.SplitList(body.ProductIDs)
	q.Categories = catalog.SplitList(body.Categories)
	for _, c := range q.Categories {
		if _, err := strconv.ParseUint(c, 10, 16); err != nil {
			return q, fmt.Errorf("category %q is not a land-cover code", c)
		}
	}
	if body.MaxResults < 0 {
		return q, fmt.Errorf("max_results must not be negative")
	}
	if body.MaxResults > 0 {
		q.MaxResults = body.MaxResults
	}
	return q, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.h.Query == nil {
		http.Error(w, "queries are disabled", http.StatusServiceUnavailable)
		return
	}
	var body queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, "invalid query: "+err.Error(), http.StatusBadRequest)
		return
	}
	q, err := s.parseQuery(body)
	if err != nil {
		http.Error(w, "invalid query: "+err.Error(), http.StatusBadRequest)
		return
	}
	runID, err := s.h.Query(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) broadcast(ctx context.Context, messages <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			payload, err := json.Marshal(message)
			if err != nil {
				log.Printf("[server] dropping %T: %v", message, err)
				continue
			}
			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, writeMu := range s.clients {
				if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
