package types

type Overlay struct {
	Type     string        `json:"type"`
	RunID    string        `json:"run_id"`
	Image    string        `json:"image"`
	Bounds   [2][2]float64 `json:"bounds"`
	Centroid [2]float64    `json:"centroid"`
	Opacity  float64       `json:"opacity"`
	Metadata Metadata      `json:"metadata"`
}

type Failure struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	ProductID string `json:"product_id"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

type UISnapshot struct {
	Type     string    `json:"type"`
	RunID    string    `json:"run_id"`
	Overlays []Overlay `json:"overlays"`
	Failures []Failure `json:"failures"`
}
