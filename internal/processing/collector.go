package processing

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"snapearth-map-go/internal/types"
)

// Collector gathers the outcomes of one query run.
type Collector struct {
	mu       sync.Mutex
	runID    string
	expected int
	received int
	results  []*types.Result
	byID     map[string]int
	failures []types.Outcome
}

// NewCollector starts a run expecting up to expected outcomes; expected <= 0
// means the run only ends when Reset is called.
func NewCollector(expected int) *Collector {
	c := &Collector{}
	c.Reset(expected)
	return c
}

// Add records an outcome and reports whether the run has everything it
// expected. A product seen twice keeps its latest result.
func (c *Collector) Add(o types.Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.received++
	if o.Err != nil || o.Result == nil {
		if o.Err == nil {
			o.Err = errors.New("no result")
		}
		c.failures = append(c.failures, o)
	} else if i, ok := c.byID[o.ProductID]; ok {
		c.results[i] = o.Result
	} else {
		c.byID[o.ProductID] = len(c.results)
		c.results = append(c.results, o.Result)
	}
	return c.expected > 0 && c.received >= c.expected
}

// Reset starts a new run with a fresh identifier.
func (c *Collector) Reset(expected int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runID = uuid.NewString()
	c.expected = expected
	c.received = 0
	c.results = nil
	c.byID = make(map[string]int)
	c.failures = nil
}

func (c *Collector) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// Progress returns how many outcomes arrived and how many are expected.
func (c *Collector) Progress() (received, expected int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received, c.expected
}

// Results returns rendered products in arrival order.
func (c *Collector) Results() []*types.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Result, len(c.results))
	copy(out, c.results)
	return out
}

func (c *Collector) Failures() []types.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Outcome, len(c.failures))
	copy(out, c.failures)
	return out
}

func (c *Collector) Result(productID string) (*types.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.byID[productID]
	if !ok {
		return nil, false
	}
	return c.results[i], true
}

func Timestamp() string {
	return time.Now().Format("20060102_150405")
}
