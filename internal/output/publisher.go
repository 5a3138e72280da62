package output

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"

	"snapearth-map-go/internal/geo"
	"snapearth-map-go/internal/types"
)

// OverlayMessage is what the publisher sends for each rendered product.
type OverlayMessage struct {
	Type     string         `cbor:"type"`
	RunID    string         `cbor:"run_id"`
	PNG      []byte         `cbor:"png"`
	Bounds   geo.Bounds     `cbor:"bounds"`
	Centroid geo.LatLon     `cbor:"centroid"`
	Metadata types.Metadata `cbor:"metadata"`
}

func NewOverlayMessage(runID string, res *types.Result) (OverlayMessage, error) {
	data, err := EncodePNG(res.Image)
	if err != nil {
		return OverlayMessage{}, err
	}
	return OverlayMessage{
		Type:     "overlay",
		RunID:    runID,
		PNG:      data,
		Bounds:   res.Bounds,
		Centroid: res.Centroid,
		Metadata: res.Metadata,
	}, nil
}

func (m OverlayMessage) Encode() ([]byte, error) { return cbor.Marshal(m) }

func DecodeOverlayMessage(data []byte) (OverlayMessage, error) {
	var m OverlayMessage
	err := cbor.Unmarshal(data, &m)
	return m, err
}

// Publisher fans rendered overlays out on a ZeroMQ PUB socket so other
// consumers can follow a run.
type Publisher struct {
	mu     sync.Mutex
	socket *zmq4.Socket
}

func NewPublisher(endpoint string) (*Publisher, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := socket.SetSndhwm(64); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("bind %s: %w", endpoint, err)
	}
	return &Publisher{socket: socket}, nil
}

// Publish never blocks; with no subscribers the message is dropped.
func (p *Publisher) Publish(runID string, res *types.Result) error {
	msg, err := NewOverlayMessage(runID, res)
	if err != nil {
		return err
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return fmt.Errorf("publisher is closed")
	}
	_, err = p.socket.SendBytes(payload, zmq4.DONTWAIT)
	return err
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return nil
	}
	err := p.socket.Close()
	p.socket = nil
	return err
}
