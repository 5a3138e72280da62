package ingest

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapearth-map-go/internal/catalog"
	"snapearth-map-go/internal/output"
	"snapearth-map-go/internal/types"
)

type fakeReceiver struct {
	responses []*catalog.SegmentationResponse
	err       error
	calls     int
}

func (f *fakeReceiver) Recv() (*catalog.SegmentationResponse, error) {
	f.calls++
	if len(f.responses) == 0 {
		if f.err != nil {
			return nil, f.err
		}
		return nil, io.EOF
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

type memRecorder struct {
	payloads [][]byte
	fail     bool
}

func (m *memRecorder) Record(payload []byte) error {
	if m.fail {
		return errors.New("disk full")
	}
	m.payloads = append(m.payloads, payload)
	return nil
}

func responses(ids ...string) []*catalog.SegmentationResponse {
	out := make([]*catalog.SegmentationResponse, len(ids))
	for i, id := range ids {
		out[i] = &catalog.SegmentationResponse{
			ProductID:    id,
			WKT:          "POINT(2 48)",
			Segmentation: []byte{byte(i)},
			CreationDate: time.Date(2021, 6, 3, 0, 0, 0, 0, time.UTC),
		}
	}
	return out
}

func drain(out chan types.Product) []string {
	close(out)
	var ids []string
	for p := range out {
		ids = append(ids, p.Metadata.ProductID)
	}
	return ids
}

func TestPumpDeliversUntilEOF(t *testing.T) {
	rx := &fakeReceiver{responses: responses("a", "b", "c")}
	rec := &memRecorder{}
	out := make(chan types.Product, 8)

	require.NoError(t, Pump(context.Background(), rx, out, 0, 1, rec))
	assert.Equal(t, []string{"a", "b", "c"}, drain(out))
	require.Len(t, rec.payloads, 3)

	decoded, err := catalog.DecodeResponse(rec.payloads[1])
	require.NoError(t, err)
	assert.Equal(t, "b", decoded.ProductID)
}

func TestPumpStopsAtMax(t *testing.T) {
	rx := &fakeReceiver{responses: responses("a", "b", "c")}
	out := make(chan types.Product, 8)

	require.NoError(t, Pump(context.Background(), rx, out, 2, 1, nil))
	assert.Equal(t, []string{"a", "b"}, drain(out))
	assert.Equal(t, 2, rx.calls)
}

func TestPumpReturnsStreamError(t *testing.T) {
	boom := errors.New("unavailable")
	rx := &fakeReceiver{responses: responses("a"), err: boom}
	out := make(chan types.Product, 8)
	before := Failures()

	err := Pump(context.Background(), rx, out, 0, 1, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, drain(out))
	assert.Equal(t, before+1, Failures())
}

func TestPumpRecorderFailureKeepsStreaming(t *testing.T) {
	rx := &fakeReceiver{responses: responses("a", "b")}
	out := make(chan types.Product, 8)
	before := RecordErrors()

	require.NoError(t, Pump(context.Background(), rx, out, 0, 1000, &memRecorder{fail: true}))
	assert.Equal(t, []string{"a", "b"}, drain(out))
	assert.Equal(t, before+2, RecordErrors())
}

func TestPumpHonorsCancel(t *testing.T) {
	rx := &fakeReceiver{responses: responses("a", "b")}
	out := make(chan types.Product)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Pump(ctx, rx, out, 0, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayRawLog(t *testing.T) {
	dir := t.TempDir()
	w, err := output.NewRawLogWriter(dir, "catalog")
	require.NoError(t, err)
	for _, resp := range responses("x", "y") {
		payload, err := catalog.EncodeResponse(resp)
		require.NoError(t, err)
		require.NoError(t, w.Record(payload))
	}
	require.NoError(t, w.Record([]byte{0xff, 0x00}))
	require.NoError(t, w.Close())

	out, errc, err := Replay(context.Background(), w.Path(), 1)
	require.NoError(t, err)
	var ids []string
	for p := range out {
		ids = append(ids, p.Metadata.ProductID)
	}
	assert.NoError(t, <-errc)
	assert.Equal(t, []string{"x", "y"}, ids)
}

func TestReplayMissingFile(t *testing.T) {
	_, _, err := Replay(context.Background(), "/nonexistent/raw.bin", 1)
	assert.Error(t, err)
}
