package ingest

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"time"

	"snapearth-map-go/internal/catalog"
	"snapearth-map-go/internal/output"
	"snapearth-map-go/internal/types"
)

// RawRecorder keeps the encoded catalog responses of a run.
type RawRecorder interface {
	Record(payload []byte) error
}

// Lister opens a catalog result stream. *catalog.Client satisfies it.
type Lister interface {
	ListSegmentation(ctx context.Context, req *catalog.ListSegmentationRequest) (*catalog.SegmentationStream, error)
}

// Receiver is the pull side of a result stream.
type Receiver interface {
	Recv() (*catalog.SegmentationResponse, error)
}

var (
	received      atomic.Uint64
	failures      atomic.Uint64
	recordErrors  atomic.Uint64
	receiveNanos  atomic.Uint64
	receiveCounts atomic.Uint64
)

func Received() uint64     { return received.Load() }
func Failures() uint64     { return failures.Load() }
func RecordErrors() uint64 { return recordErrors.Load() }

// ReceiveTiming returns how many responses were pulled and the time spent
// waiting for them.
func ReceiveTiming() (uint64, uint64) { return receiveCounts.Load(), receiveNanos.Load() }

// Stream runs req against the catalog and returns its products. The error
// channel yields the terminal error (nil when the stream ended normally)
// once the product channel is closed.
func Stream(ctx context.Context, lister Lister, req *catalog.ListSegmentationRequest, logEvery int, recorder RawRecorder) (<-chan types.Product, <-chan error, error) {
	if logEvery < 1 {
		logEvery = 1
	}
	stream, err := lister.ListSegmentation(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan types.Product, 16)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(out)
		errc <- Pump(ctx, stream, out, int(req.NResults), logEvery, recorder)
	}()
	return out, errc, nil
}

// Pump moves responses from rx to out until the stream ends, ctx is done or
// max products were delivered (max <= 0 means no limit).
func Pump(ctx context.Context, rx Receiver, out chan<- types.Product, max int, logEvery int, recorder RawRecorder) error {
	delivered := 0
	for {
		if max > 0 && delivered >= max {
			return nil
		}
		start := time.Now()
		resp, err := rx.Recv()
		receiveCounts.Add(1)
		receiveNanos.Add(uint64(time.Since(start).Nanoseconds()))
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures.Add(1)
			return err
		}
		received.Add(1)

		if recorder != nil {
			if payload, err := catalog.EncodeResponse(resp); err != nil {
				recordErrors.Add(1)
				logEveryN(logEvery, "[ingest] encode %s for raw log: %v", resp.ProductID, err)
			} else if err := recorder.Record(payload); err != nil {
				recordErrors.Add(1)
				logEveryN(logEvery, "[ingest] raw log record failed: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- resp.Product():
			delivered++
		}
	}
}

// Replay streams the products stored in a raw log file, as Stream would
// have delivered them.
func Replay(ctx context.Context, path string, logEvery int) (<-chan types.Product, <-chan error, error) {
	if logEvery < 1 {
		logEvery = 1
	}
	reader, err := output.OpenRawLog(path)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan types.Product, 16)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(out)
		defer reader.Close()
		errc <- Pump(ctx, &replayReceiver{reader: reader, logEvery: logEvery}, out, 0, logEvery, nil)
	}()
	return out, errc, nil
}

type replayReceiver struct {
	reader   *output.RawLogReader
	logEvery int
}

func (r *replayReceiver) Recv() (*catalog.SegmentationResponse, error) {
	for {
		rec, err := r.reader.Next()
		if err != nil {
			return nil, err
		}
		resp, err := catalog.DecodeResponse(rec.Payload)
		if err != nil {
			failures.Add(1)
			logEveryN(r.logEvery, "[ingest] replay record at %s: %v", rec.Time.Format(time.RFC3339), err)
			continue
		}
		return resp, nil
	}
}

var logCounter atomic.Uint64

func logEveryN(n int, format string, args ...any) {
	if logCounter.Add(1)%uint64(n) == 0 {
		log.Printf(format, args...)
	}
}
