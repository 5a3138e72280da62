package processing

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"snapearth-map-go/internal/types"
)

// RenderBatch renders products on up to workers goroutines (NumCPU when
// workers < 1) and emits one outcome per product, in completion order. A
// failed product never stops its siblings. When ctx ends no further outcomes
// are emitted and the channel closes once in-flight renders return.
func (r *Renderer) RenderBatch(ctx context.Context, products <-chan types.Product, workers int) <-chan types.Outcome {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	out := make(chan types.Outcome, workers)

	go func() {
		defer close(out)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)

	feed:
		for {
			select {
			case <-gctx.Done():
				break feed
			case p, ok := <-products:
				if !ok {
					break feed
				}
				g.Go(func() error {
					outcome := r.outcome(p)
					if gctx.Err() != nil {
						return gctx.Err()
					}
					select {
					case <-gctx.Done():
						return gctx.Err()
					case out <- outcome:
						return nil
					}
				})
			}
		}
		_ = g.Wait()
	}()

	return out
}

func (r *Renderer) outcome(p types.Product) types.Outcome {
	res, err := r.Render(p)
	return types.Outcome{
		ProductID: p.Metadata.ProductID,
		Result:    res,
		Err:       err,
	}
}
