package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map applies mapFunc to every element of in, running at most limit
// calls at once, and returns the outputs in input order regardless of
// completion order. The mapped function is expected to capture its own
// failures in D; a canceled context stops scheduling new calls, calls
// already running are left to observe ctx themselves.
func Map[E, D any](ctx context.Context, limit int, in []E, mapFunc func(context.Context, E) D) []D {
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	out := make([]D, len(in))
	for i, e := range in {
		g.Go(func() error {
			out[i] = mapFunc(gctx, e)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
