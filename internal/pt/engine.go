package pt

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map applies fn to every element of in using up to workers goroutines and
// returns the results in input order.
//
// A panic inside fn is confined to its element: the element's result is
// recovered(item, panicValue) and the other elements are unaffected. When
// recovered is nil the panic propagates. Workers check ctx between elements;
// if it is cancelled Map returns ctx's error and no results.
func Map[In, Out any](ctx context.Context, in []In, workers int, fn func(In) Out, recovered func(In, any) Out) ([]Out, error) {
	if workers < 1 {
		workers = 1
	}
	if workers > len(in) {
		workers = len(in)
	}
	out := make([]Out, len(in))
	if len(in) == 0 {
		return out, nil
	}

	idx := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(idx)
		for i := range in {
			select {
			case idx <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range idx {
				if err := gctx.Err(); err != nil {
					return err
				}
				// each index is handed to exactly one worker
				out[i] = apply(in[i], fn, recovered)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func apply[In, Out any](item In, fn func(In) Out, recovered func(In, any) Out) (out Out) {
	defer func() {
		if v := recover(); v != nil {
			if recovered == nil {
				panic(v)
			}
			out = recovered(item, v)
		}
	}()
	return fn(item)
}
