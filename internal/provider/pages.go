package provider

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// collectOrdered runs fetch for indexes [0, n) with at most limit calls in
// flight and concatenates the results in index order. A failing index
// contributes nothing; its error is returned at the same position.
func collectOrdered[T any](ctx context.Context, n, limit int, fetch func(ctx context.Context, i int) ([]T, error)) ([]T, []error) {
	if n <= 0 {
		return nil, nil
	}
	results := make([][]T, n)
	errs := make([]error, n)

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = fetch(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	var out []T
	for _, r := range results {
		out = append(out, r...)
	}
	return out, errs
}

func countErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
