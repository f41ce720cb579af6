package businessflow

import (
	"context"
	"time"
)

// BatchResult is the outcome of one item of a rate-limited batch
type BatchResult[T any] struct {
	Item T
	Err  error
}

// OK reports whether the item succeeded
func (r BatchResult[T]) OK() bool {
	return r.Err == nil
}

// BatchSummary counts the outcomes of a batch
type BatchSummary struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Summarize counts successes and failures in results
func Summarize[T any](results []BatchResult[T]) BatchSummary {
	var s BatchSummary
	for _, r := range results {
		if r.Err == nil {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	return s
}

// RunRateLimited calls fn for each item strictly in order, pausing interval between
// consecutive calls. A failing item never stops the sequence. When ctx is done the
// remaining items are reported with ctx.Err() and fn is not called for them.
func RunRateLimited[T any](ctx context.Context, items []T, interval time.Duration, fn func(context.Context, T) error) []BatchResult[T] {
	results := make([]BatchResult[T], 0, len(items))
	if len(items) == 0 {
		return results
	}

	var timer *time.Timer
	if interval > 0 {
		timer = time.NewTimer(interval)
		timer.Stop()
		defer timer.Stop()
	}

	for i, item := range items {
		if i > 0 && timer != nil {
			timer.Reset(interval)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			for _, rest := range items[i:] {
				results = append(results, BatchResult[T]{Item: rest, Err: err})
			}
			return results
		}
		results = append(results, BatchResult[T]{Item: item, Err: fn(ctx, item)})
	}

	return results
}
