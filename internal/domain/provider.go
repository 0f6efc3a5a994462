package domain

import (
	"context"
	"time"
)

// Provider fetches point records for a bounding rectangle from an upstream
// hazard or camera service.
type Provider interface {
	Fetch(ctx context.Context, bounds Viewport) FetchResult
}

// FetchResult is the outcome of a provider call. The set of implementations
// is closed: FetchSuccess, FetchRateLimited and FetchFailed.
type FetchResult interface {
	fetchResult()
}

// FetchSuccess carries the records returned for the requested bounds. An
// empty Records slice is a valid, cacheable answer.
type FetchSuccess struct {
	Records []PointRecord
}

// FetchRateLimited means the upstream rejected the request for exceeding its
// quota. RetryAfter is the upstream's hint, zero when absent.
type FetchRateLimited struct {
	RetryAfter time.Duration
}

// FetchFailed covers every other failure: transport, status, decoding.
type FetchFailed struct {
	Err error
}

func (FetchSuccess) fetchResult()     {}
func (FetchRateLimited) fetchResult() {}
func (FetchFailed) fetchResult()      {}

func (f FetchFailed) Error() string {
	if f.Err == nil {
		return "fetch failed"
	}
	return f.Err.Error()
}

func (f FetchFailed) Unwrap() error { return f.Err }
