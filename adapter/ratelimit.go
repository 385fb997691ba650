package adapter

import (
	"context"

	"golang.org/x/time/rate"
)

// rateLimited paces requests to a backend with a client-side token bucket.
// It keeps tournaments under provider quotas instead of burning the
// per-provider retry on predictable throttling.
type rateLimited struct {
	next    Adapter
	limiter *rate.Limiter
}

// WithRateLimit wraps next so it issues at most perMinute requests per
// minute, with a burst of one. A non-positive perMinute returns next
// unchanged.
func WithRateLimit(next Adapter, perMinute int) Adapter {
	if perMinute <= 0 {
		return next
	}
	return &rateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
}

func (r *rateLimited) ModelID() string { return r.next.ModelID() }

func (r *rateLimited) Query(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, NewError(KindTimeout, r.next.ModelID(), err)
	}
	return r.next.Query(ctx, req)
}
