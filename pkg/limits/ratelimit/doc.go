// Package ratelimit enforces per-identity admission limits on two tiers.
//
// # Burst Window
//
// A short fixed window. The bucket index is floor(now / BurstWindow); the
// count resets whenever the index changes. A request is rejected when the
// count after admitting it would exceed BurstLimit.
//
// # Sustained Window
//
// A rolling window made of SustainedBuckets consecutive buckets of
// BucketSize each (default 5 x 1 minute). The counts of all buckets still
// inside the window are summed; a request is rejected when the sum after
// admitting it would exceed SustainedLimit.
//
// # Atomicity
//
// Both tiers are evaluated and updated inside a single store.Update call for
// the identity key, so concurrent requests for one identity are strictly
// ordered and never undercount. Only admitted requests increment counters;
// a rejection only prunes buckets that left the window.
//
//	limiter := ratelimit.NewLimiter(st, ratelimit.DefaultConfig(), nil)
//	decision, err := limiter.Allow(ctx, clientIP)
//	if !decision.Allowed {
//	    // decision.Tier and decision.RetryAfter explain the rejection
//	}
package ratelimit
