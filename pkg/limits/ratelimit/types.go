package ratelimit

import (
	"fmt"
	"math"
	"time"
)

// Tier identifies which admission check rejected a request.
type Tier string

const (
	TierNone      Tier = ""
	TierBurst     Tier = "burst"
	TierSustained Tier = "sustained"
)

// Config contains the limits applied to every identity.
type Config struct {
	// BurstLimit is the maximum number of requests per burst window.
	BurstLimit int

	// BurstWindow is the fixed burst window size.
	BurstWindow time.Duration

	// SustainedLimit is the maximum number of requests in the rolling window.
	SustainedLimit int

	// SustainedBuckets is the number of buckets in the rolling window.
	SustainedBuckets int

	// BucketSize is the size of a single sustained bucket.
	BucketSize time.Duration
}

// DefaultConfig returns 5 requests per 10s and 60 requests per 5 minutes.
func DefaultConfig() Config {
	return Config{
		BurstLimit:       5,
		BurstWindow:      10 * time.Second,
		SustainedLimit:   60,
		SustainedBuckets: 5,
		BucketSize:       time.Minute,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	switch {
	case c.BurstLimit <= 0:
		return fmt.Errorf("burst limit must be positive")
	case c.BurstWindow < time.Millisecond:
		return fmt.Errorf("burst window must be at least 1ms")
	case c.SustainedLimit <= 0:
		return fmt.Errorf("sustained limit must be positive")
	case c.SustainedBuckets <= 0:
		return fmt.Errorf("sustained buckets must be positive")
	case c.BucketSize < time.Millisecond:
		return fmt.Errorf("bucket size must be at least 1ms")
	}
	return nil
}

// Window returns the total span of the sustained window.
func (c Config) Window() time.Duration {
	return time.Duration(c.SustainedBuckets) * c.BucketSize
}

// Decision is the result of an admission check.
type Decision struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Tier is the tier that rejected the request (if Allowed=false).
	Tier Tier

	// Limit is the limit of the tightest tier.
	Limit int

	// Remaining is how many more requests would be admitted right now.
	Remaining int

	// RetryAfter suggests how long to wait before retrying.
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, at least 1.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RejectedError is returned by callers that convert a rejection to an error.
type RejectedError struct {
	Identity string
	Decision Decision
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s tier), retry after %ds", e.Decision.Tier, e.Decision.RetryAfterSeconds())
}
