package ratelimit

import (
	"sort"
	"time"
)

// windowState is the persisted per-identity counter state.
type windowState struct {
	// BurstBucket is the index of the current burst window.
	BurstBucket int64 `json:"bb"`

	// BurstCount is the number of admitted requests in BurstBucket.
	BurstCount int `json:"bc"`

	// Buckets holds the sustained buckets still inside the window, oldest first.
	Buckets []windowBucket `json:"sb,omitempty"`
}

// windowBucket is a single sustained bucket.
type windowBucket struct {
	Index int64 `json:"i"`
	Count int   `json:"c"`
}

// admit evaluates one request against both tiers at time now. Stale buckets
// are pruned unconditionally; counters are incremented only on admission.
func (s *windowState) admit(cfg Config, now time.Time) Decision {
	nowMs := now.UnixMilli()
	burstMs := cfg.BurstWindow.Milliseconds()
	bucketMs := cfg.BucketSize.Milliseconds()
	span := int64(cfg.SustainedBuckets)

	burstIdx := nowMs / burstMs
	current := nowMs / bucketMs

	if s.BurstBucket != burstIdx {
		s.BurstBucket = burstIdx
		s.BurstCount = 0
	}

	sum := s.prune(current, span)

	burstFull := s.BurstCount+1 > cfg.BurstLimit
	sustainedFull := sum+1 > cfg.SustainedLimit

	if burstFull || sustainedFull {
		var burstWait, sustainedWait time.Duration
		if burstFull {
			burstWait = time.Duration((burstIdx+1)*burstMs-nowMs) * time.Millisecond
		}
		if sustainedFull {
			sustainedWait = s.sustainedWait(cfg, sum, span, bucketMs, nowMs)
		}

		// When both tiers are exhausted the longer wait is the useful one.
		if sustainedFull && sustainedWait >= burstWait {
			return Decision{Tier: TierSustained, Limit: cfg.SustainedLimit, RetryAfter: sustainedWait}
		}
		return Decision{Tier: TierBurst, Limit: cfg.BurstLimit, RetryAfter: burstWait}
	}

	s.BurstCount++
	if n := len(s.Buckets); n > 0 && s.Buckets[n-1].Index == current {
		s.Buckets[n-1].Count++
	} else {
		s.Buckets = append(s.Buckets, windowBucket{Index: current, Count: 1})
	}

	burstLeft := cfg.BurstLimit - s.BurstCount
	sustainedLeft := cfg.SustainedLimit - (sum + 1)
	if burstLeft <= sustainedLeft {
		return Decision{Allowed: true, Limit: cfg.BurstLimit, Remaining: burstLeft}
	}
	return Decision{Allowed: true, Limit: cfg.SustainedLimit, Remaining: sustainedLeft}
}

// prune drops buckets outside (current-span, current] and returns the sum of
// the remaining counts.
func (s *windowState) prune(current, span int64) int {
	sort.Slice(s.Buckets, func(i, j int) bool { return s.Buckets[i].Index < s.Buckets[j].Index })

	kept := s.Buckets[:0]
	sum := 0
	for _, b := range s.Buckets {
		if b.Index > current-span && b.Index <= current {
			kept = append(kept, b)
			sum += b.Count
		}
	}
	s.Buckets = kept
	return sum
}

// sustainedWait returns the time until enough of the oldest buckets leave
// the window for one more request to fit.
func (s *windowState) sustainedWait(cfg Config, sum int, span, bucketMs, nowMs int64) time.Duration {
	freed := 0
	for _, b := range s.Buckets {
		freed += b.Count
		if sum-freed+1 <= cfg.SustainedLimit {
			return time.Duration((b.Index+span)*bucketMs-nowMs) * time.Millisecond
		}
	}
	return cfg.Window()
}
