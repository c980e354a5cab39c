package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"mercator-hq/relay/pkg/store"
)

func newTestGuard() (*Guard, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := store.NewMemoryStoreWithConfig(store.MemoryConfig{Clock: mock})
	return NewGuard(s, mock), mock
}

func TestGuard_RejectsWithinTTLAcceptsAfter(t *testing.T) {
	guard, mock := newTestGuard()
	ctx := context.Background()
	ttl := 5 * time.Minute
	base := mock.Now()

	if r := guard.CheckAndConsume(ctx, "n-1", ttl); r.Outcome != Accepted {
		t.Fatalf("Expected first presentation accepted, got %+v", r)
	}

	for _, offset := range []time.Duration{0, time.Second, 2 * time.Minute, ttl - time.Millisecond} {
		mock.Set(base.Add(offset))
		r := guard.CheckAndConsume(ctx, "n-1", ttl)
		if r.Outcome != Rejected || r.Reason != ReasonReplayDetected {
			t.Errorf("Expected replay-detected at +%v, got %+v", offset, r)
		}
	}

	mock.Set(base.Add(ttl))
	if r := guard.CheckAndConsume(ctx, "n-1", ttl); r.Outcome != Accepted {
		t.Errorf("Expected nonce accepted again after TTL, got %+v", r)
	}
	if r := guard.CheckAndConsume(ctx, "n-1", ttl); r.Outcome != Rejected {
		t.Errorf("Expected nonce rejected after re-acceptance, got %+v", r)
	}
}

func TestGuard_RepeatedPresentationsWithinWindow(t *testing.T) {
	guard, mock := newTestGuard()
	ctx := context.Background()
	ttl := time.Minute

	guard.CheckAndConsume(ctx, "n-2", ttl)
	for i := 0; i < 5; i++ {
		mock.Add(10 * time.Second)
		if r := guard.CheckAndConsume(ctx, "n-2", ttl); r.Outcome != Rejected {
			t.Fatalf("Presentation %d: expected rejected, got %+v", i+2, r)
		}
	}
}

func TestGuard_MissingNonce(t *testing.T) {
	guard, _ := newTestGuard()
	r := guard.CheckAndConsume(context.Background(), "", time.Minute)
	if r.Outcome != Rejected || r.Reason != ReasonMissingNonce {
		t.Errorf("Expected missing-nonce rejection, got %+v", r)
	}
}

func TestGuard_ConcurrentRacersOneWins(t *testing.T) {
	guard, _ := newTestGuard()
	ctx := context.Background()

	const racers = 50
	results := make([]Result, racers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = guard.CheckAndConsume(ctx, "contested", time.Minute)
		}(i)
	}
	close(start)
	wg.Wait()

	accepted := 0
	for _, r := range results {
		switch r.Outcome {
		case Accepted:
			accepted++
		case Rejected:
		default:
			t.Errorf("Unexpected outcome %+v", r)
		}
	}
	if accepted != 1 {
		t.Errorf("Expected exactly 1 accepted, got %d", accepted)
	}
}

// failingStore simulates a transiently unavailable backend.
type failingStore struct {
	store.Store
	err error
}

func (f *failingStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return false, f.err
}

func TestGuard_StoreFailureIsSkippedNotApproved(t *testing.T) {
	unavailable := errors.New("connection refused")
	guard := NewGuard(&failingStore{err: unavailable}, nil)

	r := guard.CheckAndConsume(context.Background(), "n-3", time.Minute)
	if r.Outcome != Skipped {
		t.Fatalf("Expected skipped outcome, got %+v", r)
	}
	if !errors.Is(r.Err, unavailable) {
		t.Errorf("Expected store error to be attached, got %v", r.Err)
	}
	if r.Reason != ReasonStoreError {
		t.Errorf("Expected reason %s, got %s", ReasonStoreError, r.Reason)
	}
}
