package throttle_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mhbvr/photolib"
	"github.com/mhbvr/photolib/store/throttle"
)

// slowStore counts concurrent Enumerate calls. The embedded interface
// covers the methods the tests never reach.
type slowStore struct {
	photolib.Store
	active int64
	max    int64
	total  int64
}

func (s *slowStore) Enumerate(ctx context.Context, scope photolib.Scope) (*photolib.Snapshot, error) {
	current := atomic.AddInt64(&s.active, 1)
	defer atomic.AddInt64(&s.active, -1)

	for {
		max := atomic.LoadInt64(&s.max)
		if current <= max || atomic.CompareAndSwapInt64(&s.max, max, current) {
			break
		}
	}

	atomic.AddInt64(&s.total, 1)
	time.Sleep(10 * time.Millisecond) // Simulate work
	return &photolib.Snapshot{}, nil
}

func (s *slowStore) Close() error { return nil }

// blockingStore parks Enumerate until released so tests can hold a token
// at a known point.
type blockingStore struct {
	photolib.Store
	entered chan struct{}
	release chan struct{}
	begun   int64
}

func (s *blockingStore) Enumerate(ctx context.Context, scope photolib.Scope) (*photolib.Snapshot, error) {
	s.entered <- struct{}{}
	<-s.release
	return &photolib.Snapshot{}, nil
}

func (s *blockingStore) BeginChange(ctx context.Context) error {
	atomic.AddInt64(&s.begun, 1)
	return nil
}

func (s *blockingStore) CommitChange(ctx context.Context, set *photolib.ChangeSet) (*photolib.CommitReceipt, error) {
	return nil, nil
}

func (s *blockingStore) Close() error { return nil }

// TestThrottleLimitsConcurrentReads checks that no more than
// maxConcurrent reads run at once.
func TestThrottleLimitsConcurrentReads(t *testing.T) {
	t.Parallel()

	inner := &slowStore{}
	st, err := throttle.New(inner, 3)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Enumerate(context.Background(), photolib.LibraryScope()); err != nil {
				t.Errorf("Enumerate() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&inner.max); got > 3 {
		t.Errorf("Max concurrent reads exceeded limit: got %d, want <= 3", got)
	}
	if got := atomic.LoadInt64(&inner.total); got != 10 {
		t.Errorf("Executed reads = %d, want 10", got)
	}
}

// TestThrottleRejectsBadLimit checks that non-positive limits are refused.
func TestThrottleRejectsBadLimit(t *testing.T) {
	t.Parallel()

	for _, limit := range []int{0, -1} {
		if _, err := throttle.New(&slowStore{}, limit); err == nil {
			t.Errorf("New(limit=%d) succeeded, want error", limit)
		}
	}
}

// TestThrottleHonorsContext checks that a waiting caller gives up when
// its context is cancelled.
func TestThrottleHonorsContext(t *testing.T) {
	t.Parallel()

	inner := &blockingStore{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	st, err := throttle.New(inner, 1)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		st.Enumerate(context.Background(), photolib.LibraryScope())
	}()
	<-inner.entered // Single token now held.

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := st.Original(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Original() error = %v, want %v", err, context.Canceled)
	}

	close(inner.release)
	<-done
}

// TestThrottleDoesNotGateWrites checks that BeginChange passes through
// even when every token is held by a read.
func TestThrottleDoesNotGateWrites(t *testing.T) {
	t.Parallel()

	inner := &blockingStore{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	st, err := throttle.New(inner, 1)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		st.Enumerate(context.Background(), photolib.LibraryScope())
	}()
	<-inner.entered // Single token now held.

	if err := st.BeginChange(context.Background()); err != nil {
		t.Errorf("BeginChange() failed: %v", err)
	}
	if _, err := st.CommitChange(context.Background(), nil); err != nil {
		t.Errorf("CommitChange() failed: %v", err)
	}
	if got := atomic.LoadInt64(&inner.begun); got != 1 {
		t.Errorf("BeginChange reached inner store %d times, want 1", got)
	}

	close(inner.release)
	<-done
}
