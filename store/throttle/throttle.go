// Package throttle wraps a photolib.Store with a limit on concurrent
// calls. Serving programs put it in front of on-disk stores so a burst
// of requests cannot pile up unbounded reads.
package throttle

import (
	"context"
	"fmt"

	"github.com/mhbvr/photolib"
)

// Store delegates read calls to an inner store after taking a token from
// a fixed-size pool. BeginChange and CommitChange pass through untouched;
// the store's writer slot already serializes them, and CommitChange must
// always reach the inner store to release that slot.
type Store struct {
	inner  photolib.Store
	tokens chan struct{}
}

var _ photolib.Store = (*Store)(nil)

// New returns a Store allowing at most maxConcurrent calls at a time.
func New(inner photolib.Store, maxConcurrent int) (*Store, error) {
	if maxConcurrent <= 0 {
		return nil, fmt.Errorf("maxConcurrent must be positive, got %d", maxConcurrent)
	}
	s := &Store{
		inner:  inner,
		tokens: make(chan struct{}, maxConcurrent),
	}
	for i := 0; i < maxConcurrent; i++ {
		s.tokens <- struct{}{}
	}
	return s, nil
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case <-s.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() {
	s.tokens <- struct{}{}
}

func (s *Store) Enumerate(ctx context.Context, scope photolib.Scope) (*photolib.Snapshot, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	return s.inner.Enumerate(ctx, scope)
}

func (s *Store) LookupByShortID(ctx context.Context, shortID string) (*photolib.Record, *photolib.AlbumRecord, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer s.release()
	return s.inner.LookupByShortID(ctx, shortID)
}

func (s *Store) BeginChange(ctx context.Context) error {
	return s.inner.BeginChange(ctx)
}

func (s *Store) CommitChange(ctx context.Context, set *photolib.ChangeSet) (*photolib.CommitReceipt, error) {
	return s.inner.CommitChange(ctx, set)
}

func (s *Store) Original(ctx context.Context, id string) ([]byte, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	return s.inner.Original(ctx, id)
}

func (s *Store) Close() error {
	return s.inner.Close()
}
