package photolib_test

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mhbvr/photolib"
	"github.com/mhbvr/photolib/store/memory"
)

// blockingProvider wraps the in-memory provider so commits stall inside
// the store until the test releases them.
type blockingProvider struct {
	photolib.Provider
	entered chan struct{}
	release chan struct{}
}

func (p *blockingProvider) CreateLibrary(ctx context.Context, path string) (photolib.Store, error) {
	store, err := p.Provider.CreateLibrary(ctx, path)
	if err != nil {
		return nil, err
	}
	return &blockingStore{Store: store, entered: p.entered, release: p.release}, nil
}

type blockingStore struct {
	photolib.Store
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) CommitChange(ctx context.Context, set *photolib.ChangeSet) (*photolib.CommitReceipt, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.CommitChange(ctx, set)
}

// TestOneSubmittedBatchPerHandle checks concurrent begin attempts fail
// while a batch is at the store
func TestOneSubmittedBatchPerHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	provider := &blockingProvider{
		Provider: memory.New(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	session := photolib.NewSession(provider)
	if err := session.EnableMultiLibraryMode(ctx); err != nil {
		t.Fatalf("EnableMultiLibraryMode() failed: %v", err)
	}
	lib, err := session.Create(ctx, "busy.photoslibrary")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	req, err := lib.BeginChange()
	if err != nil {
		t.Fatalf("BeginChange() failed: %v", err)
	}
	if _, err := req.CreateAlbum("Slow"); err != nil {
		t.Fatalf("CreateAlbum() failed: %v", err)
	}

	commitErr := make(chan error, 1)
	go func() {
		_, err := req.Commit(ctx)
		commitErr <- err
	}()
	// Wait until the batch is inside the store.
	<-provider.entered

	var rejected int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := lib.BeginChange(); errors.Is(err, photolib.ErrConcurrentChange) {
				atomic.AddInt64(&rejected, 1)
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt64(&rejected); got != 8 {
		t.Errorf("BeginChange() during submitted window rejected %d of 8 attempts, want all", got)
	}

	close(provider.release)
	if err := <-commitErr; err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if req.State() != photolib.ChangeCommitted {
		t.Errorf("State() after commit = %v, want %v", req.State(), photolib.ChangeCommitted)
	}

	// The window is over; new batches start normally.
	next, err := lib.BeginChange()
	if err != nil {
		t.Fatalf("BeginChange() after commit failed: %v", err)
	}
	if next.State() != photolib.ChangeBuilding {
		t.Errorf("State() of new request = %v, want %v", next.State(), photolib.ChangeBuilding)
	}
}

// TestFailedCommitLeavesIndexIntact checks a rejected batch changes
// nothing observable
func TestFailedCommitLeavesIndexIntact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	const path = "faulty.photoslibrary"
	lib, provider := newTestLibrary(t, path)
	dir := t.TempDir()
	id, err := lib.AddPhoto(ctx, writeJPEG(t, dir, "one.jpg"))
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}
	if _, err := lib.AddPhoto(ctx, writeJPEG(t, dir, "two.jpg")); err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}
	before, err := lib.Assets(ctx)
	if err != nil {
		t.Fatalf("Assets() failed: %v", err)
	}

	provider.SetCommitFailure(path, errors.New("disk full"))
	err = lib.DeleteAssets(ctx, []string{id})
	var cfe *photolib.CommitFailedError
	if !errors.As(err, &cfe) {
		t.Fatalf("DeleteAssets() error = %v, want CommitFailedError", err)
	}
	if cfe.Detail != "disk full" {
		t.Errorf("CommitFailedError.Detail = %q, want %q", cfe.Detail, "disk full")
	}

	after, err := lib.Assets(ctx)
	if err != nil {
		t.Fatalf("Assets() after failed commit failed: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Assets() changed across a failed commit:\nbefore %v\nafter  %v", before, after)
	}

	// Clearing the fault makes the same batch succeed.
	provider.SetCommitFailure(path, nil)
	if err := lib.DeleteAssets(ctx, []string{id}); err != nil {
		t.Fatalf("DeleteAssets() after clearing fault failed: %v", err)
	}
	assets, err := lib.Assets(ctx)
	if err != nil {
		t.Fatalf("Assets() failed: %v", err)
	}
	if len(assets) != 1 {
		t.Errorf("Assets() after delete = %d entries, want 1", len(assets))
	}
}

// TestChangeRequestLifecycle walks a request from building to committed
func TestChangeRequestLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "lifecycle.photoslibrary")
	req, err := lib.BeginChange()
	if err != nil {
		t.Fatalf("BeginChange() failed: %v", err)
	}
	if req.State() != photolib.ChangeBuilding {
		t.Fatalf("State() = %v, want %v", req.State(), photolib.ChangeBuilding)
	}

	ref, err := req.CreateAlbum("Staged")
	if err != nil {
		t.Fatalf("CreateAlbum() failed: %v", err)
	}
	res, err := req.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	if req.State() != photolib.ChangeCommitted {
		t.Errorf("State() = %v, want %v", req.State(), photolib.ChangeCommitted)
	}
	id, ok := res.AlbumID(ref)
	if !ok {
		t.Fatal("AlbumID() did not resolve the staged album")
	}
	if _, err := lib.Album(ctx, id); err != nil {
		t.Errorf("Album(%s) failed: %v", id, err)
	}

	// A committed request takes no further staging or commits.
	if _, err := req.CreateAlbum("Late"); err == nil {
		t.Error("CreateAlbum() on committed request succeeded, want error")
	}
	if _, err := req.Commit(ctx); err == nil {
		t.Error("second Commit() succeeded, want error")
	}
}

// TestAddAssetRejectsUnsupportedTypeEagerly checks staging fails before
// any store contact
func TestAddAssetRejectsUnsupportedTypeEagerly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "eager.photoslibrary")
	req, err := lib.BeginChange()
	if err != nil {
		t.Fatalf("BeginChange() failed: %v", err)
	}

	// The extension decides before the file is even looked at.
	if _, err := req.AddAsset(ctx, filepath.Join(t.TempDir(), "absent.txt")); !errors.Is(err, photolib.ErrUnsupportedFileType) {
		t.Errorf("AddAsset(.txt) error = %v, want %v", err, photolib.ErrUnsupportedFileType)
	}
	if req.State() != photolib.ChangeBuilding {
		t.Errorf("State() after rejected staging = %v, want %v", req.State(), photolib.ChangeBuilding)
	}

	// The batch is still usable.
	if _, err := req.AddAsset(ctx, writeJPEG(t, t.TempDir(), "fine.jpg")); err != nil {
		t.Fatalf("AddAsset(.jpg) failed: %v", err)
	}
	if _, err := req.Commit(ctx); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}

// TestRemovalsApplyBeforeMembership commits a batch whose edits only make
// sense in the documented order
func TestRemovalsApplyBeforeMembership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "ordering.photoslibrary")
	dir := t.TempDir()
	doomed, err := lib.AddPhoto(ctx, writeJPEG(t, dir, "doomed.jpg"))
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}
	album, err := lib.CreateAlbum(ctx, "Ordering")
	if err != nil {
		t.Fatalf("CreateAlbum() failed: %v", err)
	}

	// One batch: remove an asset, add a replacement, and file the removed
	// asset into an album. Removals land first, so the filing is moot and
	// the batch still commits.
	req, err := lib.BeginChange()
	if err != nil {
		t.Fatalf("BeginChange() failed: %v", err)
	}
	if err := req.RemoveAssets(ctx, []string{doomed}); err != nil {
		t.Fatalf("RemoveAssets() failed: %v", err)
	}
	ref, err := req.AddAsset(ctx, writeJPEG(t, dir, "fresh.jpg"))
	if err != nil {
		t.Fatalf("AddAsset() failed: %v", err)
	}
	if err := req.SetAlbumMembership(ctx, album.ID, []string{doomed}, photolib.MembershipAdd); err != nil {
		t.Fatalf("SetAlbumMembership() failed: %v", err)
	}
	res, err := req.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	fresh, ok := res.AssetID(ref)
	if !ok {
		t.Fatal("AssetID() did not resolve the staged import")
	}

	assets, err := lib.Assets(ctx)
	if err != nil {
		t.Fatalf("Assets() failed: %v", err)
	}
	if len(assets) != 1 || assets[0].ID != fresh {
		t.Errorf("Assets() = %v, want only %s", assets, fresh)
	}
	got, err := lib.Album(ctx, album.ID)
	if err != nil {
		t.Fatalf("Album() failed: %v", err)
	}
	if len(got.AssetIDs) != 0 {
		t.Errorf("Album() members = %v, want empty", got.AssetIDs)
	}
}

// TestCommitDeniedLeavesBatchBuilding checks the write gate stops a commit
// before submission
func TestCommitDeniedLeavesBatchBuilding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "gated.photoslibrary",
		memory.WithAuthorization(photolib.AuthStatus{ReadGranted: true}))
	req, err := lib.BeginChange()
	if err != nil {
		t.Fatalf("BeginChange() failed: %v", err)
	}
	if _, err := req.CreateAlbum("Blocked"); err != nil {
		t.Fatalf("CreateAlbum() failed: %v", err)
	}

	if _, err := req.Commit(ctx); !errors.Is(err, photolib.ErrAccessDenied) {
		t.Fatalf("Commit() error = %v, want %v", err, photolib.ErrAccessDenied)
	}
	if req.State() != photolib.ChangeBuilding {
		t.Errorf("State() after denied commit = %v, want %v", req.State(), photolib.ChangeBuilding)
	}
}
