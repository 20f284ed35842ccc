package photolib_test

import (
	"context"
	"testing"

	"github.com/mhbvr/photolib"
	"github.com/mhbvr/photolib/store/memory"
)

// twoHandles binds two independent sessions to the same stored library, so
// one side can mutate behind the other's cache.
func twoHandles(t *testing.T, provider *memory.Provider, path string) (*photolib.Library, *photolib.Library) {
	t.Helper()
	ctx := context.Background()

	owner := photolib.NewSession(provider)
	if err := owner.EnableMultiLibraryMode(ctx); err != nil {
		t.Fatalf("EnableMultiLibraryMode() failed: %v", err)
	}
	front, err := owner.Create(ctx, path)
	if err != nil {
		t.Fatalf("Create(%s) failed: %v", path, err)
	}

	other := photolib.NewSession(provider)
	if err := other.EnableMultiLibraryMode(ctx); err != nil {
		t.Fatalf("EnableMultiLibraryMode() failed: %v", err)
	}
	back, err := other.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", path, err)
	}
	return front, back
}

// TestFetchMissRefreshesOnce finds an asset added behind the cache
func TestFetchMissRefreshesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	front, back := twoHandles(t, memory.New(), "behind.photoslibrary")
	// Populate the front cache while the library is empty.
	if _, err := front.Assets(ctx); err != nil {
		t.Fatalf("Assets() failed: %v", err)
	}

	id, err := back.AddPhoto(ctx, writeJPEG(t, t.TempDir(), "late.jpg"))
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}

	// The front cache has never seen the asset; the miss triggers one
	// scoped refresh and the fetch succeeds.
	desc, err := front.Fetch(ctx, photolib.ShortForm(id))
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if desc.ID != id {
		t.Errorf("Fetch() ID = %q, want %q", desc.ID, id)
	}
}

// TestRefreshReplacesWholeScope checks stale entries vanish on refresh
func TestRefreshReplacesWholeScope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	front, back := twoHandles(t, memory.New(), "stale.photoslibrary")
	dir := t.TempDir()
	old, err := back.AddPhoto(ctx, writeJPEG(t, dir, "old.jpg"))
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}
	if _, err := front.Assets(ctx); err != nil {
		t.Fatalf("Assets() failed: %v", err)
	}

	// Swap the library contents behind the front cache.
	if err := back.DeleteAssets(ctx, []string{old}); err != nil {
		t.Fatalf("DeleteAssets() failed: %v", err)
	}
	replacement, err := back.AddPhoto(ctx, writeJPEG(t, dir, "new.jpg"))
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}

	// Until a refresh the front still serves its cached view.
	cached, err := front.Assets(ctx)
	if err != nil {
		t.Fatalf("Assets() failed: %v", err)
	}
	if len(cached) != 1 || cached[0].ID != old {
		t.Fatalf("Assets() before refresh = %v, want cached %s", cached, old)
	}

	if err := front.Refresh(ctx, photolib.LibraryScope()); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	assets, err := front.Assets(ctx)
	if err != nil {
		t.Fatalf("Assets() after refresh failed: %v", err)
	}
	if len(assets) != 1 || assets[0].ID != replacement {
		t.Errorf("Assets() after refresh = %v, want only %s", assets, replacement)
	}
}

// TestAlbumScopedRefresh reloads one album without touching the rest
func TestAlbumScopedRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	front, back := twoHandles(t, memory.New(), "scoped.photoslibrary")
	id, err := back.AddPhoto(ctx, writeJPEG(t, t.TempDir(), "member.jpg"))
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}
	album, err := back.CreateAlbum(ctx, "Scoped")
	if err != nil {
		t.Fatalf("CreateAlbum() failed: %v", err)
	}
	if err := back.AddAssetsToAlbum(ctx, album.ID, []string{id}); err != nil {
		t.Fatalf("AddAssetsToAlbum() failed: %v", err)
	}

	// Cache the populated album on the front handle.
	got, err := front.Album(ctx, album.ID)
	if err != nil {
		t.Fatalf("Album() failed: %v", err)
	}
	if len(got.AssetIDs) != 1 {
		t.Fatalf("Album() members = %v, want one", got.AssetIDs)
	}

	if err := back.RemoveAssetsFromAlbum(ctx, album.ID, []string{id}); err != nil {
		t.Fatalf("RemoveAssetsFromAlbum() failed: %v", err)
	}
	if err := front.Refresh(ctx, photolib.AlbumScope(photolib.ShortForm(album.ID))); err != nil {
		t.Fatalf("Refresh(album) failed: %v", err)
	}

	got, err = front.Album(ctx, album.ID)
	if err != nil {
		t.Fatalf("Album() after refresh failed: %v", err)
	}
	if len(got.AssetIDs) != 0 {
		t.Errorf("Album() members after refresh = %v, want empty", got.AssetIDs)
	}
	// The member asset itself is still cached and fetchable, with its
	// membership claim dropped.
	desc, err := front.Fetch(ctx, id)
	if err != nil {
		t.Fatalf("Fetch() after refresh failed: %v", err)
	}
	if len(desc.Albums) != 0 {
		t.Errorf("Fetch() Albums = %v, want empty", desc.Albums)
	}
}
