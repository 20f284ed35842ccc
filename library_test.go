package photolib_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/mhbvr/photolib"
	"github.com/mhbvr/photolib/store/memory"
)

// newTestSession returns a session over a fresh in-memory provider.
func newTestSession(t *testing.T, opts ...memory.Option) (*photolib.Session, *memory.Provider) {
	t.Helper()
	provider := memory.New(opts...)
	return photolib.NewSession(provider), provider
}

// newTestLibrary creates a library at path in multi-library mode.
func newTestLibrary(t *testing.T, path string, opts ...memory.Option) (*photolib.Library, *memory.Provider) {
	t.Helper()
	session, provider := newTestSession(t, opts...)
	ctx := context.Background()
	if err := session.EnableMultiLibraryMode(ctx); err != nil {
		t.Fatalf("EnableMultiLibraryMode() failed: %v", err)
	}
	lib, err := session.Create(ctx, path)
	if err != nil {
		t.Fatalf("Create(%s) failed: %v", path, err)
	}
	return lib, provider
}

// writeJPEG writes a small valid JPEG file and returns its path.
func writeJPEG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode() failed: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("WriteFile(%s) failed: %v", path, err)
	}
	return path
}

// TestAddPhotoAndFetch imports a file and fetches it back by short form
func TestAddPhotoAndFetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "fetch.photoslibrary")
	src := writeJPEG(t, t.TempDir(), "img.jpg")

	id, err := lib.AddPhoto(ctx, src)
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}
	if photolib.ShortForm(id) == id {
		t.Errorf("AddPhoto() returned short-form identifier %q, want long form", id)
	}

	desc, err := lib.Fetch(ctx, photolib.ShortForm(id))
	if err != nil {
		t.Fatalf("Fetch(%s) failed: %v", photolib.ShortForm(id), err)
	}
	if desc.OriginalFilename != "img.jpg" {
		t.Errorf("Fetch() OriginalFilename = %q, want %q", desc.OriginalFilename, "img.jpg")
	}
	if desc.Kind != photolib.KindPhoto {
		t.Errorf("Fetch() Kind = %v, want %v", desc.Kind, photolib.KindPhoto)
	}
	if desc.ID != id {
		t.Errorf("Fetch() ID = %q, want %q", desc.ID, id)
	}
	if desc.PixelWidth != 4 || desc.PixelHeight != 2 {
		t.Errorf("Fetch() dimensions = %dx%d, want 4x2", desc.PixelWidth, desc.PixelHeight)
	}
}

// TestAddPhotoErrors checks eager validation of the import path
func TestAddPhotoErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "addphoto-errors.photoslibrary")
	dir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{
			name:    "missing file",
			path:    filepath.Join(dir, "missing.jpg"),
			wantErr: photolib.ErrNotFound,
		},
		{
			name:    "unsupported extension",
			path:    filepath.Join(dir, "notes.txt"),
			wantErr: photolib.ErrUnsupportedFileType,
		},
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not media"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lib.AddPhoto(ctx, tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AddPhoto(%s) error = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

// TestDeleteAssets removes one of two imported assets
func TestDeleteAssets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "delete.photoslibrary")
	dir := t.TempDir()
	keep, err := lib.AddPhoto(ctx, writeJPEG(t, dir, "keep.jpg"))
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}
	gone, err := lib.AddPhoto(ctx, writeJPEG(t, dir, "gone.jpg"))
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}

	if err := lib.DeleteAssets(ctx, []string{photolib.ShortForm(gone)}); err != nil {
		t.Fatalf("DeleteAssets() failed: %v", err)
	}

	assets, err := lib.Assets(ctx)
	if err != nil {
		t.Fatalf("Assets() failed: %v", err)
	}
	if len(assets) != 1 || assets[0].ID != keep {
		t.Errorf("Assets() after delete = %v, want only %s", assets, keep)
	}
	if _, err := lib.Fetch(ctx, gone); !errors.Is(err, photolib.ErrNotFound) {
		t.Errorf("Fetch(deleted) error = %v, want %v", err, photolib.ErrNotFound)
	}
}

// TestFetchMany checks order preservation and per-item NotFound markers
func TestFetchMany(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "fetchmany.photoslibrary")
	id, err := lib.AddPhoto(ctx, writeJPEG(t, t.TempDir(), "one.jpg"))
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}

	results := lib.FetchMany(ctx, []string{id, "not-a-uuid"})
	if len(results) != 2 {
		t.Fatalf("FetchMany() returned %d results, want 2", len(results))
	}
	if results[0].ID != id || results[0].Err != nil || results[0].Asset == nil {
		t.Errorf("FetchMany()[0] = %+v, want descriptor for %s", results[0], id)
	}
	if results[1].ID != "not-a-uuid" {
		t.Errorf("FetchMany()[1].ID = %q, want %q", results[1].ID, "not-a-uuid")
	}
	if !errors.Is(results[1].Err, photolib.ErrNotFound) {
		t.Errorf("FetchMany()[1].Err = %v, want %v", results[1].Err, photolib.ErrNotFound)
	}
}

// TestAlbumMembership runs the two-batch and one-batch add/remove cycles
func TestAlbumMembership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "membership.photoslibrary")
	id, err := lib.AddPhoto(ctx, writeJPEG(t, t.TempDir(), "trip.jpg"))
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}
	album, err := lib.CreateAlbum(ctx, "Trip")
	if err != nil {
		t.Fatalf("CreateAlbum() failed: %v", err)
	}
	if album.Title != "Trip" {
		t.Errorf("CreateAlbum() Title = %q, want %q", album.Title, "Trip")
	}

	// Two separate batches: add, then remove.
	if err := lib.AddAssetsToAlbum(ctx, album.ID, []string{id}); err != nil {
		t.Fatalf("AddAssetsToAlbum() failed: %v", err)
	}
	got, err := lib.Album(ctx, album.ID)
	if err != nil {
		t.Fatalf("Album() failed: %v", err)
	}
	if len(got.AssetIDs) != 1 || got.AssetIDs[0] != id {
		t.Errorf("Album() members after add = %v, want [%s]", got.AssetIDs, id)
	}
	if err := lib.RemoveAssetsFromAlbum(ctx, album.ID, []string{id}); err != nil {
		t.Fatalf("RemoveAssetsFromAlbum() failed: %v", err)
	}
	got, err = lib.Album(ctx, album.ID)
	if err != nil {
		t.Fatalf("Album() failed: %v", err)
	}
	if len(got.AssetIDs) != 0 {
		t.Errorf("Album() members after remove = %v, want empty", got.AssetIDs)
	}

	// Same cycle staged in a single batch.
	req, err := lib.BeginChange()
	if err != nil {
		t.Fatalf("BeginChange() failed: %v", err)
	}
	if err := req.SetAlbumMembership(ctx, album.ID, []string{id}, photolib.MembershipAdd); err != nil {
		t.Fatalf("SetAlbumMembership(add) failed: %v", err)
	}
	if err := req.SetAlbumMembership(ctx, album.ID, []string{id}, photolib.MembershipRemove); err != nil {
		t.Fatalf("SetAlbumMembership(remove) failed: %v", err)
	}
	if _, err := req.Commit(ctx); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
	got, err = lib.Album(ctx, album.ID)
	if err != nil {
		t.Fatalf("Album() failed: %v", err)
	}
	if len(got.AssetIDs) != 0 {
		t.Errorf("Album() members after one-batch cycle = %v, want empty", got.AssetIDs)
	}
}

// TestAlbumByTitle resolves albums by title in store order
func TestAlbumByTitle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "bytitle.photoslibrary")
	want, err := lib.CreateAlbum(ctx, "Vacation")
	if err != nil {
		t.Fatalf("CreateAlbum() failed: %v", err)
	}

	got, err := lib.AlbumByTitle(ctx, "Vacation")
	if err != nil {
		t.Fatalf("AlbumByTitle() failed: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("AlbumByTitle() ID = %q, want %q", got.ID, want.ID)
	}

	if _, err := lib.AlbumByTitle(ctx, "No Such Album"); !errors.Is(err, photolib.ErrNotFound) {
		t.Errorf("AlbumByTitle(missing) error = %v, want %v", err, photolib.ErrNotFound)
	}
}

// TestAlbumsTopLevelOnly filters albums nested under folders
func TestAlbumsTopLevelOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	const path = "toplevel.photoslibrary"
	lib, provider := newTestLibrary(t, path)
	top, err := lib.CreateAlbum(ctx, "Top")
	if err != nil {
		t.Fatalf("CreateAlbum() failed: %v", err)
	}
	nested, err := lib.CreateAlbum(ctx, "Nested")
	if err != nil {
		t.Fatalf("CreateAlbum() failed: %v", err)
	}
	provider.SetAlbumTopLevel(path, photolib.ShortForm(nested.ID), false)
	if err := lib.Refresh(ctx, photolib.LibraryScope()); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	all, err := lib.Albums(ctx, false)
	if err != nil {
		t.Fatalf("Albums(false) failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Albums(false) returned %d albums, want 2", len(all))
	}
	topOnly, err := lib.Albums(ctx, true)
	if err != nil {
		t.Fatalf("Albums(true) failed: %v", err)
	}
	if len(topOnly) != 1 || topOnly[0].ID != top.ID {
		t.Errorf("Albums(true) = %v, want only %s", topOnly, top.ID)
	}
}

// TestDeleteAlbum removes the album but keeps its assets
func TestDeleteAlbum(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "rmalbum.photoslibrary")
	id, err := lib.AddPhoto(ctx, writeJPEG(t, t.TempDir(), "keep.jpg"))
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}
	album, err := lib.CreateAlbum(ctx, "Doomed")
	if err != nil {
		t.Fatalf("CreateAlbum() failed: %v", err)
	}
	if err := lib.AddAssetsToAlbum(ctx, album.ID, []string{id}); err != nil {
		t.Fatalf("AddAssetsToAlbum() failed: %v", err)
	}

	if err := lib.DeleteAlbum(ctx, album.ID); err != nil {
		t.Fatalf("DeleteAlbum() failed: %v", err)
	}
	albums, err := lib.Albums(ctx, false)
	if err != nil {
		t.Fatalf("Albums() failed: %v", err)
	}
	if len(albums) != 0 {
		t.Errorf("Albums() after delete = %v, want empty", albums)
	}
	if _, err := lib.Fetch(ctx, id); err != nil {
		t.Errorf("Fetch(member) after album delete failed: %v", err)
	}
}

// TestExportAsset exports an original and avoids filename collisions
func TestExportAsset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "export.photoslibrary")
	src := writeJPEG(t, t.TempDir(), "sunset.jpg")
	id, err := lib.AddPhoto(ctx, src)
	if err != nil {
		t.Fatalf("AddPhoto() failed: %v", err)
	}
	want, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("ReadFile(%s) failed: %v", src, err)
	}

	dest := t.TempDir()
	first, err := lib.ExportAsset(ctx, id, dest)
	if err != nil {
		t.Fatalf("ExportAsset() failed: %v", err)
	}
	if filepath.Base(first) != "sunset.jpg" {
		t.Errorf("ExportAsset() wrote %q, want sunset.jpg", filepath.Base(first))
	}
	got, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("ReadFile(%s) failed: %v", first, err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ExportAsset() content differs: got %d bytes, want %d", len(got), len(want))
	}

	second, err := lib.ExportAsset(ctx, id, dest)
	if err != nil {
		t.Fatalf("second ExportAsset() failed: %v", err)
	}
	if filepath.Base(second) != "sunset (1).jpg" {
		t.Errorf("second ExportAsset() wrote %q, want %q", filepath.Base(second), "sunset (1).jpg")
	}
}

// TestWriteDeniedFailsFast checks mutations stop at the authorization gate
func TestWriteDeniedFailsFast(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	lib, _ := newTestLibrary(t, "denied.photoslibrary",
		memory.WithAuthorization(photolib.AuthStatus{ReadGranted: true}))
	src := writeJPEG(t, t.TempDir(), "img.jpg")

	if _, err := lib.AddPhoto(ctx, src); !errors.Is(err, photolib.ErrAccessDenied) {
		t.Errorf("AddPhoto() error = %v, want %v", err, photolib.ErrAccessDenied)
	}
	if _, err := lib.CreateAlbum(ctx, "Trip"); !errors.Is(err, photolib.ErrAccessDenied) {
		t.Errorf("CreateAlbum() error = %v, want %v", err, photolib.ErrAccessDenied)
	}
	// Reads stay available with the read grant.
	if _, err := lib.Assets(ctx); err != nil {
		t.Errorf("Assets() with read grant failed: %v", err)
	}
}

// TestRequestAuthorizationRestricted covers the non-interactive policy
func TestRequestAuthorizationRestricted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	session, _ := newTestSession(t,
		memory.WithAuthorization(photolib.AuthStatus{ReadGranted: true}))

	status := session.AuthorizationStatus(ctx)
	if !status.ReadGranted || status.WriteGranted {
		t.Errorf("AuthorizationStatus() = %+v, want read only", status)
	}
	if _, err := session.RequestAuthorization(ctx, photolib.AccessReadWrite); !errors.Is(err, photolib.ErrAccessRestricted) {
		t.Errorf("RequestAuthorization() error = %v, want %v", err, photolib.ErrAccessRestricted)
	}
}

// TestUnreachableStoreKillsOnlyItsHandle checks failure isolation
func TestUnreachableStoreKillsOnlyItsHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	session, provider := newTestSession(t)
	if err := session.EnableMultiLibraryMode(ctx); err != nil {
		t.Fatalf("EnableMultiLibraryMode() failed: %v", err)
	}
	sick, err := session.Create(ctx, "sick.photoslibrary")
	if err != nil {
		t.Fatalf("Create(sick) failed: %v", err)
	}
	healthy, err := session.Create(ctx, "healthy.photoslibrary")
	if err != nil {
		t.Fatalf("Create(healthy) failed: %v", err)
	}
	id, err := healthy.AddPhoto(ctx, writeJPEG(t, t.TempDir(), "ok.jpg"))
	if err != nil {
		t.Fatalf("AddPhoto(healthy) failed: %v", err)
	}

	provider.SetUnreachable("sick.photoslibrary", true)
	if _, err := sick.Assets(ctx); !errors.Is(err, photolib.ErrUnreachable) {
		t.Fatalf("Assets(sick) error = %v, want %v", err, photolib.ErrUnreachable)
	}
	// The handle is dead even after the store recovers.
	provider.SetUnreachable("sick.photoslibrary", false)
	if _, err := sick.Assets(ctx); !errors.Is(err, photolib.ErrUnreachable) {
		t.Errorf("Assets(sick) after recovery error = %v, want %v", err, photolib.ErrUnreachable)
	}
	if _, err := sick.BeginChange(); !errors.Is(err, photolib.ErrUnreachable) {
		t.Errorf("BeginChange(sick) error = %v, want %v", err, photolib.ErrUnreachable)
	}

	if _, err := healthy.Fetch(ctx, id); err != nil {
		t.Errorf("Fetch(healthy) failed: %v", err)
	}
}
