package photolib

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// assetIndex caches asset and album descriptors for one open library.
// Refresh is the only operation that mutates the cache, and it always
// replaces a whole scope: there are no speculative or partial updates.
// Commits invalidate the touched scopes by re-reading them; there is no
// event-driven invalidation from the store.
type assetIndex struct {
	store Store

	mu         sync.RWMutex
	assets     map[string]AssetDescriptor // keyed by short form
	albums     map[string]AlbumDescriptor // keyed by short form
	assetOrder []string                   // short forms in store order
	albumOrder []string
	populated  bool // library scope has been loaded
}

func newAssetIndex(store Store) *assetIndex {
	return &assetIndex{
		store:  store,
		assets: make(map[string]AssetDescriptor),
		albums: make(map[string]AlbumDescriptor),
	}
}

func descriptorFromRecord(r Record) AssetDescriptor {
	return AssetDescriptor{
		ID:               r.ID,
		OriginalFilename: r.OriginalFilename,
		Kind:             r.Kind,
		Created:          r.Created,
		Favorite:         r.Favorite,
		Hidden:           r.Hidden,
		PixelWidth:       r.PixelWidth,
		PixelHeight:      r.PixelHeight,
		Albums:           append([]string(nil), r.Albums...),
	}
}

func descriptorFromAlbumRecord(r AlbumRecord) AlbumDescriptor {
	return AlbumDescriptor{
		ID:       r.ID,
		Title:    r.Title,
		AssetIDs: append([]string(nil), r.AssetIDs...),
		TopLevel: r.TopLevel,
	}
}

func cloneAsset(d AssetDescriptor) AssetDescriptor {
	d.Albums = append([]string(nil), d.Albums...)
	return d
}

func cloneAlbum(d AlbumDescriptor) AlbumDescriptor {
	d.AssetIDs = append([]string(nil), d.AssetIDs...)
	return d
}

// refresh re-reads scope from the store and replaces the cached entries
// for it. A library scope rebuilds the whole cache; an album scope
// replaces that album and its member descriptors. Refreshing an album the
// store no longer has drops it from the cache.
func (x *assetIndex) refresh(ctx context.Context, scope Scope) error {
	if scope.AlbumID == "" {
		return x.refreshLibrary(ctx)
	}
	return x.refreshAlbum(ctx, scope.AlbumID)
}

func (x *assetIndex) refreshLibrary(ctx context.Context) error {
	snap, err := x.store.Enumerate(ctx, LibraryScope())
	if err != nil {
		return fmt.Errorf("failed to enumerate library: %w", err)
	}

	assets := make(map[string]AssetDescriptor, len(snap.Assets))
	assetOrder := make([]string, 0, len(snap.Assets))
	for _, r := range snap.Assets {
		short := ShortForm(r.ID)
		assets[short] = descriptorFromRecord(r)
		assetOrder = append(assetOrder, short)
	}
	albums := make(map[string]AlbumDescriptor, len(snap.Albums))
	albumOrder := make([]string, 0, len(snap.Albums))
	for _, r := range snap.Albums {
		short := ShortForm(r.ID)
		albums[short] = descriptorFromAlbumRecord(r)
		albumOrder = append(albumOrder, short)
	}

	x.mu.Lock()
	x.assets = assets
	x.albums = albums
	x.assetOrder = assetOrder
	x.albumOrder = albumOrder
	x.populated = true
	x.mu.Unlock()
	return nil
}

func (x *assetIndex) refreshAlbum(ctx context.Context, short string) error {
	snap, err := x.store.Enumerate(ctx, AlbumScope(short))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			x.dropAlbum(short)
			return nil
		}
		return fmt.Errorf("failed to enumerate album %s: %w", short, err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	members := make(map[string]bool, len(snap.Assets))
	for _, r := range snap.Assets {
		s := ShortForm(r.ID)
		members[s] = true
		x.assets[s] = descriptorFromRecord(r)
		if !contains(x.assetOrder, s) {
			x.assetOrder = append(x.assetOrder, s)
		}
	}
	for _, r := range snap.Albums {
		s := ShortForm(r.ID)
		x.albums[s] = descriptorFromAlbumRecord(r)
		if !contains(x.albumOrder, s) {
			x.albumOrder = append(x.albumOrder, s)
		}
	}
	// Cached assets no longer in this album keep their descriptors but
	// must not claim the membership anymore.
	for s, d := range x.assets {
		if members[s] || !contains(d.Albums, short) {
			continue
		}
		d.Albums = remove(append([]string(nil), d.Albums...), short)
		x.assets[s] = d
	}
	return nil
}

func (x *assetIndex) dropAlbum(short string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.albums, short)
	x.albumOrder = remove(x.albumOrder, short)
	for s, d := range x.assets {
		if !contains(d.Albums, short) {
			continue
		}
		d.Albums = remove(append([]string(nil), d.Albums...), short)
		x.assets[s] = d
	}
}

// reset discards the whole cache. The next read repopulates it from the
// store.
func (x *assetIndex) reset() {
	x.mu.Lock()
	x.assets = make(map[string]AssetDescriptor)
	x.albums = make(map[string]AlbumDescriptor)
	x.assetOrder = nil
	x.albumOrder = nil
	x.populated = false
	x.mu.Unlock()
}

func (x *assetIndex) ensurePopulated(ctx context.Context) error {
	x.mu.RLock()
	done := x.populated
	x.mu.RUnlock()
	if done {
		return nil
	}
	return x.refreshLibrary(ctx)
}

// fetchAsset returns the descriptor for a short-form identifier. A miss
// triggers one library refresh and a single retry before ErrNotFound.
func (x *assetIndex) fetchAsset(ctx context.Context, short string) (AssetDescriptor, error) {
	if err := x.ensurePopulated(ctx); err != nil {
		return AssetDescriptor{}, err
	}
	x.mu.RLock()
	d, ok := x.assets[short]
	x.mu.RUnlock()
	if ok {
		return cloneAsset(d), nil
	}
	if err := x.refreshLibrary(ctx); err != nil {
		return AssetDescriptor{}, err
	}
	x.mu.RLock()
	d, ok = x.assets[short]
	x.mu.RUnlock()
	if !ok {
		return AssetDescriptor{}, ErrNotFound
	}
	return cloneAsset(d), nil
}

// fetchAlbum returns the descriptor for a short-form album identifier,
// refreshing that album's scope once on a miss.
func (x *assetIndex) fetchAlbum(ctx context.Context, short string) (AlbumDescriptor, error) {
	if err := x.ensurePopulated(ctx); err != nil {
		return AlbumDescriptor{}, err
	}
	x.mu.RLock()
	d, ok := x.albums[short]
	x.mu.RUnlock()
	if ok {
		return cloneAlbum(d), nil
	}
	if err := x.refreshAlbum(ctx, short); err != nil {
		return AlbumDescriptor{}, err
	}
	x.mu.RLock()
	d, ok = x.albums[short]
	x.mu.RUnlock()
	if !ok {
		return AlbumDescriptor{}, ErrNotFound
	}
	return cloneAlbum(d), nil
}

func (x *assetIndex) allAssets(ctx context.Context) ([]AssetDescriptor, error) {
	if err := x.ensurePopulated(ctx); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]AssetDescriptor, 0, len(x.assetOrder))
	for _, s := range x.assetOrder {
		if d, ok := x.assets[s]; ok {
			out = append(out, cloneAsset(d))
		}
	}
	return out, nil
}

func (x *assetIndex) allAlbums(ctx context.Context) ([]AlbumDescriptor, error) {
	if err := x.ensurePopulated(ctx); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]AlbumDescriptor, 0, len(x.albumOrder))
	for _, s := range x.albumOrder {
		if d, ok := x.albums[s]; ok {
			out = append(out, cloneAlbum(d))
		}
	}
	return out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
