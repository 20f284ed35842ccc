package photolib

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// AssetDescriptor is the cached view of one store asset. Descriptors are
// read from the backing store by index refreshes and are never mutated
// speculatively.
type AssetDescriptor struct {
	ID               string // long-form identifier
	OriginalFilename string
	Kind             AssetKind
	Created          time.Time
	Favorite         bool
	Hidden           bool
	PixelWidth       int
	PixelHeight      int
	Albums           []string // short-form identifiers of containing albums
}

// AlbumDescriptor is the cached view of one album. The member order is the
// store's and is not guaranteed stable across sessions.
type AlbumDescriptor struct {
	ID       string // long-form identifier
	Title    string
	AssetIDs []string // long-form member identifiers
	TopLevel bool
}

// FetchResult is one element of a FetchMany response. Err is ErrNotFound
// for identifiers that could not be resolved; Asset is set otherwise.
type FetchResult struct {
	ID    string // the identifier as given by the caller
	Asset *AssetDescriptor
	Err   error
}

// Library is an open binding to one photo library and the entry point for
// asset and album operations. Obtain one from Session.Open or
// Session.Create and release it with Close.
//
// A Library is safe for concurrent use. Reads run concurrently with each
// other; a submitted change batch excludes them until the store reports
// the batch outcome.
type Library struct {
	session   *Session
	store     Store
	path      string
	isDefault bool

	// storeMu spans the submitted window of a change batch in write mode.
	// Reads against the store take it in read mode.
	storeMu sync.RWMutex

	mu       sync.Mutex
	closed   bool
	broken   bool // store reported unreachable; handle is dead
	inFlight bool // a change batch is submitted
	refs     int  // guarded by session.mu

	index *assetIndex
}

func newLibrary(s *Session, store Store, path string, isDefault bool) *Library {
	return &Library{
		session:   s,
		store:     store,
		path:      path,
		isDefault: isDefault,
		refs:      1,
		index:     newAssetIndex(store),
	}
}

// Path returns the library location this handle is bound to.
func (l *Library) Path() string { return l.path }

// Close releases the handle. Operations after the last release fail with
// ErrHandleClosed. The default library handle is shared: Close drops one
// reference and the store stays open while other holders remain.
func (l *Library) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrHandleClosed
	}
	l.mu.Unlock()
	return l.session.release(l)
}

func (l *Library) markClosed() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// markBroken flags the handle dead after the store reported unreachable.
// Other handles in the session are not affected.
func (l *Library) markBroken() {
	l.mu.Lock()
	l.broken = true
	l.mu.Unlock()
}

// guardRead rejects operations on released or dead handles.
func (l *Library) guardRead() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrHandleClosed
	}
	if l.broken {
		return fmt.Errorf("library handle at %s is dead: %w", l.path, ErrUnreachable)
	}
	return nil
}

// classify marks the handle dead when err means the store is unreachable.
// The error comes back unchanged for the caller to propagate.
func (l *Library) classify(err error) error {
	if err != nil && errors.Is(err, ErrUnreachable) {
		l.markBroken()
	}
	return err
}

// Assets returns descriptors for every asset in the library, in store
// order. The index is populated on first use.
func (l *Library) Assets(ctx context.Context) ([]AssetDescriptor, error) {
	if err := l.guardRead(); err != nil {
		return nil, err
	}
	if err := l.session.gate.requireRead(ctx); err != nil {
		return nil, err
	}
	l.storeMu.RLock()
	defer l.storeMu.RUnlock()
	assets, err := l.index.allAssets(ctx)
	return assets, l.classify(err)
}

// Fetch resolves id, in short or long form, to its asset descriptor. A
// cache miss triggers one scoped index refresh before giving up with
// ErrNotFound.
func (l *Library) Fetch(ctx context.Context, id string) (AssetDescriptor, error) {
	if err := l.guardRead(); err != nil {
		return AssetDescriptor{}, err
	}
	if err := l.session.gate.requireRead(ctx); err != nil {
		return AssetDescriptor{}, err
	}
	long, err := l.normalizeID(ctx, id, assetKind)
	if err != nil {
		return AssetDescriptor{}, err
	}
	l.storeMu.RLock()
	defer l.storeMu.RUnlock()
	desc, err := l.index.fetchAsset(ctx, ShortForm(long))
	if err != nil {
		return AssetDescriptor{}, l.classify(fmt.Errorf("asset %s: %w", id, err))
	}
	return desc, nil
}

// FetchMany resolves each identifier in ids, preserving input order. The
// call never fails wholesale: each element carries either a descriptor or
// its own error, ErrNotFound for unresolvable identifiers.
func (l *Library) FetchMany(ctx context.Context, ids []string) []FetchResult {
	if err := l.guardRead(); err != nil {
		return failEvery(ids, err)
	}
	if err := l.session.gate.requireRead(ctx); err != nil {
		return failEvery(ids, err)
	}
	results := make([]FetchResult, len(ids))
	for i, id := range ids {
		results[i] = FetchResult{ID: id}
		long, err := l.normalizeID(ctx, id, assetKind)
		if err != nil {
			results[i].Err = l.classify(err)
			continue
		}
		l.storeMu.RLock()
		desc, err := l.index.fetchAsset(ctx, ShortForm(long))
		l.storeMu.RUnlock()
		if err != nil {
			results[i].Err = l.classify(fmt.Errorf("asset %s: %w", id, err))
			continue
		}
		results[i].Asset = &desc
	}
	return results
}

func failEvery(ids []string, err error) []FetchResult {
	results := make([]FetchResult, len(ids))
	for i, id := range ids {
		results[i] = FetchResult{ID: id, Err: err}
	}
	return results
}

// Original returns the media bytes of an asset.
func (l *Library) Original(ctx context.Context, id string) ([]byte, error) {
	if err := l.guardRead(); err != nil {
		return nil, err
	}
	if err := l.session.gate.requireRead(ctx); err != nil {
		return nil, err
	}
	long, err := l.normalizeID(ctx, id, assetKind)
	if err != nil {
		return nil, err
	}
	l.storeMu.RLock()
	defer l.storeMu.RUnlock()
	data, err := l.store.Original(ctx, long)
	if err != nil {
		return nil, l.classify(fmt.Errorf("failed to read original of %s: %w", id, err))
	}
	return data, nil
}

// Refresh re-reads the descriptors for scope from the backing store,
// replacing the cached entries for that scope. Safe to call at any time;
// reconciles the index after operations with unknown outcomes.
func (l *Library) Refresh(ctx context.Context, scope Scope) error {
	if err := l.guardRead(); err != nil {
		return err
	}
	if err := l.session.gate.requireRead(ctx); err != nil {
		return err
	}
	l.storeMu.RLock()
	defer l.storeMu.RUnlock()
	return l.classify(l.index.refresh(ctx, scope))
}

// AddPhoto imports the media file at path and returns the long-form
// identifier of the new asset. The import runs as a single change batch:
// staged, submitted and committed before AddPhoto returns.
func (l *Library) AddPhoto(ctx context.Context, path string) (string, error) {
	if err := l.session.gate.requireWrite(ctx); err != nil {
		return "", err
	}
	req, err := l.BeginChange()
	if err != nil {
		return "", err
	}
	ref, err := req.AddAsset(ctx, path)
	if err != nil {
		return "", err
	}
	res, err := req.Commit(ctx)
	if err != nil {
		return "", err
	}
	id, ok := res.AssetID(ref)
	if !ok {
		return "", fmt.Errorf("store did not report an identifier for %s: %w", path, ErrNotFound)
	}
	return id, nil
}

// DeleteAssets removes the given assets from the library in one change
// batch. Identifiers may be short or long form.
func (l *Library) DeleteAssets(ctx context.Context, ids []string) error {
	if err := l.session.gate.requireWrite(ctx); err != nil {
		return err
	}
	req, err := l.BeginChange()
	if err != nil {
		return err
	}
	if err := req.RemoveAssets(ctx, ids); err != nil {
		return err
	}
	_, err = req.Commit(ctx)
	return err
}

// Albums returns descriptors for the library's albums in store order.
// With topLevelOnly set, albums nested inside folders are skipped.
func (l *Library) Albums(ctx context.Context, topLevelOnly bool) ([]AlbumDescriptor, error) {
	if err := l.guardRead(); err != nil {
		return nil, err
	}
	if err := l.session.gate.requireRead(ctx); err != nil {
		return nil, err
	}
	l.storeMu.RLock()
	defer l.storeMu.RUnlock()
	albums, err := l.index.allAlbums(ctx)
	if err != nil {
		return nil, l.classify(err)
	}
	if !topLevelOnly {
		return albums, nil
	}
	var top []AlbumDescriptor
	for _, a := range albums {
		if a.TopLevel {
			top = append(top, a)
		}
	}
	return top, nil
}

// Album resolves id, in short or long form, to its album descriptor.
func (l *Library) Album(ctx context.Context, id string) (AlbumDescriptor, error) {
	if err := l.guardRead(); err != nil {
		return AlbumDescriptor{}, err
	}
	if err := l.session.gate.requireRead(ctx); err != nil {
		return AlbumDescriptor{}, err
	}
	long, err := l.normalizeID(ctx, id, albumKind)
	if err != nil {
		return AlbumDescriptor{}, err
	}
	l.storeMu.RLock()
	defer l.storeMu.RUnlock()
	desc, err := l.index.fetchAlbum(ctx, ShortForm(long))
	if err != nil {
		return AlbumDescriptor{}, l.classify(fmt.Errorf("album %s: %w", id, err))
	}
	return desc, nil
}

// AlbumByTitle returns the first album whose title matches, in store
// order. Titles are not unique; with duplicates the match is arbitrary but
// stable for the session. Returns ErrNotFound when no album matches.
func (l *Library) AlbumByTitle(ctx context.Context, title string) (AlbumDescriptor, error) {
	albums, err := l.Albums(ctx, false)
	if err != nil {
		return AlbumDescriptor{}, err
	}
	for _, a := range albums {
		if a.Title == title {
			return a, nil
		}
	}
	return AlbumDescriptor{}, fmt.Errorf("no album titled %q: %w", title, ErrNotFound)
}

// CreateAlbum creates an empty top-level album with the given title and
// returns its descriptor. Duplicate titles are allowed, as in the native
// store.
func (l *Library) CreateAlbum(ctx context.Context, title string) (AlbumDescriptor, error) {
	if err := l.session.gate.requireWrite(ctx); err != nil {
		return AlbumDescriptor{}, err
	}
	req, err := l.BeginChange()
	if err != nil {
		return AlbumDescriptor{}, err
	}
	ref, err := req.CreateAlbum(title)
	if err != nil {
		return AlbumDescriptor{}, err
	}
	res, err := req.Commit(ctx)
	if err != nil {
		return AlbumDescriptor{}, err
	}
	id, ok := res.AlbumID(ref)
	if !ok {
		return AlbumDescriptor{}, fmt.Errorf("store did not report an identifier for album %q: %w", title, ErrNotFound)
	}
	return l.Album(ctx, id)
}

// DeleteAlbum removes an album. Member assets stay in the library.
func (l *Library) DeleteAlbum(ctx context.Context, id string) error {
	if err := l.session.gate.requireWrite(ctx); err != nil {
		return err
	}
	req, err := l.BeginChange()
	if err != nil {
		return err
	}
	if err := req.RemoveAlbum(ctx, id); err != nil {
		return err
	}
	_, err = req.Commit(ctx)
	return err
}

// AddAssetsToAlbum appends the given assets to an album's membership in
// one change batch.
func (l *Library) AddAssetsToAlbum(ctx context.Context, albumID string, ids []string) error {
	return l.editMembership(ctx, albumID, ids, MembershipAdd)
}

// RemoveAssetsFromAlbum removes the given assets from an album's
// membership in one change batch. The assets stay in the library.
func (l *Library) RemoveAssetsFromAlbum(ctx context.Context, albumID string, ids []string) error {
	return l.editMembership(ctx, albumID, ids, MembershipRemove)
}

func (l *Library) editMembership(ctx context.Context, albumID string, ids []string, op MembershipOp) error {
	if err := l.session.gate.requireWrite(ctx); err != nil {
		return err
	}
	req, err := l.BeginChange()
	if err != nil {
		return err
	}
	if err := req.SetAlbumMembership(ctx, albumID, ids, op); err != nil {
		return err
	}
	_, err = req.Commit(ctx)
	return err
}
