package photolib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ChangeState is the lifecycle position of a change request.
type ChangeState int

const (
	// ChangeBuilding means mutations are still being staged.
	ChangeBuilding ChangeState = iota
	// ChangeSubmitted means the batch is at the store awaiting the outcome.
	ChangeSubmitted
	// ChangeCommitted means the store applied the whole batch.
	ChangeCommitted
	// ChangeFailed means the store rejected the batch; nothing from it was
	// applied.
	ChangeFailed
)

func (s ChangeState) String() string {
	switch s {
	case ChangeBuilding:
		return "building"
	case ChangeSubmitted:
		return "submitted"
	case ChangeCommitted:
		return "committed"
	case ChangeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PendingAssetRef identifies one staged import inside a change request.
// Commit resolves it to the final identifier.
type PendingAssetRef struct {
	index int
}

// PendingAlbumRef identifies one staged album creation inside a change
// request.
type PendingAlbumRef struct {
	index int
}

// ChangeRequest is a batch of staged mutations against one library handle.
// Stage mutations while the request is building, then Commit. A building
// request that is no longer wanted can simply be dropped; nothing reached
// the store yet.
//
// A ChangeRequest is not safe for concurrent use: one goroutine builds and
// commits it. Concurrency control happens per handle, where at most one
// request may be submitted at a time.
type ChangeRequest struct {
	lib   *Library
	state ChangeState
	set   ChangeSet

	// short-form ids of albums whose membership the batch edits
	touchedAlbums []string
}

// BeginChange opens a new change batch against this library. Fails with
// ErrConcurrentChange while another batch is submitted and its outcome is
// still unknown.
func (l *Library) BeginChange() (*ChangeRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrHandleClosed
	}
	if l.broken {
		return nil, fmt.Errorf("library handle at %s is dead: %w", l.path, ErrUnreachable)
	}
	if l.inFlight {
		return nil, ErrConcurrentChange
	}
	return &ChangeRequest{lib: l}, nil
}

// State reports the request's lifecycle position.
func (c *ChangeRequest) State() ChangeState { return c.state }

func (c *ChangeRequest) building() error {
	if c.state != ChangeBuilding {
		return fmt.Errorf("change request is %s, not building", c.state)
	}
	return nil
}

// AddAsset stages an import of the media file at path. The file must exist
// and carry a recognized media extension; contents are not inspected. The
// returned ref resolves to the asset's identifier after Commit.
func (c *ChangeRequest) AddAsset(ctx context.Context, path string) (PendingAssetRef, error) {
	if err := c.building(); err != nil {
		return PendingAssetRef{}, err
	}
	kind, ok := KindForFile(path)
	if !ok {
		return PendingAssetRef{}, fmt.Errorf("%s: %w", path, ErrUnsupportedFileType)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PendingAssetRef{}, fmt.Errorf("media file %s: %w", path, ErrNotFound)
		}
		return PendingAssetRef{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	c.set.AddAssets = append(c.set.AddAssets, FileImport{
		Path:     path,
		Filename: filepath.Base(path),
		Kind:     kind,
	})
	return PendingAssetRef{index: len(c.set.AddAssets) - 1}, nil
}

// RemoveAssets stages deletion of the given assets. Identifiers may be
// short or long form; they are normalized now, so a change in the store
// between staging and commit cannot silently retarget them.
func (c *ChangeRequest) RemoveAssets(ctx context.Context, ids []string) error {
	if err := c.building(); err != nil {
		return err
	}
	for _, id := range ids {
		long, err := c.lib.normalizeID(ctx, id, assetKind)
		if err != nil {
			return err
		}
		c.set.RemoveAssets = append(c.set.RemoveAssets, long)
	}
	return nil
}

// CreateAlbum stages creation of an empty top-level album. The returned
// ref resolves to the album's identifier after Commit.
func (c *ChangeRequest) CreateAlbum(title string) (PendingAlbumRef, error) {
	if err := c.building(); err != nil {
		return PendingAlbumRef{}, err
	}
	c.set.CreateAlbums = append(c.set.CreateAlbums, title)
	return PendingAlbumRef{index: len(c.set.CreateAlbums) - 1}, nil
}

// RemoveAlbum stages deletion of an album. Member assets stay in the
// library.
func (c *ChangeRequest) RemoveAlbum(ctx context.Context, id string) error {
	if err := c.building(); err != nil {
		return err
	}
	long, err := c.lib.normalizeID(ctx, id, albumKind)
	if err != nil {
		return err
	}
	c.set.RemoveAlbums = append(c.set.RemoveAlbums, long)
	return nil
}

// SetAlbumMembership stages adding or removing the given assets on an
// album. All identifiers are normalized at stage time.
func (c *ChangeRequest) SetAlbumMembership(ctx context.Context, albumID string, ids []string, op MembershipOp) error {
	if err := c.building(); err != nil {
		return err
	}
	albumLong, err := c.lib.normalizeID(ctx, albumID, albumKind)
	if err != nil {
		return err
	}
	edit := MembershipEdit{AlbumID: albumLong, Op: op}
	for _, id := range ids {
		long, err := c.lib.normalizeID(ctx, id, assetKind)
		if err != nil {
			return err
		}
		edit.AssetIDs = append(edit.AssetIDs, long)
	}
	c.set.Membership = append(c.set.Membership, edit)

	short := ShortForm(albumLong)
	if !contains(c.touchedAlbums, short) {
		c.touchedAlbums = append(c.touchedAlbums, short)
	}
	return nil
}

// CommitResult maps the staged operations of a committed request to the
// identifiers the store assigned.
type CommitResult struct {
	assetIDs []string
	albumIDs []string
}

// AssetID returns the long-form identifier the store assigned to a staged
// import.
func (r *CommitResult) AssetID(ref PendingAssetRef) (string, bool) {
	if r == nil || ref.index < 0 || ref.index >= len(r.assetIDs) {
		return "", false
	}
	return r.assetIDs[ref.index], true
}

// AlbumID returns the long-form identifier the store assigned to a staged
// album creation.
func (r *CommitResult) AlbumID(ref PendingAlbumRef) (string, bool) {
	if r == nil || ref.index < 0 || ref.index >= len(r.albumIDs) {
		return "", false
	}
	return r.albumIDs[ref.index], true
}

// Commit submits the batch and blocks until the store reports the outcome.
// Within the batch the store applies removals before additions before
// membership edits.
//
// On success the request moves to ChangeCommitted, every touched scope of
// the index is refreshed, and the result maps staged operations to final
// identifiers. On failure the request moves to ChangeFailed, the index is
// left exactly as it was, and the error is a CommitFailedError carrying
// the store's detail (or ErrUnreachable when the store is gone). A batch
// is never partially applied.
//
// Once submitted a batch cannot be canceled. Commit returns only when the
// store reports the outcome: a store that honors ctx expiry rejects the
// batch, and a rejected batch applies nothing.
func (c *ChangeRequest) Commit(ctx context.Context) (*CommitResult, error) {
	if err := c.building(); err != nil {
		return nil, err
	}
	if err := c.lib.session.gate.requireWrite(ctx); err != nil {
		return nil, err
	}

	l := c.lib
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrHandleClosed
	}
	if l.broken {
		l.mu.Unlock()
		return nil, fmt.Errorf("library handle at %s is dead: %w", l.path, ErrUnreachable)
	}
	if l.inFlight {
		l.mu.Unlock()
		return nil, ErrConcurrentChange
	}
	l.inFlight = true
	l.mu.Unlock()

	c.state = ChangeSubmitted
	l.storeMu.Lock()
	defer func() {
		l.storeMu.Unlock()
		l.mu.Lock()
		l.inFlight = false
		l.mu.Unlock()
	}()

	if err := l.store.BeginChange(ctx); err != nil {
		c.state = ChangeFailed
		return nil, l.classify(commitError(err))
	}
	receipt, err := l.store.CommitChange(ctx, &c.set)
	if err != nil {
		c.state = ChangeFailed
		return nil, l.classify(commitError(err))
	}
	c.state = ChangeCommitted

	result := &CommitResult{}
	if receipt != nil {
		result.assetIDs = receipt.AssetIDs
		result.albumIDs = receipt.AlbumIDs
	}

	// Refresh every scope the batch touched. A failure here does not undo
	// the commit; the cache is reset instead and rebuilt on next use.
	if err := c.refreshTouched(ctx); err != nil {
		l.classify(err)
		l.index.reset()
	}
	return result, nil
}

// refreshTouched reloads the scopes affected by the committed batch.
// Batches that change the asset or album population reload the library
// scope, which covers everything; pure membership edits reload only the
// edited albums.
func (c *ChangeRequest) refreshTouched(ctx context.Context) error {
	s := &c.set
	if len(s.RemoveAssets) > 0 || len(s.RemoveAlbums) > 0 ||
		len(s.AddAssets) > 0 || len(s.CreateAlbums) > 0 {
		return c.lib.index.refresh(ctx, LibraryScope())
	}
	for _, short := range c.touchedAlbums {
		if err := c.lib.index.refresh(ctx, AlbumScope(short)); err != nil {
			return err
		}
	}
	return nil
}

// commitError classifies a store failure: unreachable stores pass through
// for handle teardown, everything else becomes a CommitFailedError.
func commitError(err error) error {
	if errors.Is(err, ErrUnreachable) {
		return fmt.Errorf("failed to commit change: %w", err)
	}
	return &CommitFailedError{Detail: err.Error(), Err: err}
}
