package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mhbvr/photolib"
)

// Provider is an in-memory implementation of the full library capability
// surface. It backs the core tests: libraries live in maps, grants and
// failure modes are configurable, and semantics mirror the on-disk
// backends including the single writer slot per library.
type Provider struct {
	systemPath string
	auth       photolib.AuthStatus
	requestFn  func(photolib.AccessLevel) (photolib.AuthStatus, error)
	modeErr    error

	mu        sync.Mutex
	libraries map[string]*library
}

// Option configures a Provider.
type Option func(*Provider)

// WithSystemLibraryPath sets the path reported as the default library.
func WithSystemLibraryPath(path string) Option {
	return func(p *Provider) {
		p.systemPath = filepath.Clean(path)
	}
}

// WithAuthorization sets the grant reported by AuthorizationStatus.
func WithAuthorization(status photolib.AuthStatus) Option {
	return func(p *Provider) {
		p.auth = status
	}
}

// WithRequestPolicy overrides how RequestAuthorization decides. Without it
// the provider behaves like a non-interactive platform: already granted
// levels come back granted, anything else fails with ErrAccessRestricted.
func WithRequestPolicy(fn func(photolib.AccessLevel) (photolib.AuthStatus, error)) Option {
	return func(p *Provider) {
		p.requestFn = fn
	}
}

// WithModeTransitionFailure makes EnterMultiLibraryMode fail with err.
func WithModeTransitionFailure(err error) Option {
	return func(p *Provider) {
		p.modeErr = err
	}
}

// New returns an empty in-memory provider. The default library reported by
// SystemLibraryPath exists implicitly: opening it creates it on first use,
// the way the platform keeps the default store always available.
func New(opts ...Option) *Provider {
	p := &Provider{
		systemPath: filepath.Clean("System.photoslibrary"),
		auth:       photolib.AuthStatus{ReadGranted: true, WriteGranted: true},
		libraries:  make(map[string]*library),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) SystemLibraryPath() (string, error) {
	return p.systemPath, nil
}

func (p *Provider) EnterMultiLibraryMode(ctx context.Context) error {
	return p.modeErr
}

func (p *Provider) AuthorizationStatus(ctx context.Context) photolib.AuthStatus {
	return p.auth
}

func (p *Provider) RequestAuthorization(ctx context.Context, level photolib.AccessLevel) (photolib.AuthStatus, error) {
	if p.requestFn != nil {
		return p.requestFn(level)
	}
	granted := p.auth.WriteGranted
	if level == photolib.AccessReadWrite {
		granted = granted && p.auth.ReadGranted
	}
	if !granted {
		return p.auth, photolib.ErrAccessRestricted
	}
	return p.auth, nil
}

func (p *Provider) OpenLibrary(ctx context.Context, path string) (photolib.Store, error) {
	key := filepath.Clean(path)
	p.mu.Lock()
	defer p.mu.Unlock()
	lib, ok := p.libraries[key]
	if !ok {
		if key != p.systemPath {
			return nil, fmt.Errorf("no library at %s: %w", path, photolib.ErrNotFound)
		}
		lib = newLibraryData()
		p.libraries[key] = lib
	}
	return &Store{lib: lib}, nil
}

func (p *Provider) CreateLibrary(ctx context.Context, path string) (photolib.Store, error) {
	key := filepath.Clean(path)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.libraries[key]; ok || key == p.systemPath {
		return nil, fmt.Errorf("library at %s: %w", path, photolib.ErrAlreadyExists)
	}
	lib := newLibraryData()
	p.libraries[key] = lib
	return &Store{lib: lib}, nil
}

// SetCommitFailure makes every subsequent change commit against the
// library at path fail with err. A nil err clears the fault.
func (p *Provider) SetCommitFailure(path string, err error) {
	if lib := p.library(path); lib != nil {
		lib.mu.Lock()
		lib.commitErr = err
		lib.mu.Unlock()
	}
}

// SetUnreachable makes every subsequent store call against the library at
// path fail with ErrUnreachable.
func (p *Provider) SetUnreachable(path string, v bool) {
	if lib := p.library(path); lib != nil {
		lib.mu.Lock()
		lib.unreachable = v
		lib.mu.Unlock()
	}
}

// SetAlbumTopLevel marks an album as nested or top level, standing in for
// the folder hierarchy real stores have.
func (p *Provider) SetAlbumTopLevel(path, shortID string, top bool) {
	if lib := p.library(path); lib != nil {
		lib.mu.Lock()
		if album, ok := lib.albums[shortID]; ok {
			album.TopLevel = top
		}
		lib.mu.Unlock()
	}
}

func (p *Provider) library(path string) *library {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.libraries[filepath.Clean(path)]
}

// library holds the records of one in-memory library.
type library struct {
	mu         sync.RWMutex
	seq        int
	assets     map[string]*assetEntry              // keyed by short form
	albums     map[string]*photolib.AlbumRecord    // keyed by short form
	assetOrder []string
	albumOrder []string

	// writeSlot is the single writer slot: BeginChange fills it,
	// CommitChange drains it.
	writeSlot chan struct{}

	unreachable bool
	commitErr   error
}

type assetEntry struct {
	rec  photolib.Record
	data []byte
}

func newLibraryData() *library {
	return &library{
		assets:    make(map[string]*assetEntry),
		albums:    make(map[string]*photolib.AlbumRecord),
		writeSlot: make(chan struct{}, 1),
	}
}

// newID mints an Apple-style long-form identifier: an upper-case UUID plus
// a positional suffix.
func (l *library) newID() string {
	l.seq++
	return fmt.Sprintf("%s/L0/%03d", strings.ToUpper(uuid.NewString()), l.seq)
}

// Store is an open handle to one in-memory library.
type Store struct {
	lib *library
}

var _ photolib.Store = (*Store)(nil)

func (s *Store) Enumerate(ctx context.Context, scope photolib.Scope) (*photolib.Snapshot, error) {
	l := s.lib
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.unreachable {
		return nil, photolib.ErrUnreachable
	}

	snap := &photolib.Snapshot{}
	if scope.AlbumID == "" {
		for _, short := range l.assetOrder {
			snap.Assets = append(snap.Assets, copyRecord(l.assets[short].rec))
		}
		for _, short := range l.albumOrder {
			snap.Albums = append(snap.Albums, copyAlbumRecord(*l.albums[short]))
		}
		return snap, nil
	}

	album, ok := l.albums[scope.AlbumID]
	if !ok {
		return nil, fmt.Errorf("album %s: %w", scope.AlbumID, photolib.ErrNotFound)
	}
	snap.Albums = append(snap.Albums, copyAlbumRecord(*album))
	for _, id := range album.AssetIDs {
		if entry, ok := l.assets[photolib.ShortForm(id)]; ok {
			snap.Assets = append(snap.Assets, copyRecord(entry.rec))
		}
	}
	return snap, nil
}

func (s *Store) LookupByShortID(ctx context.Context, shortID string) (*photolib.Record, *photolib.AlbumRecord, error) {
	l := s.lib
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.unreachable {
		return nil, nil, photolib.ErrUnreachable
	}
	if entry, ok := l.assets[shortID]; ok {
		rec := copyRecord(entry.rec)
		return &rec, nil, nil
	}
	if album, ok := l.albums[shortID]; ok {
		rec := copyAlbumRecord(*album)
		return nil, &rec, nil
	}
	return nil, nil, fmt.Errorf("%s: %w", shortID, photolib.ErrNotFound)
}

func (s *Store) BeginChange(ctx context.Context) error {
	l := s.lib
	l.mu.RLock()
	unreachable := l.unreachable
	l.mu.RUnlock()
	if unreachable {
		return photolib.ErrUnreachable
	}
	select {
	case l.writeSlot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) CommitChange(ctx context.Context, set *photolib.ChangeSet) (*photolib.CommitReceipt, error) {
	l := s.lib
	defer func() { <-l.writeSlot }()
	if set == nil {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unreachable {
		return nil, photolib.ErrUnreachable
	}
	if l.commitErr != nil {
		return nil, l.commitErr
	}

	// Validate the whole batch and read every import before mutating
	// anything, so a failing item fails the batch with nothing applied.
	for _, id := range set.RemoveAssets {
		if _, ok := l.assets[photolib.ShortForm(id)]; !ok {
			return nil, fmt.Errorf("cannot remove asset %s: %w", id, photolib.ErrNotFound)
		}
	}
	for _, id := range set.RemoveAlbums {
		if _, ok := l.albums[photolib.ShortForm(id)]; !ok {
			return nil, fmt.Errorf("cannot remove album %s: %w", id, photolib.ErrNotFound)
		}
	}
	imported := make([][]byte, len(set.AddAssets))
	for i, imp := range set.AddAssets {
		data, err := os.ReadFile(imp.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read import %s: %w", imp.Path, err)
		}
		imported[i] = data
	}
	for _, edit := range set.Membership {
		if _, ok := l.albums[photolib.ShortForm(edit.AlbumID)]; !ok {
			return nil, fmt.Errorf("cannot edit album %s: %w", edit.AlbumID, photolib.ErrNotFound)
		}
		for _, id := range edit.AssetIDs {
			if _, ok := l.assets[photolib.ShortForm(id)]; !ok {
				return nil, fmt.Errorf("cannot file asset %s: %w", id, photolib.ErrNotFound)
			}
		}
	}

	// Apply: removals, then additions, then membership edits.
	for _, id := range set.RemoveAssets {
		l.removeAsset(photolib.ShortForm(id))
	}
	for _, id := range set.RemoveAlbums {
		l.removeAlbum(photolib.ShortForm(id))
	}

	receipt := &photolib.CommitReceipt{}
	for i, imp := range set.AddAssets {
		data := imported[i]
		id := l.newID()
		short := photolib.ShortForm(id)
		rec := photolib.Record{
			ID:               id,
			OriginalFilename: imp.Filename,
			Kind:             imp.Kind,
			Created:          time.Now(),
		}
		if imp.Kind == photolib.KindPhoto {
			rec.PixelWidth, rec.PixelHeight = photolib.ImageDimensions(data)
		}
		l.assets[short] = &assetEntry{rec: rec, data: data}
		l.assetOrder = append(l.assetOrder, short)
		receipt.AssetIDs = append(receipt.AssetIDs, id)
	}
	for _, title := range set.CreateAlbums {
		id := l.newID()
		short := photolib.ShortForm(id)
		l.albums[short] = &photolib.AlbumRecord{ID: id, Title: title, TopLevel: true}
		l.albumOrder = append(l.albumOrder, short)
		receipt.AlbumIDs = append(receipt.AlbumIDs, id)
	}
	for _, edit := range set.Membership {
		l.applyMembership(edit)
	}
	return receipt, nil
}

func (l *library) removeAsset(short string) {
	delete(l.assets, short)
	l.assetOrder = removeString(l.assetOrder, short)
	for _, album := range l.albums {
		album.AssetIDs = removeByShort(album.AssetIDs, short)
	}
}

func (l *library) removeAlbum(short string) {
	delete(l.albums, short)
	l.albumOrder = removeString(l.albumOrder, short)
	for _, entry := range l.assets {
		entry.rec.Albums = removeString(entry.rec.Albums, short)
	}
}

func (l *library) applyMembership(edit photolib.MembershipEdit) {
	albumShort := photolib.ShortForm(edit.AlbumID)
	album := l.albums[albumShort]
	switch edit.Op {
	case photolib.MembershipAdd:
		for _, id := range edit.AssetIDs {
			short := photolib.ShortForm(id)
			entry, ok := l.assets[short]
			if !ok {
				// Removed earlier in the same batch. Removals apply
				// before membership edits, so the filing is moot.
				continue
			}
			if !containsShort(album.AssetIDs, short) {
				album.AssetIDs = append(album.AssetIDs, entry.rec.ID)
			}
			if !containsString(entry.rec.Albums, albumShort) {
				entry.rec.Albums = append(entry.rec.Albums, albumShort)
			}
		}
	case photolib.MembershipRemove:
		for _, id := range edit.AssetIDs {
			short := photolib.ShortForm(id)
			album.AssetIDs = removeByShort(album.AssetIDs, short)
			if entry, ok := l.assets[short]; ok {
				entry.rec.Albums = removeString(entry.rec.Albums, albumShort)
			}
		}
	}
}

func (s *Store) Original(ctx context.Context, id string) ([]byte, error) {
	l := s.lib
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.unreachable {
		return nil, photolib.ErrUnreachable
	}
	entry, ok := l.assets[photolib.ShortForm(id)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, photolib.ErrNotFound)
	}
	return append([]byte(nil), entry.data...), nil
}

func (s *Store) Close() error {
	return nil
}

func copyRecord(r photolib.Record) photolib.Record {
	r.Albums = append([]string(nil), r.Albums...)
	return r
}

func copyAlbumRecord(r photolib.AlbumRecord) photolib.AlbumRecord {
	r.AssetIDs = append([]string(nil), r.AssetIDs...)
	return r
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsShort(ids []string, short string) bool {
	for _, id := range ids {
		if photolib.ShortForm(id) == short {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	var out []string
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func removeByShort(ids []string, short string) []string {
	var out []string
	for _, id := range ids {
		if photolib.ShortForm(id) != short {
			out = append(out, id)
		}
	}
	return out
}
