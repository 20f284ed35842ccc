package pebble

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/mhbvr/photolib"
)

const (
	databaseDir = "database"

	assetPrefix = "asset:"
	albumPrefix = "album:"
	origPrefix  = "orig:"
	seqKey      = "meta:seq"
)

// Provider opens photo libraries backed by a single Pebble key-value store
// holding records and media bytes under prefixed keys.
type Provider struct {
	systemPath string
}

// Option configures a Provider.
type Option func(*Provider)

// WithSystemLibraryPath overrides the reported default library location.
func WithSystemLibraryPath(path string) Option {
	return func(p *Provider) {
		p.systemPath = path
	}
}

// NewProvider returns a Provider for Pebble libraries.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) SystemLibraryPath() (string, error) {
	if p.systemPath != "" {
		return p.systemPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, "Pictures", "System.photoslibrary"), nil
}

// EnterMultiLibraryMode has no platform side for on-disk libraries.
func (p *Provider) EnterMultiLibraryMode(ctx context.Context) error {
	return nil
}

func (p *Provider) AuthorizationStatus(ctx context.Context) photolib.AuthStatus {
	return photolib.AuthStatus{ReadGranted: true, WriteGranted: true}
}

func (p *Provider) RequestAuthorization(ctx context.Context, level photolib.AccessLevel) (photolib.AuthStatus, error) {
	return p.AuthorizationStatus(ctx), nil
}

func (p *Provider) OpenLibrary(ctx context.Context, path string) (photolib.Store, error) {
	dbPath := filepath.Join(path, databaseDir)
	if _, err := os.Stat(dbPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat %s: %w", dbPath, err)
		}
		sysPath, sysErr := p.SystemLibraryPath()
		if sysErr != nil || filepath.Clean(path) != filepath.Clean(sysPath) {
			return nil, fmt.Errorf("no library at %s: %w", path, photolib.ErrNotFound)
		}
		// The default library exists implicitly; opening it creates it.
	}
	return openStore(dbPath)
}

func (p *Provider) CreateLibrary(ctx context.Context, path string) (photolib.Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("library at %s: %w", path, photolib.ErrAlreadyExists)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return openStore(filepath.Join(path, databaseDir))
}

// assetRow is the stored form of one asset record. Seq preserves store
// order across the randomly distributed UUID keys.
type assetRow struct {
	Seq              uint64    `json:"seq"`
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	Kind             int       `json:"kind"`
	Created          time.Time `json:"created"`
	Favorite         bool      `json:"favorite,omitempty"`
	Hidden           bool      `json:"hidden,omitempty"`
	PixelWidth       int       `json:"pixel_width,omitempty"`
	PixelHeight      int       `json:"pixel_height,omitempty"`
	Albums           []string  `json:"albums,omitempty"`
}

type albumRow struct {
	Seq      uint64   `json:"seq"`
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	AssetIDs []string `json:"asset_ids,omitempty"`
	TopLevel bool     `json:"top_level"`
}

// Store is an open Pebble library.
type Store struct {
	db        *pebble.DB
	writeSlot chan struct{}
}

var _ photolib.Store = (*Store)(nil)

func openStore(dbPath string) (*Store, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	return &Store{
		db:        db,
		writeSlot: make(chan struct{}, 1),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func assetKey(short string) []byte { return []byte(assetPrefix + short) }
func albumKey(short string) []byte { return []byte(albumPrefix + short) }
func origKey(short string) []byte  { return []byte(origPrefix + short) }

func newLongID(short string, seq uint64) string {
	return fmt.Sprintf("%s/L0/%03d", short, seq)
}

// tables holds every decoded row, keyed by short form. Commits mutate the
// in-memory copy and write the whole thing back in one batch.
type tables struct {
	assets map[string]assetRow
	albums map[string]albumRow
	seq    uint64
}

func (s *Store) loadTables() (*tables, error) {
	t := &tables{
		assets: make(map[string]assetRow),
		albums: make(map[string]albumRow),
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(assetPrefix),
		UpperBound: []byte(assetPrefix + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		var row assetRow
		if err := json.Unmarshal(iter.Value(), &row); err != nil {
			iter.Close()
			return nil, fmt.Errorf("failed to decode asset record: %w", err)
		}
		t.assets[photolib.ShortForm(row.ID)] = row
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}

	iter, err = s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(albumPrefix),
		UpperBound: []byte(albumPrefix + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		var row albumRow
		if err := json.Unmarshal(iter.Value(), &row); err != nil {
			iter.Close()
			return nil, fmt.Errorf("failed to decode album record: %w", err)
		}
		t.albums[photolib.ShortForm(row.ID)] = row
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}

	value, closer, err := s.db.Get([]byte(seqKey))
	if err == nil {
		if len(value) == 8 {
			t.seq = binary.BigEndian.Uint64(value)
		}
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return nil, fmt.Errorf("failed to read sequence counter: %w", err)
	}
	return t, nil
}

func (t *tables) assetsInOrder() []assetRow {
	rows := make([]assetRow, 0, len(t.assets))
	for _, row := range t.assets {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	return rows
}

func (t *tables) albumsInOrder() []albumRow {
	rows := make([]albumRow, 0, len(t.albums))
	for _, row := range t.albums {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	return rows
}

func (s *Store) Enumerate(ctx context.Context, scope photolib.Scope) (*photolib.Snapshot, error) {
	t, err := s.loadTables()
	if err != nil {
		return nil, err
	}

	snap := &photolib.Snapshot{}
	if scope.AlbumID == "" {
		for _, row := range t.assetsInOrder() {
			snap.Assets = append(snap.Assets, recordFromRow(row))
		}
		for _, row := range t.albumsInOrder() {
			snap.Albums = append(snap.Albums, albumFromRow(row))
		}
		return snap, nil
	}

	album, ok := t.albums[scope.AlbumID]
	if !ok {
		return nil, fmt.Errorf("album %s: %w", scope.AlbumID, photolib.ErrNotFound)
	}
	snap.Albums = append(snap.Albums, albumFromRow(album))
	for _, id := range album.AssetIDs {
		if row, ok := t.assets[photolib.ShortForm(id)]; ok {
			snap.Assets = append(snap.Assets, recordFromRow(row))
		}
	}
	return snap, nil
}

func (s *Store) LookupByShortID(ctx context.Context, shortID string) (*photolib.Record, *photolib.AlbumRecord, error) {
	value, closer, err := s.db.Get(assetKey(shortID))
	if err == nil {
		var row assetRow
		decodeErr := json.Unmarshal(value, &row)
		closer.Close()
		if decodeErr != nil {
			return nil, nil, fmt.Errorf("failed to decode asset record: %w", decodeErr)
		}
		rec := recordFromRow(row)
		return &rec, nil, nil
	}
	if err != pebble.ErrNotFound {
		return nil, nil, fmt.Errorf("failed to get asset record: %w", err)
	}

	value, closer, err = s.db.Get(albumKey(shortID))
	if err == nil {
		var row albumRow
		decodeErr := json.Unmarshal(value, &row)
		closer.Close()
		if decodeErr != nil {
			return nil, nil, fmt.Errorf("failed to decode album record: %w", decodeErr)
		}
		rec := albumFromRow(row)
		return nil, &rec, nil
	}
	if err != pebble.ErrNotFound {
		return nil, nil, fmt.Errorf("failed to get album record: %w", err)
	}
	return nil, nil, fmt.Errorf("%s: %w", shortID, photolib.ErrNotFound)
}

func (s *Store) BeginChange(ctx context.Context) error {
	select {
	case s.writeSlot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) CommitChange(ctx context.Context, set *photolib.ChangeSet) (*photolib.CommitReceipt, error) {
	defer func() { <-s.writeSlot }()
	if set == nil {
		return nil, nil
	}

	t, err := s.loadTables()
	if err != nil {
		return nil, err
	}

	// Validate the whole batch and read every import up front, so a
	// failing item aborts with nothing written.
	for _, id := range set.RemoveAssets {
		if _, ok := t.assets[photolib.ShortForm(id)]; !ok {
			return nil, fmt.Errorf("cannot remove asset %s: %w", id, photolib.ErrNotFound)
		}
	}
	for _, id := range set.RemoveAlbums {
		if _, ok := t.albums[photolib.ShortForm(id)]; !ok {
			return nil, fmt.Errorf("cannot remove album %s: %w", id, photolib.ErrNotFound)
		}
	}
	for _, edit := range set.Membership {
		if _, ok := t.albums[photolib.ShortForm(edit.AlbumID)]; !ok {
			return nil, fmt.Errorf("cannot edit album %s: %w", edit.AlbumID, photolib.ErrNotFound)
		}
		for _, id := range edit.AssetIDs {
			if _, ok := t.assets[photolib.ShortForm(id)]; !ok {
				return nil, fmt.Errorf("cannot file asset %s: %w", id, photolib.ErrNotFound)
			}
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

	batch := s.db.NewBatch()
	defer batch.Close()

	// Removals first.
	for _, id := range set.RemoveAssets {
		short := photolib.ShortForm(id)
		if err := batch.Delete(assetKey(short), pebble.NoSync); err != nil {
			return nil, fmt.Errorf("failed to delete asset record: %w", err)
		}
		if err := batch.Delete(origKey(short), pebble.NoSync); err != nil {
			return nil, fmt.Errorf("failed to delete media data: %w", err)
		}
		delete(t.assets, short)
		for albumShort, row := range t.albums {
			row.AssetIDs = removeByShort(row.AssetIDs, short)
			t.albums[albumShort] = row
		}
	}
	for _, id := range set.RemoveAlbums {
		short := photolib.ShortForm(id)
		if err := batch.Delete(albumKey(short), pebble.NoSync); err != nil {
			return nil, fmt.Errorf("failed to delete album record: %w", err)
		}
		delete(t.albums, short)
		for assetShort, row := range t.assets {
			row.Albums = removeString(row.Albums, short)
			t.assets[assetShort] = row
		}
	}

	// Then additions.
	receipt := &photolib.CommitReceipt{}
	for i, imp := range set.AddAssets {
		t.seq++
		short := strings.ToUpper(uuid.NewString())
		row := assetRow{
			Seq:              t.seq,
			ID:               newLongID(short, t.seq),
			OriginalFilename: imp.Filename,
			Kind:             int(imp.Kind),
			Created:          time.Now().UTC(),
		}
		if imp.Kind == photolib.KindPhoto {
			row.PixelWidth, row.PixelHeight = photolib.ImageDimensions(imported[i])
		}
		t.assets[short] = row
		if err := batch.Set(origKey(short), imported[i], pebble.NoSync); err != nil {
			return nil, fmt.Errorf("failed to set media data: %w", err)
		}
		receipt.AssetIDs = append(receipt.AssetIDs, row.ID)
	}
	for _, title := range set.CreateAlbums {
		t.seq++
		short := strings.ToUpper(uuid.NewString())
		row := albumRow{
			Seq:      t.seq,
			ID:       newLongID(short, t.seq),
			Title:    title,
			TopLevel: true,
		}
		t.albums[short] = row
		receipt.AlbumIDs = append(receipt.AlbumIDs, row.ID)
	}

	// Membership edits last.
	for _, edit := range set.Membership {
		applyMembership(t, edit)
	}

	// Write every surviving row and the sequence counter in the batch.
	for short, row := range t.assets {
		value, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to encode asset record: %w", err)
		}
		if err := batch.Set(assetKey(short), value, pebble.NoSync); err != nil {
			return nil, fmt.Errorf("failed to set asset record: %w", err)
		}
	}
	for short, row := range t.albums {
		value, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to encode album record: %w", err)
		}
		if err := batch.Set(albumKey(short), value, pebble.NoSync); err != nil {
			return nil, fmt.Errorf("failed to set album record: %w", err)
		}
	}
	seqValue := make([]byte, 8)
	binary.BigEndian.PutUint64(seqValue, t.seq)
	if err := batch.Set([]byte(seqKey), seqValue, pebble.NoSync); err != nil {
		return nil, fmt.Errorf("failed to set sequence counter: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return receipt, nil
}

func applyMembership(t *tables, edit photolib.MembershipEdit) {
	albumShort := photolib.ShortForm(edit.AlbumID)
	album, ok := t.albums[albumShort]
	if !ok {
		return
	}
	switch edit.Op {
	case photolib.MembershipAdd:
		for _, id := range edit.AssetIDs {
			short := photolib.ShortForm(id)
			asset, ok := t.assets[short]
			if !ok {
				// Removed earlier in the same batch.
				continue
			}
			if !containsShort(album.AssetIDs, short) {
				album.AssetIDs = append(album.AssetIDs, asset.ID)
			}
			if !containsString(asset.Albums, albumShort) {
				asset.Albums = append(asset.Albums, albumShort)
				t.assets[short] = asset
			}
		}
	case photolib.MembershipRemove:
		for _, id := range edit.AssetIDs {
			short := photolib.ShortForm(id)
			album.AssetIDs = removeByShort(album.AssetIDs, short)
			if asset, ok := t.assets[short]; ok {
				asset.Albums = removeString(asset.Albums, albumShort)
				t.assets[short] = asset
			}
		}
	}
	t.albums[albumShort] = album
}

func (s *Store) Original(ctx context.Context, id string) ([]byte, error) {
	short := photolib.ShortForm(id)
	value, closer, err := s.db.Get(origKey(short))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, fmt.Errorf("%s: %w", id, photolib.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get media data: %w", err)
	}
	defer closer.Close()

	// Copy: the value is only valid until closer.Close.
	data := make([]byte, len(value))
	copy(data, value)
	return data, nil
}

func recordFromRow(row assetRow) photolib.Record {
	return photolib.Record{
		ID:               row.ID,
		OriginalFilename: row.OriginalFilename,
		Kind:             photolib.AssetKind(row.Kind),
		Created:          row.Created,
		Favorite:         row.Favorite,
		Hidden:           row.Hidden,
		PixelWidth:       row.PixelWidth,
		PixelHeight:      row.PixelHeight,
		Albums:           append([]string(nil), row.Albums...),
	}
}

func albumFromRow(row albumRow) photolib.AlbumRecord {
	return photolib.AlbumRecord{
		ID:       row.ID,
		Title:    row.Title,
		AssetIDs: append([]string(nil), row.AssetIDs...),
		TopLevel: row.TopLevel,
	}
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
