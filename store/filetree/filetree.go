package filetree

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mhbvr/photolib"
	"github.com/ncw/directio"
	bolt "go.etcd.io/bbolt"
)

const (
	databaseDir  = "database"
	originalsDir = "originals"
	metaFile     = "meta.db"

	assetBucket = "assets"
	albumBucket = "albums"
)

// Provider opens photo libraries stored as a directory package: a bbolt
// file under database/ for metadata and a sharded file tree under
// originals/ for media data.
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

// NewProvider returns a Provider for filetree libraries.
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

// AuthorizationStatus reports full access: filesystem permissions are the
// only gate for on-disk libraries.
func (p *Provider) AuthorizationStatus(ctx context.Context) photolib.AuthStatus {
	return photolib.AuthStatus{ReadGranted: true, WriteGranted: true}
}

func (p *Provider) RequestAuthorization(ctx context.Context, level photolib.AccessLevel) (photolib.AuthStatus, error) {
	return p.AuthorizationStatus(ctx), nil
}

func (p *Provider) OpenLibrary(ctx context.Context, path string) (photolib.Store, error) {
	metaPath := filepath.Join(path, databaseDir, metaFile)
	if _, err := os.Stat(metaPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat %s: %w", metaPath, err)
		}
		sysPath, sysErr := p.SystemLibraryPath()
		if sysErr != nil || filepath.Clean(path) != filepath.Clean(sysPath) {
			return nil, fmt.Errorf("no library at %s: %w", path, photolib.ErrNotFound)
		}
		// The default library is always available: opening it for the
		// first time creates it.
		if err := os.MkdirAll(filepath.Join(path, databaseDir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(path, originalsDir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create originals directory: %w", err)
		}
	}
	return openStore(path)
}

func (p *Provider) CreateLibrary(ctx context.Context, path string) (photolib.Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("library at %s: %w", path, photolib.ErrAlreadyExists)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Join(path, databaseDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(path, originalsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create originals directory: %w", err)
	}
	return openStore(path)
}

// assetRow is the stored form of one asset record.
type assetRow struct {
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

// albumRow is the stored form of one album record.
type albumRow struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	AssetIDs []string `json:"asset_ids,omitempty"`
	TopLevel bool     `json:"top_level"`
}

// Store is an open filetree library. Records live in bbolt buckets under
// 8-byte big-endian sequence keys, which gives stable store order; media
// bytes live as individual files sharded by hash of the asset's short
// identifier.
type Store struct {
	root      string
	dataPath  string
	db        *bolt.DB
	writeSlot chan struct{}
}

var _ photolib.Store = (*Store)(nil)

func openStore(root string) (*Store, error) {
	metaPath := filepath.Join(root, databaseDir, metaFile)
	db, err := bolt.Open(metaPath, 0644, &bolt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(assetBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(albumBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{
		root:      root,
		dataPath:  filepath.Join(root, originalsDir),
		db:        db,
		writeSlot: make(chan struct{}, 1),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// originalPath shards media files by the hash of the asset's short
// identifier, one two-character directory level.
func (s *Store) originalPath(short string) string {
	hash := sha256.Sum256([]byte(short))
	name := fmt.Sprintf("%x", hash)
	return filepath.Join(s.dataPath, name[:2], name)
}

func newLongID(short string, seq uint64) string {
	return fmt.Sprintf("%s/L0/%03d", short, seq)
}

// tables holds every decoded row of the library, keyed by short form.
// Libraries are rewritten wholesale at commit; local photo libraries are
// small enough that simplicity wins over incremental updates.
type tables struct {
	assets     map[string]assetRow
	albums     map[string]albumRow
	assetKeys  map[string][]byte
	albumKeys  map[string][]byte
	assetOrder []string
	albumOrder []string
}

func loadTables(tx *bolt.Tx) (*tables, error) {
	assetB := tx.Bucket([]byte(assetBucket))
	albumB := tx.Bucket([]byte(albumBucket))
	if assetB == nil || albumB == nil {
		return nil, fmt.Errorf("library buckets not found")
	}

	t := &tables{
		assets:    make(map[string]assetRow),
		albums:    make(map[string]albumRow),
		assetKeys: make(map[string][]byte),
		albumKeys: make(map[string][]byte),
	}

	cursor := assetB.Cursor()
	for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
		var row assetRow
		if err := json.Unmarshal(value, &row); err != nil {
			return nil, fmt.Errorf("failed to decode asset record: %w", err)
		}
		short := photolib.ShortForm(row.ID)
		t.assets[short] = row
		t.assetKeys[short] = append([]byte(nil), key...)
		t.assetOrder = append(t.assetOrder, short)
	}

	cursor = albumB.Cursor()
	for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
		var row albumRow
		if err := json.Unmarshal(value, &row); err != nil {
			return nil, fmt.Errorf("failed to decode album record: %w", err)
		}
		short := photolib.ShortForm(row.ID)
		t.albums[short] = row
		t.albumKeys[short] = append([]byte(nil), key...)
		t.albumOrder = append(t.albumOrder, short)
	}
	return t, nil
}

// save writes every row back to its bucket.
func (t *tables) save(tx *bolt.Tx) error {
	assetB := tx.Bucket([]byte(assetBucket))
	albumB := tx.Bucket([]byte(albumBucket))

	for short, row := range t.assets {
		value, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode asset record: %w", err)
		}
		if err := assetB.Put(t.assetKeys[short], value); err != nil {
			return fmt.Errorf("failed to write asset record: %w", err)
		}
	}
	for short, row := range t.albums {
		value, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to encode album record: %w", err)
		}
		if err := albumB.Put(t.albumKeys[short], value); err != nil {
			return fmt.Errorf("failed to write album record: %w", err)
		}
	}
	return nil
}

func (s *Store) Enumerate(ctx context.Context, scope photolib.Scope) (*photolib.Snapshot, error) {
	snap := &photolib.Snapshot{}
	err := s.db.View(func(tx *bolt.Tx) error {
		t, err := loadTables(tx)
		if err != nil {
			return err
		}

		if scope.AlbumID == "" {
			for _, short := range t.assetOrder {
				snap.Assets = append(snap.Assets, recordFromRow(t.assets[short]))
			}
			for _, short := range t.albumOrder {
				snap.Albums = append(snap.Albums, albumFromRow(t.albums[short]))
			}
			return nil
		}

		album, ok := t.albums[scope.AlbumID]
		if !ok {
			return fmt.Errorf("album %s: %w", scope.AlbumID, photolib.ErrNotFound)
		}
		snap.Albums = append(snap.Albums, albumFromRow(album))
		for _, id := range album.AssetIDs {
			if row, ok := t.assets[photolib.ShortForm(id)]; ok {
				snap.Assets = append(snap.Assets, recordFromRow(row))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) LookupByShortID(ctx context.Context, shortID string) (*photolib.Record, *photolib.AlbumRecord, error) {
	var asset *photolib.Record
	var album *photolib.AlbumRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		t, err := loadTables(tx)
		if err != nil {
			return err
		}
		if row, ok := t.assets[shortID]; ok {
			rec := recordFromRow(row)
			asset = &rec
			return nil
		}
		if row, ok := t.albums[shortID]; ok {
			rec := albumFromRow(row)
			album = &rec
			return nil
		}
		return fmt.Errorf("%s: %w", shortID, photolib.ErrNotFound)
	})
	if err != nil {
		return nil, nil, err
	}
	return asset, album, nil
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

	// Read every import and write its media file before opening the
	// metadata transaction. A media file without a record is invisible; a
	// record without a media file is a corrupt library.
	type pendingImport struct {
		short string
		data  []byte
	}
	pending := make([]pendingImport, len(set.AddAssets))
	var written []string
	cleanup := func() {
		for _, path := range written {
			os.Remove(path)
		}
	}
	for i, imp := range set.AddAssets {
		data, err := os.ReadFile(imp.Path)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to read import %s: %w", imp.Path, err)
		}
		short := strings.ToUpper(uuid.NewString())
		path := s.originalPath(short)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to create originals directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to write media file: %w", err)
		}
		written = append(written, path)
		pending[i] = pendingImport{short: short, data: data}
	}

	receipt := &photolib.CommitReceipt{}
	var removedShorts []string
	err := s.db.Update(func(tx *bolt.Tx) error {
		t, err := loadTables(tx)
		if err != nil {
			return err
		}

		// Validate the whole batch first; returning an error rolls the
		// transaction back with nothing applied.
		for _, id := range set.RemoveAssets {
			if _, ok := t.assets[photolib.ShortForm(id)]; !ok {
				return fmt.Errorf("cannot remove asset %s: %w", id, photolib.ErrNotFound)
			}
		}
		for _, id := range set.RemoveAlbums {
			if _, ok := t.albums[photolib.ShortForm(id)]; !ok {
				return fmt.Errorf("cannot remove album %s: %w", id, photolib.ErrNotFound)
			}
		}
		for _, edit := range set.Membership {
			if _, ok := t.albums[photolib.ShortForm(edit.AlbumID)]; !ok {
				return fmt.Errorf("cannot edit album %s: %w", edit.AlbumID, photolib.ErrNotFound)
			}
			for _, id := range edit.AssetIDs {
				if _, ok := t.assets[photolib.ShortForm(id)]; !ok {
					return fmt.Errorf("cannot file asset %s: %w", id, photolib.ErrNotFound)
				}
			}
		}

		assetB := tx.Bucket([]byte(assetBucket))
		albumB := tx.Bucket([]byte(albumBucket))

		// Removals first.
		for _, id := range set.RemoveAssets {
			short := photolib.ShortForm(id)
			if err := assetB.Delete(t.assetKeys[short]); err != nil {
				return fmt.Errorf("failed to delete asset record: %w", err)
			}
			delete(t.assets, short)
			delete(t.assetKeys, short)
			t.assetOrder = removeString(t.assetOrder, short)
			removedShorts = append(removedShorts, short)
			for albumShort, row := range t.albums {
				row.AssetIDs = removeByShort(row.AssetIDs, short)
				t.albums[albumShort] = row
			}
		}
		for _, id := range set.RemoveAlbums {
			short := photolib.ShortForm(id)
			if err := albumB.Delete(t.albumKeys[short]); err != nil {
				return fmt.Errorf("failed to delete album record: %w", err)
			}
			delete(t.albums, short)
			delete(t.albumKeys, short)
			t.albumOrder = removeString(t.albumOrder, short)
			for assetShort, row := range t.assets {
				row.Albums = removeString(row.Albums, short)
				t.assets[assetShort] = row
			}
		}

		// Then additions.
		for i, imp := range set.AddAssets {
			seq, err := assetB.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to allocate asset sequence: %w", err)
			}
			row := assetRow{
				ID:               newLongID(pending[i].short, seq),
				OriginalFilename: imp.Filename,
				Kind:             int(imp.Kind),
				Created:          time.Now().UTC(),
			}
			if imp.Kind == photolib.KindPhoto {
				row.PixelWidth, row.PixelHeight = photolib.ImageDimensions(pending[i].data)
			}
			t.assets[pending[i].short] = row
			t.assetKeys[pending[i].short] = sequenceKey(seq)
			t.assetOrder = append(t.assetOrder, pending[i].short)
			receipt.AssetIDs = append(receipt.AssetIDs, row.ID)
		}
		for _, title := range set.CreateAlbums {
			seq, err := albumB.NextSequence()
			if err != nil {
				return fmt.Errorf("failed to allocate album sequence: %w", err)
			}
			short := strings.ToUpper(uuid.NewString())
			row := albumRow{
				ID:       newLongID(short, seq),
				Title:    title,
				TopLevel: true,
			}
			t.albums[short] = row
			t.albumKeys[short] = sequenceKey(seq)
			t.albumOrder = append(t.albumOrder, short)
			receipt.AlbumIDs = append(receipt.AlbumIDs, row.ID)
		}

		// Membership edits last.
		for _, edit := range set.Membership {
			applyMembership(t, edit)
		}

		return t.save(tx)
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	// Media files of removed assets go after the metadata commit; a
	// leftover file is invisible without its record.
	for _, short := range removedShorts {
		os.Remove(s.originalPath(short))
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
	err := s.db.View(func(tx *bolt.Tx) error {
		t, err := loadTables(tx)
		if err != nil {
			return err
		}
		if _, ok := t.assets[short]; !ok {
			return fmt.Errorf("%s: %w", id, photolib.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return readAligned(s.originalPath(short))
}

// readAligned reads a media file with O_DIRECT, bypassing the page cache.
func readAligned(path string) ([]byte, error) {
	file, err := directio.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open media file %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat media file %s: %w", path, err)
	}

	block := directio.AlignedBlock(directio.BlockSize)
	data := make([]byte, 0, info.Size())
	for {
		n, err := io.ReadFull(file, block)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read media file %s: %w", path, err)
		}
		if n > 0 {
			data = append(data, block[:n]...)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
	}
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
