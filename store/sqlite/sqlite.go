package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mhbvr/photolib"
)

const (
	databaseDir  = "database"
	databaseFile = "Photos.sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS assets(
	seq INTEGER PRIMARY KEY,
	short TEXT UNIQUE NOT NULL,
	id TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	kind INTEGER NOT NULL,
	created TIMESTAMP NOT NULL,
	favorite INTEGER NOT NULL DEFAULT 0,
	hidden INTEGER NOT NULL DEFAULT 0,
	pixel_width INTEGER NOT NULL DEFAULT 0,
	pixel_height INTEGER NOT NULL DEFAULT 0,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS albums(
	seq INTEGER PRIMARY KEY,
	short TEXT UNIQUE NOT NULL,
	id TEXT NOT NULL,
	title TEXT NOT NULL,
	top_level INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS album_assets(
	album_short TEXT NOT NULL,
	asset_short TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY(album_short, asset_short)
);`

// Provider opens photo libraries stored in a single SQLite file under the
// library package's database/ directory, records and media blobs together.
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

// NewProvider returns a Provider for SQLite libraries.
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
	dbPath := filepath.Join(path, databaseDir, databaseFile)
	if _, err := os.Stat(dbPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat %s: %w", dbPath, err)
		}
		sysPath, sysErr := p.SystemLibraryPath()
		if sysErr != nil || filepath.Clean(path) != filepath.Clean(sysPath) {
			return nil, fmt.Errorf("no library at %s: %w", path, photolib.ErrNotFound)
		}
		// The default library exists implicitly; opening it creates it.
		if err := os.MkdirAll(filepath.Join(path, databaseDir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return openStore(dbPath)
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
	return openStore(filepath.Join(path, databaseDir, databaseFile))
}

// Store is an open SQLite library.
type Store struct {
	db        *sql.DB
	writeSlot chan struct{}
}

var _ photolib.Store = (*Store)(nil)

func openStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{
		db:        db,
		writeSlot: make(chan struct{}, 1),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func newLongID(short string, seq int64) string {
	return fmt.Sprintf("%s/L0/%03d", short, seq)
}

const assetColumns = "id, original_filename, kind, created, favorite, hidden, pixel_width, pixel_height"

func scanAsset(rows *sql.Rows) (photolib.Record, error) {
	var rec photolib.Record
	var kind int
	var created time.Time
	if err := rows.Scan(&rec.ID, &rec.OriginalFilename, &kind, &created,
		&rec.Favorite, &rec.Hidden, &rec.PixelWidth, &rec.PixelHeight); err != nil {
		return photolib.Record{}, err
	}
	rec.Kind = photolib.AssetKind(kind)
	rec.Created = created
	return rec, nil
}

func (s *Store) Enumerate(ctx context.Context, scope photolib.Scope) (*photolib.Snapshot, error) {
	if scope.AlbumID != "" {
		return s.enumerateAlbum(ctx, scope.AlbumID)
	}

	snap := &photolib.Snapshot{}
	rows, err := s.db.QueryContext(ctx, "SELECT "+assetColumns+" FROM assets ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset row: %w", err)
		}
		rec.Albums, err = s.albumsOf(ctx, photolib.ShortForm(rec.ID))
		if err != nil {
			return nil, err
		}
		snap.Assets = append(snap.Assets, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assets: %w", err)
	}

	albumRows, err := s.db.QueryContext(ctx, "SELECT short, id, title, top_level FROM albums ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query albums: %w", err)
	}
	defer albumRows.Close()
	for albumRows.Next() {
		var short string
		var rec photolib.AlbumRecord
		if err := albumRows.Scan(&short, &rec.ID, &rec.Title, &rec.TopLevel); err != nil {
			return nil, fmt.Errorf("failed to scan album row: %w", err)
		}
		rec.AssetIDs, err = s.membersOf(ctx, short)
		if err != nil {
			return nil, err
		}
		snap.Albums = append(snap.Albums, rec)
	}
	if err := albumRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate albums: %w", err)
	}
	return snap, nil
}

func (s *Store) enumerateAlbum(ctx context.Context, short string) (*photolib.Snapshot, error) {
	var rec photolib.AlbumRecord
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, top_level FROM albums WHERE short = ?", short).
		Scan(&rec.ID, &rec.Title, &rec.TopLevel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("album %s: %w", short, photolib.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query album: %w", err)
	}
	rec.AssetIDs, err = s.membersOf(ctx, short)
	if err != nil {
		return nil, err
	}

	snap := &photolib.Snapshot{Albums: []photolib.AlbumRecord{rec}}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+assetColumns+
			" FROM assets JOIN album_assets ON assets.short = album_assets.asset_short"+
			" WHERE album_assets.album_short = ? ORDER BY album_assets.position", short)
	if err != nil {
		return nil, fmt.Errorf("failed to query album members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		member, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		member.Albums, err = s.albumsOf(ctx, photolib.ShortForm(member.ID))
		if err != nil {
			return nil, err
		}
		snap.Assets = append(snap.Assets, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return snap, nil
}

// albumsOf lists the short identifiers of albums containing an asset.
func (s *Store) albumsOf(ctx context.Context, assetShort string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT album_short FROM album_assets WHERE asset_short = ?", assetShort)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()
	var albums []string
	for rows.Next() {
		var short string
		if err := rows.Scan(&short); err != nil {
			return nil, fmt.Errorf("failed to scan membership row: %w", err)
		}
		albums = append(albums, short)
	}
	return albums, rows.Err()
}

// membersOf lists the long identifiers of an album's assets in position
// order.
func (s *Store) membersOf(ctx context.Context, albumShort string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT assets.id FROM assets JOIN album_assets ON assets.short = album_assets.asset_short"+
			" WHERE album_assets.album_short = ? ORDER BY album_assets.position", albumShort)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) LookupByShortID(ctx context.Context, shortID string) (*photolib.Record, *photolib.AlbumRecord, error) {
	var rec photolib.Record
	var kind int
	err := s.db.QueryRowContext(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE short = ?", shortID).
		Scan(&rec.ID, &rec.OriginalFilename, &kind, &rec.Created,
			&rec.Favorite, &rec.Hidden, &rec.PixelWidth, &rec.PixelHeight)
	if err == nil {
		rec.Kind = photolib.AssetKind(kind)
		rec.Albums, err = s.albumsOf(ctx, shortID)
		if err != nil {
			return nil, nil, err
		}
		return &rec, nil, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("failed to query asset: %w", err)
	}

	var album photolib.AlbumRecord
	err = s.db.QueryRowContext(ctx,
		"SELECT id, title, top_level FROM albums WHERE short = ?", shortID).
		Scan(&album.ID, &album.Title, &album.TopLevel)
	if err == nil {
		album.AssetIDs, err = s.membersOf(ctx, shortID)
		if err != nil {
			return nil, nil, err
		}
		return nil, &album, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("failed to query album: %w", err)
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

	// Read every import before opening the transaction.
	imported := make([][]byte, len(set.AddAssets))
	for i, imp := range set.AddAssets {
		data, err := os.ReadFile(imp.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read import %s: %w", imp.Path, err)
		}
		imported[i] = data
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Validate the whole batch first; any failure rolls back with nothing
	// applied.
	for _, id := range set.RemoveAssets {
		if err := requireRow(ctx, tx, "assets", photolib.ShortForm(id)); err != nil {
			return nil, fmt.Errorf("cannot remove asset %s: %w", id, err)
		}
	}
	for _, id := range set.RemoveAlbums {
		if err := requireRow(ctx, tx, "albums", photolib.ShortForm(id)); err != nil {
			return nil, fmt.Errorf("cannot remove album %s: %w", id, err)
		}
	}
	for _, edit := range set.Membership {
		if err := requireRow(ctx, tx, "albums", photolib.ShortForm(edit.AlbumID)); err != nil {
			return nil, fmt.Errorf("cannot edit album %s: %w", edit.AlbumID, err)
		}
		for _, id := range edit.AssetIDs {
			if err := requireRow(ctx, tx, "assets", photolib.ShortForm(id)); err != nil {
				return nil, fmt.Errorf("cannot file asset %s: %w", id, err)
			}
		}
	}

	// Removals first.
	for _, id := range set.RemoveAssets {
		short := photolib.ShortForm(id)
		if _, err := tx.ExecContext(ctx, "DELETE FROM assets WHERE short = ?", short); err != nil {
			return nil, fmt.Errorf("failed to delete asset: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM album_assets WHERE asset_short = ?", short); err != nil {
			return nil, fmt.Errorf("failed to delete memberships: %w", err)
		}
	}
	for _, id := range set.RemoveAlbums {
		short := photolib.ShortForm(id)
		if _, err := tx.ExecContext(ctx, "DELETE FROM albums WHERE short = ?", short); err != nil {
			return nil, fmt.Errorf("failed to delete album: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM album_assets WHERE album_short = ?", short); err != nil {
			return nil, fmt.Errorf("failed to delete memberships: %w", err)
		}
	}

	// Then additions. Sequence numbers are assigned manually; the writer
	// slot guarantees a single committer.
	var seq int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM (SELECT seq FROM assets UNION ALL SELECT seq FROM albums)").
		Scan(&seq); err != nil {
		return nil, fmt.Errorf("failed to read sequence: %w", err)
	}

	receipt := &photolib.CommitReceipt{}
	for i, imp := range set.AddAssets {
		seq++
		short := strings.ToUpper(uuid.NewString())
		id := newLongID(short, seq)
		width, height := 0, 0
		if imp.Kind == photolib.KindPhoto {
			width, height = photolib.ImageDimensions(imported[i])
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO assets(seq, short, id, original_filename, kind, created, pixel_width, pixel_height, data) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			seq, short, id, imp.Filename, int(imp.Kind), time.Now().UTC(), width, height, imported[i])
		if err != nil {
			return nil, fmt.Errorf("failed to insert asset: %w", err)
		}
		receipt.AssetIDs = append(receipt.AssetIDs, id)
	}
	for _, title := range set.CreateAlbums {
		seq++
		short := strings.ToUpper(uuid.NewString())
		id := newLongID(short, seq)
		_, err := tx.ExecContext(ctx,
			"INSERT INTO albums(seq, short, id, title, top_level) VALUES (?, ?, ?, ?, 1)",
			seq, short, id, title)
		if err != nil {
			return nil, fmt.Errorf("failed to insert album: %w", err)
		}
		receipt.AlbumIDs = append(receipt.AlbumIDs, id)
	}

	// Membership edits last.
	for _, edit := range set.Membership {
		albumShort := photolib.ShortForm(edit.AlbumID)
		switch edit.Op {
		case photolib.MembershipAdd:
			for _, id := range edit.AssetIDs {
				short := photolib.ShortForm(id)
				// Skip assets removed earlier in the same batch.
				if err := requireRow(ctx, tx, "assets", short); err != nil {
					if errors.Is(err, photolib.ErrNotFound) {
						continue
					}
					return nil, err
				}
				_, err := tx.ExecContext(ctx,
					"INSERT OR IGNORE INTO album_assets(album_short, asset_short, position)"+
						" VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM album_assets WHERE album_short = ?))",
					albumShort, short, albumShort)
				if err != nil {
					return nil, fmt.Errorf("failed to insert membership: %w", err)
				}
			}
		case photolib.MembershipRemove:
			for _, id := range edit.AssetIDs {
				_, err := tx.ExecContext(ctx,
					"DELETE FROM album_assets WHERE album_short = ? AND asset_short = ?",
					albumShort, photolib.ShortForm(id))
				if err != nil {
					return nil, fmt.Errorf("failed to delete membership: %w", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return receipt, nil
}

// requireRow checks a short identifier is present in table.
func requireRow(ctx context.Context, tx *sql.Tx, table, short string) error {
	var one int
	err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM "+table+" WHERE short = ?", short).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return photolib.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", table, err)
	}
	return nil
}

func (s *Store) Original(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM assets WHERE short = ?", photolib.ShortForm(id)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", id, photolib.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query media data: %w", err)
	}
	return data, nil
}
