package photolib

import (
	"context"
	"time"
)

// AccessLevel selects the scope of an authorization request.
type AccessLevel int

const (
	// AccessAddOnly permits adding new assets without reading existing ones.
	AccessAddOnly AccessLevel = iota
	// AccessReadWrite permits the full asset and album surface.
	AccessReadWrite
)

func (l AccessLevel) String() string {
	switch l {
	case AccessAddOnly:
		return "add-only"
	case AccessReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// AuthStatus reports the current platform grant.
type AuthStatus struct {
	ReadGranted  bool
	WriteGranted bool
}

// Scope selects the part of a library an operation works on: the whole
// library, or a single album.
type Scope struct {
	// AlbumID is the short-form identifier of an album, or empty for the
	// whole library.
	AlbumID string
}

// LibraryScope selects the whole library.
func LibraryScope() Scope { return Scope{} }

// AlbumScope selects one album by its short-form identifier.
func AlbumScope(albumID string) Scope { return Scope{AlbumID: albumID} }

// Record is the store's native description of one asset.
type Record struct {
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

// AlbumRecord is the store's native description of one album.
type AlbumRecord struct {
	ID       string // long-form identifier
	Title    string
	AssetIDs []string // long-form member identifiers, in store order
	TopLevel bool
}

// Snapshot holds the records enumerated for one scope, in store order.
type Snapshot struct {
	Assets []Record
	Albums []AlbumRecord
}

// FileImport stages one media file for import. The store reads the file
// when the change set is applied.
type FileImport struct {
	Path     string
	Filename string // original filename recorded on the new asset
	Kind     AssetKind
}

// MembershipOp says whether a membership edit adds or removes assets.
type MembershipOp int

const (
	MembershipAdd MembershipOp = iota
	MembershipRemove
)

// MembershipEdit stages an album membership change. All identifiers are
// long form.
type MembershipEdit struct {
	AlbumID  string
	AssetIDs []string
	Op       MembershipOp
}

// ChangeSet is one batch of staged mutations handed to the store. Stores
// apply the fields in declaration order: removals first, then additions,
// then membership edits.
type ChangeSet struct {
	RemoveAssets []string // long-form identifiers
	RemoveAlbums []string // long-form identifiers
	AddAssets    []FileImport
	CreateAlbums []string // titles
	Membership   []MembershipEdit
}

// Empty reports whether the change set stages nothing.
func (s *ChangeSet) Empty() bool {
	return len(s.RemoveAssets) == 0 && len(s.RemoveAlbums) == 0 &&
		len(s.AddAssets) == 0 && len(s.CreateAlbums) == 0 && len(s.Membership) == 0
}

// CommitReceipt reports the outcome of an applied change set. Slice
// positions match the positions of the staged items.
type CommitReceipt struct {
	AssetIDs []string // long-form identifier per AddAssets entry
	AlbumIDs []string // long-form identifier per CreateAlbums entry
}

// Store is the narrow capability surface consumed from one open library.
// Implementations serialize writes: BeginChange acquires the single writer
// slot and CommitChange applies a batch atomically and releases the slot.
// All methods are safe for concurrent use.
type Store interface {
	// Enumerate returns the records for scope in store order.
	Enumerate(ctx context.Context, scope Scope) (*Snapshot, error)

	// LookupByShortID resolves a bare UUID to its asset or album record.
	// Exactly one of the two records is non-nil on success. Returns
	// ErrNotFound when the UUID is absent from the library.
	LookupByShortID(ctx context.Context, shortID string) (*Record, *AlbumRecord, error)

	// BeginChange reserves the store's writer slot, blocking while another
	// change is being applied.
	BeginChange(ctx context.Context) error

	// CommitChange applies set and releases the writer slot taken by
	// BeginChange. It must be called exactly once per successful
	// BeginChange; a nil set abandons the slot without applying anything.
	// A failure applies nothing from the batch.
	CommitChange(ctx context.Context, set *ChangeSet) (*CommitReceipt, error)

	// Original returns the media bytes of an asset by long-form identifier.
	Original(ctx context.Context, id string) ([]byte, error)

	// Close releases the store binding.
	Close() error
}

// Provider opens, creates and authorizes libraries of one storage format.
type Provider interface {
	// OpenLibrary binds to the existing library at path. Returns
	// ErrNotFound when nothing is stored there.
	OpenLibrary(ctx context.Context, path string) (Store, error)

	// CreateLibrary builds a new empty library at path and binds to it.
	// Returns ErrAlreadyExists when path is occupied. There is no public
	// platform equivalent of this capability.
	CreateLibrary(ctx context.Context, path string) (Store, error)

	// SystemLibraryPath reports the location of the default library.
	SystemLibraryPath() (string, error)

	// EnterMultiLibraryMode performs the platform side of the one-way mode
	// switch. An error means the platform rejected the transition.
	EnterMultiLibraryMode(ctx context.Context) error

	// AuthorizationStatus reports the current grant without side effects.
	AuthorizationStatus(ctx context.Context) AuthStatus

	// RequestAuthorization runs the platform consent flow for level and
	// returns the resulting grant. It never retries on its own.
	RequestAuthorization(ctx context.Context, level AccessLevel) (AuthStatus, error)
}
