package photolib

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Identifiers come in two forms. The long form is the store's native
// identifier, a UUID followed by store-internal positional tokens, for
// example "99D24A0B-7CD8-44AB-BE2C-3A0A67D04886/L0/001". The short form is
// the bare UUID prefix. Every public operation accepts either form; the
// long form of a short identifier is recovered with a store lookup.

const idSeparator = "/"

// ShortForm truncates an identifier to its bare UUID. Identifiers already
// in short form come back unchanged. ShortForm never fails.
func ShortForm(id string) string {
	if i := strings.Index(id, idSeparator); i >= 0 {
		return id[:i]
	}
	return id
}

// NormalizeID resolves id to its long form against this library. Long-form
// input is validated and returned unchanged; short-form input is resolved
// with a store lookup. Returns ErrNotFound for a malformed UUID prefix or
// a UUID absent from the library.
func (l *Library) NormalizeID(ctx context.Context, id string) (string, error) {
	return l.normalizeID(ctx, id, anyKind)
}

// Identifier kinds accepted by normalizeID.
const (
	anyKind = iota
	assetKind
	albumKind
)

func (l *Library) normalizeID(ctx context.Context, id string, want int) (string, error) {
	short := ShortForm(id)
	if _, err := uuid.Parse(short); err != nil {
		return "", fmt.Errorf("invalid identifier %q: %w", id, ErrNotFound)
	}
	if short != id {
		// Already long form. The UUID prefix is well formed; whether the
		// object still exists is decided by the operation that uses it.
		return id, nil
	}

	if err := l.guardRead(); err != nil {
		return "", err
	}
	l.storeMu.RLock()
	asset, album, err := l.store.LookupByShortID(ctx, short)
	l.storeMu.RUnlock()
	if err != nil {
		return "", l.classify(fmt.Errorf("failed to resolve %s: %w", id, err))
	}
	switch {
	case asset != nil && want != albumKind:
		return asset.ID, nil
	case album != nil && want != assetKind:
		return album.ID, nil
	default:
		return "", fmt.Errorf("identifier %s resolves to the wrong kind: %w", id, ErrNotFound)
	}
}
