package photolib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExportAsset writes the original media of an asset into destDir and
// returns the path written. The filename defaults to the asset's original
// filename; when that name is taken the export picks the first free
// numbered variant, "img.jpg" becoming "img (1).jpg".
func (l *Library) ExportAsset(ctx context.Context, id, destDir string) (string, error) {
	if err := l.guardRead(); err != nil {
		return "", err
	}
	if err := l.session.gate.requireRead(ctx); err != nil {
		return "", err
	}
	desc, err := l.Fetch(ctx, id)
	if err != nil {
		return "", err
	}
	data, err := l.Original(ctx, desc.ID)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(destDir)
	if err != nil {
		return "", fmt.Errorf("export destination %s: %w", destDir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("export destination %s is not a directory", destDir)
	}

	name := desc.OriginalFilename
	if name == "" {
		name = ShortForm(desc.ID)
	}
	return writeUnique(filepath.Join(destDir, name), data)
}

// writeUnique writes data to path, or to the first "name (N).ext" variant
// that does not exist yet. Creation is exclusive, so two concurrent
// exports of the same asset cannot clobber each other.
func writeUnique(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)

	target := path
	for n := 1; ; n++ {
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			if _, werr := f.Write(data); werr != nil {
				f.Close()
				os.Remove(target)
				return "", fmt.Errorf("failed to write %s: %w", target, werr)
			}
			if cerr := f.Close(); cerr != nil {
				return "", fmt.Errorf("failed to close %s: %w", target, cerr)
			}
			return target, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create %s: %w", target, err)
		}
		target = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
}
