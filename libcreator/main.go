// libcreator builds a photo library from a directory tree of media files.
// Every file with a recognized media extension is imported; each source
// subdirectory becomes an album containing the files imported from it.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mhbvr/photolib"
	"github.com/mhbvr/photolib/store/filetree"
	"github.com/mhbvr/photolib/store/pebble"
	"github.com/mhbvr/photolib/store/sqlite"
	"golang.org/x/image/draw"
)

func main() {
	var (
		storeType = flag.String("type", "filetree", "Library format: filetree, pebble, or sqlite")
		libPath   = flag.String("library", "", "Path of the library package to create")
		srcDir    = flag.String("src", "", "Source directory containing media files")
		batchSize = flag.Int("batch-size", 100, "Number of files to import in each change batch")
		scale     = flag.Float64("scale", 1.0, "JPEG scaling factor (0.0 to 1.0, where 1.0 = no scaling)")
	)
	flag.Parse()

	if *srcDir == "" {
		log.Fatal("Source directory must be specified with -src flag")
	}

	if *libPath == "" {
		log.Fatal("Library path must be specified with -library flag")
	}

	if *scale <= 0.0 || *scale > 1.0 {
		log.Fatal("Scale factor must be between 0.0 (exclusive) and 1.0 (inclusive)")
	}

	var provider photolib.Provider
	switch *storeType {
	case "filetree":
		provider = filetree.NewProvider()
	case "pebble":
		provider = pebble.NewProvider()
	case "sqlite":
		provider = sqlite.NewProvider()
	default:
		log.Fatalf("Unknown library format: %s (must be 'filetree', 'pebble', or 'sqlite')", *storeType)
	}

	ctx := context.Background()
	session := photolib.NewSession(provider)
	if err := session.EnableMultiLibraryMode(ctx); err != nil {
		log.Fatalf("Failed to enable multi-library mode: %v", err)
	}

	lib, err := session.Create(ctx, *libPath)
	if err != nil {
		log.Fatalf("Failed to create library: %v", err)
	}
	defer lib.Close()

	fmt.Printf("Creating %s library at: %s\n", *storeType, *libPath)
	fmt.Printf("Scanning directory: %s\n", *srcDir)
	if *scale < 1.0 {
		fmt.Printf("Image scaling enabled: %.2f\n", *scale)
	}

	var totalFiles, skippedFiles int
	var filePaths []string

	// Single scan: collect importable paths and count files.
	err = filepath.Walk(*srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		totalFiles++
		if _, ok := photolib.KindForFile(path); !ok {
			skippedFiles++
			fmt.Printf("Skipping %s: not a recognized media file\n", info.Name())
			return nil
		}

		filePaths = append(filePaths, path)
		return nil
	})

	if err != nil {
		log.Fatalf("Failed to scan source directory: %v", err)
	}

	fmt.Printf("Found %d files total, %d will be imported, %d skipped\n", totalFiles, len(filePaths), skippedFiles)
	fmt.Printf("Using batch size: %d\n", *batchSize)

	scratchDir, err := os.MkdirTemp("", "libcreator")
	if err != nil {
		log.Fatalf("Failed to create scratch directory: %v", err)
	}
	defer os.RemoveAll(scratchDir)

	// Album title -> imported asset identifiers, in import order.
	albumAssets := make(map[string][]string)
	var albumTitles []string

	importedFiles := 0
	totalBatches := (len(filePaths) + *batchSize - 1) / *batchSize

	for i := 0; i < len(filePaths); i += *batchSize {
		end := i + *batchSize
		if end > len(filePaths) {
			end = len(filePaths)
		}

		batchPaths := filePaths[i:end]
		batchNum := (i / *batchSize) + 1

		fmt.Printf("Importing batch %d/%d (%d files)\n", batchNum, totalBatches, len(batchPaths))

		change, err := lib.BeginChange()
		if err != nil {
			log.Fatalf("Failed to begin change batch %d: %v", batchNum, err)
		}

		var refs []photolib.PendingAssetRef
		var refAlbums []string
		for j, path := range batchPaths {
			importPath := path
			if *scale < 1.0 && isJPEG(path) {
				importPath, err = scaleToScratch(path, scratchDir, i+j, *scale)
				if err != nil {
					log.Fatalf("Failed to scale %s: %v", path, err)
				}
			}

			ref, err := change.AddAsset(ctx, importPath)
			if err != nil {
				log.Fatalf("Failed to stage %s: %v", path, err)
			}
			refs = append(refs, ref)
			refAlbums = append(refAlbums, albumTitleFor(*srcDir, path))

			fmt.Printf("  Added file: %s\n", filepath.Base(path))
		}

		result, err := change.Commit(ctx)
		if err != nil {
			log.Fatalf("Failed to commit batch %d: %v", batchNum, err)
		}

		for j, ref := range refs {
			id, ok := result.AssetID(ref)
			if !ok {
				log.Fatalf("Batch %d did not report an identifier for %s", batchNum, batchPaths[j])
			}
			title := refAlbums[j]
			if title == "" {
				continue
			}
			if _, seen := albumAssets[title]; !seen {
				albumTitles = append(albumTitles, title)
			}
			albumAssets[title] = append(albumAssets[title], id)
		}

		importedFiles += len(refs)
	}

	// One batch creates the albums, a second files the imported assets
	// into them. SetAlbumMembership needs an album identifier, and a
	// pending album has none until its batch commits.
	if len(albumTitles) > 0 {
		fmt.Printf("Creating %d albums\n", len(albumTitles))

		change, err := lib.BeginChange()
		if err != nil {
			log.Fatalf("Failed to begin album batch: %v", err)
		}
		albumRefs := make(map[string]photolib.PendingAlbumRef)
		for _, title := range albumTitles {
			ref, err := change.CreateAlbum(title)
			if err != nil {
				log.Fatalf("Failed to stage album %s: %v", title, err)
			}
			albumRefs[title] = ref
		}
		result, err := change.Commit(ctx)
		if err != nil {
			log.Fatalf("Failed to commit albums: %v", err)
		}

		change, err = lib.BeginChange()
		if err != nil {
			log.Fatalf("Failed to begin membership batch: %v", err)
		}
		for _, title := range albumTitles {
			albumID, ok := result.AlbumID(albumRefs[title])
			if !ok {
				log.Fatalf("Album batch did not report an identifier for %s", title)
			}
			if err := change.SetAlbumMembership(ctx, albumID, albumAssets[title], photolib.MembershipAdd); err != nil {
				log.Fatalf("Failed to stage membership for %s: %v", title, err)
			}
			fmt.Printf("  Album %s: %d assets\n", title, len(albumAssets[title]))
		}
		if _, err := change.Commit(ctx); err != nil {
			log.Fatalf("Failed to commit memberships: %v", err)
		}
	}

	fmt.Printf("\nLibrary build completed successfully:\n")
	fmt.Printf("  Library format: %s\n", *storeType)
	fmt.Printf("  Library path: %s\n", *libPath)
	fmt.Printf("  Total files found: %d\n", totalFiles)
	fmt.Printf("  Files imported: %d\n", importedFiles)
	fmt.Printf("  Files skipped: %d\n", skippedFiles)
	fmt.Printf("  Albums created: %d\n", len(albumTitles))
}

func isJPEG(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jpg" || ext == ".jpeg"
}

// albumTitleFor maps a source file to the album named after its
// subdirectory. Files at the top of the source tree go in no album.
func albumTitleFor(srcDir, path string) string {
	rel, err := filepath.Rel(srcDir, path)
	if err != nil {
		return ""
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return ""
	}
	return filepath.ToSlash(dir)
}

// scaleToScratch writes a scaled copy of the JPEG at path into the
// scratch directory, preserving the base name so the library records the
// original filename.
func scaleToScratch(path, scratchDir string, n int, scaleFactor float64) (string, error) {
	photoData, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read photo file: %w", err)
	}

	scaledData, err := scaleImage(photoData, scaleFactor)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(scratchDir, fmt.Sprintf("%06d", n))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch subdirectory: %w", err)
	}
	out := filepath.Join(dir, filepath.Base(path))
	if err := os.WriteFile(out, scaledData, 0644); err != nil {
		return "", fmt.Errorf("failed to write scaled file: %w", err)
	}
	return out, nil
}

// scaleImage scales an image by the given factor using bilinear interpolation
func scaleImage(photoData []byte, scaleFactor float64) ([]byte, error) {
	if scaleFactor == 1.0 {
		return photoData, nil
	}

	// Decode the JPEG image
	img, err := jpeg.Decode(bytes.NewReader(photoData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	// Calculate new dimensions
	bounds := img.Bounds()
	newWidth := int(float64(bounds.Dx()) * scaleFactor)
	newHeight := int(float64(bounds.Dy()) * scaleFactor)

	// Create a new image with the scaled dimensions
	scaledImg := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))

	// Use bilinear interpolation for scaling
	draw.BiLinear.Scale(scaledImg, scaledImg.Bounds(), img, bounds, draw.Over, nil)

	// Encode the scaled image back to JPEG with default quality
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaledImg, nil); err != nil {
		return nil, fmt.Errorf("failed to encode scaled image: %w", err)
	}

	return buf.Bytes(), nil
}
