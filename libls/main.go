// libls inspects a photo library from the command line: list assets and
// albums, show one asset, or export its original media.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/mhbvr/photolib"
	"github.com/mhbvr/photolib/store/filetree"
	"github.com/mhbvr/photolib/store/pebble"
	"github.com/mhbvr/photolib/store/sqlite"
)

var (
	libPath    = flag.String("library", "", "Library path (empty = system library)")
	storeType  = flag.String("type", "filetree", "Library format: filetree, pebble, or sqlite")
	listAssets = flag.Bool("list-assets", false, "List all assets")
	listAlbums = flag.Bool("list-albums", false, "List all albums")
	topLevel   = flag.Bool("top-level", false, "With -list-albums, only top-level albums")
	albumID    = flag.String("album", "", "List the assets of one album")
	fetchID    = flag.String("fetch", "", "Show one asset by identifier")
	exportID   = flag.String("export", "", "Export the original media of one asset")
	outputDir  = flag.String("output", ".", "Output directory for -export")
)

func main() {
	flag.Parse()

	if *listAssets {
		listAllAssets()
		return
	}

	if *listAlbums {
		listAllAlbums()
		return
	}

	if *albumID != "" {
		listAlbumAssets(*albumID)
		return
	}

	if *fetchID != "" {
		fetchAsset(*fetchID)
		return
	}

	if *exportID != "" {
		exportAsset(*exportID)
		return
	}

	// Show usage if no flags provided
	flag.Usage()
}

func openLibrary(ctx context.Context) *photolib.Library {
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

	session := photolib.NewSession(provider)
	if *libPath != "" {
		if err := session.EnableMultiLibraryMode(ctx); err != nil {
			log.Fatalf("Failed to enable multi-library mode: %v", err)
		}
	}

	lib, err := session.Open(ctx, *libPath)
	if err != nil {
		log.Fatalf("Failed to open library: %v", err)
	}
	return lib
}

func listAllAssets() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lib := openLibrary(ctx)
	defer lib.Close()

	assets, err := lib.Assets(ctx)
	if err != nil {
		log.Fatalf("Assets failed: %v", err)
	}

	fmt.Printf("Assets in %s:\n", lib.Path())
	for _, a := range assets {
		fmt.Printf("%s  %-5s  %4dx%-4d  %s\n", a.ID, a.Kind, a.PixelWidth, a.PixelHeight, a.OriginalFilename)
	}
	fmt.Printf("%d assets\n", len(assets))
}

func listAllAlbums() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lib := openLibrary(ctx)
	defer lib.Close()

	albums, err := lib.Albums(ctx, *topLevel)
	if err != nil {
		log.Fatalf("Albums failed: %v", err)
	}

	fmt.Printf("Albums in %s:\n", lib.Path())
	for _, a := range albums {
		fmt.Printf("%s  %q  (%d assets)\n", a.ID, a.Title, len(a.AssetIDs))
	}
	fmt.Printf("%d albums\n", len(albums))
}

func listAlbumAssets(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lib := openLibrary(ctx)
	defer lib.Close()

	album, err := lib.Album(ctx, id)
	if err != nil {
		log.Fatalf("Album failed: %v", err)
	}

	fmt.Printf("Assets in album %q:\n", album.Title)
	for _, res := range lib.FetchMany(ctx, album.AssetIDs) {
		if res.Err != nil {
			fmt.Printf("%s  unavailable: %v\n", res.ID, res.Err)
			continue
		}
		fmt.Printf("%s  %s\n", res.Asset.ID, res.Asset.OriginalFilename)
	}
}

func fetchAsset(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lib := openLibrary(ctx)
	defer lib.Close()

	a, err := lib.Fetch(ctx, id)
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}

	fmt.Printf("ID:        %s\n", a.ID)
	fmt.Printf("Filename:  %s\n", a.OriginalFilename)
	fmt.Printf("Kind:      %s\n", a.Kind)
	fmt.Printf("Created:   %s\n", a.Created.Format(time.RFC3339))
	fmt.Printf("Size:      %dx%d\n", a.PixelWidth, a.PixelHeight)
	fmt.Printf("Favorite:  %v\n", a.Favorite)
	fmt.Printf("Hidden:    %v\n", a.Hidden)
	fmt.Printf("Albums:    %d\n", len(a.Albums))
}

func exportAsset(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lib := openLibrary(ctx)
	defer lib.Close()

	path, err := lib.ExportAsset(ctx, id, *outputDir)
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}

	fmt.Printf("Exported to %s\n", path)
}
