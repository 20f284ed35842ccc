package loadgen

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/mhbvr/photolib"
	"github.com/mhbvr/photolib/store/filetree"
	"github.com/mhbvr/photolib/store/pebble"
	"github.com/mhbvr/photolib/store/sqlite"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("loadgen")
)

// libraryData holds the open handle and identifier pools shared by the
// photo library load implementations.
type libraryData struct {
	lib      *photolib.Library
	assetIDs []string
	albumIDs []string
}

// initLibraryData opens the library and fetches the identifiers the jobs
// will pick from.
func initLibraryData(ctx context.Context, storeType, path string) (*libraryData, error) {
	var provider photolib.Provider
	switch storeType {
	case "filetree":
		provider = filetree.NewProvider()
	case "pebble":
		provider = pebble.NewProvider()
	case "sqlite":
		provider = sqlite.NewProvider()
	default:
		return nil, fmt.Errorf("unknown library format %q (must be 'filetree', 'pebble', or 'sqlite')", storeType)
	}

	session := photolib.NewSession(provider)
	if path != "" {
		if err := session.EnableMultiLibraryMode(ctx); err != nil {
			return nil, fmt.Errorf("failed to enable multi-library mode: %w", err)
		}
	}

	lib, err := session.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open library: %w", err)
	}

	data := &libraryData{lib: lib}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	assets, err := lib.Assets(ctx)
	if err != nil {
		lib.Close()
		return nil, err
	}
	for _, a := range assets {
		data.assetIDs = append(data.assetIDs, a.ID)
	}
	log.Printf("Found %d assets.", len(data.assetIDs))

	// Only keep albums that have members
	albums, err := lib.Albums(ctx, false)
	if err != nil {
		lib.Close()
		return nil, err
	}
	for _, a := range albums {
		if len(a.AssetIDs) > 0 {
			data.albumIDs = append(data.albumIDs, a.ID)
		}
	}
	log.Printf("Found %d non-empty albums.", len(data.albumIDs))

	return data, nil
}

func (d *libraryData) close() error {
	return d.lib.Close()
}

// getRandomAsset returns a random asset identifier.
// Returns an error if the library has no assets.
func (d *libraryData) getRandomAsset() (string, error) {
	if len(d.assetIDs) == 0 {
		return "", fmt.Errorf("no assets available")
	}
	return d.assetIDs[rand.Intn(len(d.assetIDs))], nil
}

// getRandomAlbum returns a random non-empty album identifier.
func (d *libraryData) getRandomAlbum() (string, error) {
	if len(d.albumIDs) == 0 {
		return "", fmt.Errorf("no albums available")
	}
	return d.albumIDs[rand.Intn(len(d.albumIDs))], nil
}

// OriginalsLoad downloads the original media of random assets.
type OriginalsLoad struct {
	*libraryData
	Library string `name:"library" description:"Library path (empty = system library)"`
	Store   string `name:"store" description:"Library format: filetree, pebble, or sqlite"`
}

func (l *OriginalsLoad) Options() map[string]string {
	return GetOptionsDesc(l)
}

// Init opens the library and fetches the available asset identifiers.
func (l *OriginalsLoad) Init(ctx context.Context, options map[string]string) error {
	l.Store = "filetree"
	if err := ParseOptions(options, l); err != nil {
		return err
	}
	data, err := initLibraryData(ctx, l.Store, l.Library)
	if err != nil {
		return err
	}
	l.libraryData = data
	return nil
}

// Job downloads the original media of one random asset.
func (l *OriginalsLoad) Job(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "download_original_job", trace.WithNewRoot())
	defer span.End()

	id, err := l.getRandomAsset()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.AddEvent("downloading original", trace.WithAttributes(
		attribute.String("asset_id", id),
	))

	data, err := l.lib.Original(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.Int("bytes", len(data)))
	span.SetStatus(codes.Ok, "")
	return nil
}

func (l *OriginalsLoad) Close() error {
	return l.libraryData.close()
}

// MetadataLoad fetches the descriptors of random assets, one at a time or
// in batches, plus the occasional album listing.
type MetadataLoad struct {
	*libraryData
	Library string `name:"library" description:"Library path (empty = system library)"`
	Store   string `name:"store" description:"Library format: filetree, pebble, or sqlite"`
	Batch   int    `name:"batch" description:"Identifiers per fetch (1 = single fetch)"`
	Albums  bool   `name:"albums" description:"Also fetch random albums"`
}

func (l *MetadataLoad) Options() map[string]string {
	return GetOptionsDesc(l)
}

// Init opens the library and fetches the available identifiers.
func (l *MetadataLoad) Init(ctx context.Context, options map[string]string) error {
	l.Store = "filetree"
	l.Batch = 1
	if err := ParseOptions(options, l); err != nil {
		return err
	}
	if l.Batch < 1 {
		return fmt.Errorf("batch must be at least 1")
	}
	data, err := initLibraryData(ctx, l.Store, l.Library)
	if err != nil {
		return err
	}
	l.libraryData = data
	return nil
}

// Job fetches the descriptors of random assets, or a random album when
// the albums option is set and the coin flip picks it.
func (l *MetadataLoad) Job(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "fetch_metadata_job", trace.WithNewRoot())
	defer span.End()

	if l.Albums && len(l.albumIDs) > 0 && rand.Intn(2) == 0 {
		id, err := l.getRandomAlbum()
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.AddEvent("fetching album", trace.WithAttributes(
			attribute.String("album_id", id),
		))
		if _, err := l.lib.Album(ctx, id); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}

	if l.Batch == 1 {
		id, err := l.getRandomAsset()
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.AddEvent("fetching asset", trace.WithAttributes(
			attribute.String("asset_id", id),
		))
		if _, err := l.lib.Fetch(ctx, id); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}

	ids := make([]string, 0, l.Batch)
	for i := 0; i < l.Batch; i++ {
		id, err := l.getRandomAsset()
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		ids = append(ids, id)
	}

	span.AddEvent("fetching batch", trace.WithAttributes(
		attribute.Int("batch", len(ids)),
	))

	for _, res := range l.lib.FetchMany(ctx, ids) {
		if res.Err != nil {
			span.SetStatus(codes.Error, res.Err.Error())
			return res.Err
		}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (l *MetadataLoad) Close() error {
	return l.libraryData.close()
}
