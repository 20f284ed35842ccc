package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/mhbvr/photolib"
	"github.com/mhbvr/photolib/store/filetree"
	"github.com/mhbvr/photolib/store/pebble"
	"github.com/mhbvr/photolib/store/sqlite"
	"github.com/mhbvr/photolib/store/throttle"
)

// throttledProvider caps concurrent store reads on every library it opens.
type throttledProvider struct {
	photolib.Provider
	maxConcurrent int
}

func (p *throttledProvider) OpenLibrary(ctx context.Context, path string) (photolib.Store, error) {
	st, err := p.Provider.OpenLibrary(ctx, path)
	if err != nil {
		return nil, err
	}
	return throttle.New(st, p.maxConcurrent)
}

func (p *throttledProvider) CreateLibrary(ctx context.Context, path string) (photolib.Store, error) {
	st, err := p.Provider.CreateLibrary(ctx, path)
	if err != nil {
		return nil, err
	}
	return throttle.New(st, p.maxConcurrent)
}

func main() {
	var (
		libPath     = flag.String("library", "", "Library path (empty = system library)")
		storeType   = flag.String("type", "filetree", "Library format: filetree, pebble, or sqlite")
		addr        = flag.String("addr", ":8080", "Address to listen on")
		maxInflight = flag.Int("max-inflight", 16, "Maximum concurrent store reads")
	)
	flag.Parse()

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
	provider = &throttledProvider{Provider: provider, maxConcurrent: *maxInflight}

	ctx := context.Background()
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
	defer lib.Close()

	// Setup server with all middleware and routes
	handler, cleanup, err := SetupServer(lib)
	if err != nil {
		log.Fatalf("Failed to setup server: %v", err)
	}
	defer cleanup()

	log.Printf("Starting weblib server on %s", *addr)
	log.Printf("Serving library: %s", lib.Path())
	log.Printf("Endpoints:")
	log.Printf("  GET /assets - List all assets")
	log.Printf("  GET /albums - List albums (?top_level=true for top level only)")
	log.Printf("  GET /album/{id} - Show one album")
	log.Printf("  GET /asset/{id} - Show one asset")
	log.Printf("  GET /original/{id} - Download original media")
	log.Printf("  GET /metrics - Prometheus metrics")
	log.Printf("  GET /tracez - OpenTelemetry trace debugging")

	if err := http.ListenAndServe(*addr, handler); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
