// libloadtest drives configurable read load against a photo library and
// serves a control panel for adjusting it at runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mhbvr/photolib/libloadtest/loadgen"
	"github.com/mhbvr/photolib/libloadtest/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		webAddr     = flag.String("web_addr", "localhost:8080", "Web interface host:port")
		maxInflight = flag.Int("max-inflight", 10000, "Maximum number of in-flight operations")
		loadName    = flag.String("load", "originals", "Load type: originals or metadata")
		loadOpts    = flag.String("load-options", "", "Comma separated key=value options for the load")
	)
	flag.Parse()

	zpagesHandler, cleanup, err := InitializeTracing()
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer cleanup()

	load, err := loadgen.NewLoad(*loadName)
	if err != nil {
		log.Fatal(err)
	}

	options, err := parseLoadOptions(*loadOpts)
	if err != nil {
		log.Fatalf("Failed to parse load options: %v", err)
	}

	metrics := NewMetrics()
	cfg := &worker.WorkerConfig{
		InFlight: 1,
		Mode:     "asap",
		Timeout:  10 * time.Second,
	}

	lg, err := loadgen.New(context.Background(), *maxInflight, cfg, load, options,
		loadgen.WithRecorder(metrics.RecordRequest),
		loadgen.WithLogger(log.Default()),
	)
	if err != nil {
		log.Fatalf("Failed to create load generator: %v", err)
	}
	defer lg.Close()

	webHandler := NewWebHandler(lg, metrics, *loadName)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", webHandler.handleIndex)
	mux.HandleFunc("POST /update", webHandler.handleUpdate)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /tracez", zpagesHandler)

	log.Printf("Starting load generator web interface on %s", *webAddr)
	log.Fatal(http.ListenAndServe(*webAddr, mux))
}

// parseLoadOptions turns "key=value,key=value" into a map.
func parseLoadOptions(s string) (map[string]string, error) {
	options := make(map[string]string)
	if s == "" {
		return options, nil
	}
	for _, pair := range strings.Split(s, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("malformed option %q, want key=value", pair)
		}
		options[key] = value
	}
	return options, nil
}
