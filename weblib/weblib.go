package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mhbvr/photolib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/zpages"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type AssetInfo struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	Kind         string    `json:"kind"`
	CreationDate time.Time `json:"creation_date"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	Favorite     bool      `json:"favorite,omitempty"`
	Hidden       bool      `json:"hidden,omitempty"`
}

type AlbumInfo struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	TopLevel bool     `json:"top_level"`
	AssetIDs []string `json:"asset_ids"`
}

type WebLib struct {
	lib    *photolib.Library
	tracer oteltrace.Tracer
}

var (
	// HTTP instrumentation metrics
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weblib_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "handler"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weblib_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "handler", "code"},
	)

	httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "weblib_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)

	// Custom business metrics
	originalsServed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weblib_originals_served_total",
			Help: "Total number of original media files served",
		},
	)

	bytesServed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weblib_bytes_served_total",
			Help: "Total bytes of media served",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestsInFlight)
	prometheus.MustRegister(originalsServed)
	prometheus.MustRegister(bytesServed)
}

func NewWebLib(lib *photolib.Library) *WebLib {
	return &WebLib{
		lib:    lib,
		tracer: otel.Tracer("weblib"),
	}
}

// httpStatus maps library errors to response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, photolib.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, photolib.ErrAccessDenied), errors.Is(err, photolib.ErrAccessRestricted):
		return http.StatusForbidden
	case errors.Is(err, photolib.ErrHandleClosed), errors.Is(err, photolib.ErrUnreachable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func assetInfo(a photolib.AssetDescriptor) AssetInfo {
	return AssetInfo{
		ID:           a.ID,
		Filename:     a.OriginalFilename,
		Kind:         a.Kind.String(),
		CreationDate: a.Created,
		Width:        a.PixelWidth,
		Height:       a.PixelHeight,
		Favorite:     a.Favorite,
		Hidden:       a.Hidden,
	}
}

func albumInfo(a photolib.AlbumDescriptor) AlbumInfo {
	return AlbumInfo{
		ID:       a.ID,
		Title:    a.Title,
		TopLevel: a.TopLevel,
		AssetIDs: a.AssetIDs,
	}
}

// responseWriterWithStatus wraps http.ResponseWriter to capture status code
type responseWriterWithStatus struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriterWithStatus) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriterWithStatus) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.statusCode = 200
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// loggingMiddleware logs each HTTP request with details
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code and bytes
		rw := &responseWriterWithStatus{
			ResponseWriter: w,
			statusCode:     200, // default status code
		}

		// Get client IP (handle potential proxy headers)
		clientIP := r.RemoteAddr
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			clientIP = strings.Split(xff, ",")[0]
		} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
			clientIP = xri
		}

		// Call the next handler
		next.ServeHTTP(rw, r)

		// Log the request
		duration := time.Since(start)
		log.Printf("[%s] %s %s %d %d bytes %v %s \"%s\"",
			start.Format("2006-01-02 15:04:05"),
			r.Method,
			r.URL.Path,
			rw.statusCode,
			rw.bytesWritten,
			duration,
			clientIP,
			r.UserAgent(),
		)
	})
}

func (wl *WebLib) handleAssets(w http.ResponseWriter, r *http.Request) {
	ctx, span := wl.tracer.Start(r.Context(), "list_assets")
	defer span.End()

	assets, err := wl.lib.Assets(ctx)
	if err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to list assets", httpStatus(err))
		return
	}

	infos := make([]AssetInfo, 0, len(assets))
	for _, a := range assets {
		infos = append(infos, assetInfo(a))
	}

	span.SetAttributes(attribute.Int("assets.count", len(infos)))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (wl *WebLib) handleAlbums(w http.ResponseWriter, r *http.Request) {
	ctx, span := wl.tracer.Start(r.Context(), "list_albums")
	defer span.End()

	topLevelOnly := r.URL.Query().Get("top_level") == "true"
	albums, err := wl.lib.Albums(ctx, topLevelOnly)
	if err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to list albums", httpStatus(err))
		return
	}

	infos := make([]AlbumInfo, 0, len(albums))
	for _, a := range albums {
		infos = append(infos, albumInfo(a))
	}

	span.SetAttributes(attribute.Int("albums.count", len(infos)))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (wl *WebLib) handleAlbum(w http.ResponseWriter, r *http.Request) {
	ctx, span := wl.tracer.Start(r.Context(), "fetch_album")
	defer span.End()

	id := strings.TrimPrefix(r.URL.Path, "/album/")
	if id == "" {
		span.SetAttributes(attribute.String("error", "missing identifier"))
		http.Error(w, "Album identifier is required", http.StatusBadRequest)
		return
	}

	span.SetAttributes(attribute.String("album.id", id))

	album, err := wl.lib.Album(ctx, id)
	if err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to fetch album", httpStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(albumInfo(album)); err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (wl *WebLib) handleAsset(w http.ResponseWriter, r *http.Request) {
	ctx, span := wl.tracer.Start(r.Context(), "fetch_asset")
	defer span.End()

	id := strings.TrimPrefix(r.URL.Path, "/asset/")
	if id == "" {
		span.SetAttributes(attribute.String("error", "missing identifier"))
		http.Error(w, "Asset identifier is required", http.StatusBadRequest)
		return
	}

	span.SetAttributes(attribute.String("asset.id", id))

	asset, err := wl.lib.Fetch(ctx, id)
	if err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to fetch asset", httpStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(assetInfo(asset)); err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (wl *WebLib) handleOriginal(w http.ResponseWriter, r *http.Request) {
	ctx, span := wl.tracer.Start(r.Context(), "download_original")
	defer span.End()

	id := strings.TrimPrefix(r.URL.Path, "/original/")
	if id == "" {
		span.SetAttributes(attribute.String("error", "missing identifier"))
		http.Error(w, "Asset identifier is required", http.StatusBadRequest)
		return
	}

	span.SetAttributes(attribute.String("asset.id", id))

	asset, err := wl.lib.Fetch(ctx, id)
	if err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to fetch asset", httpStatus(err))
		return
	}

	data, err := wl.lib.Original(ctx, asset.ID)
	if err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to read media", httpStatus(err))
		return
	}

	span.SetAttributes(
		attribute.Int("bytes.served", len(data)),
		attribute.String("file.name", asset.OriginalFilename),
	)

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", asset.OriginalFilename))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))

	written, err := w.Write(data)
	if err != nil {
		span.RecordError(err)
		return
	}

	originalsServed.Inc()
	bytesServed.Add(float64(written))
}

func initializeTracing() (http.Handler, func(), error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("weblib"),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %v", err)
	}

	zpagesProcessor := zpages.NewSpanProcessor()

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSpanProcessor(zpagesProcessor),
		trace.WithSampler(trace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(ctx)
	}

	return zpages.NewTracezHandler(zpagesProcessor), cleanup, nil
}

// instrument wraps a handler with the duration, counter and in-flight
// metrics under one handler label.
func instrument(name string, h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(
		httpRequestDuration.MustCurryWith(prometheus.Labels{"handler": name}),
		promhttp.InstrumentHandlerCounter(
			httpRequestsTotal.MustCurryWith(prometheus.Labels{"handler": name}),
			promhttp.InstrumentHandlerInFlight(
				httpRequestsInFlight,
				h,
			),
		),
	)
}

// SetupServer creates the HTTP server with all middleware and routes configured
func SetupServer(lib *photolib.Library) (http.Handler, func(), error) {
	// Initialize tracing
	zpagesHandler, cleanup, err := initializeTracing()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracing: %v", err)
	}

	wl := NewWebLib(lib)

	// Create HTTP multiplexer
	mux := http.NewServeMux()

	mux.Handle("GET /assets", instrument("assets", http.HandlerFunc(wl.handleAssets)))
	mux.Handle("GET /albums", instrument("albums", http.HandlerFunc(wl.handleAlbums)))
	mux.Handle("GET /album/{id}", instrument("album", http.HandlerFunc(wl.handleAlbum)))
	mux.Handle("GET /asset/{id}", instrument("asset", http.HandlerFunc(wl.handleAsset)))
	mux.Handle("GET /original/{id}", instrument("original", http.HandlerFunc(wl.handleOriginal)))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /tracez", zpagesHandler)

	// Wrap the entire mux with middleware layers:
	// 1. Logging middleware (outermost)
	// 2. OpenTelemetry tracing middleware
	handler := loggingMiddleware(otelhttp.NewHandler(mux, "request"))

	return handler, cleanup, nil
}
