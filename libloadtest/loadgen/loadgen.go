// Package loadgen generates load against a photo library. A LoadGen pairs
// one Load implementation with a worker that schedules its jobs under
// runtime-adjustable pacing and concurrency limits.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/mhbvr/photolib/libloadtest/worker"
)

var (
	lgClosed = errors.New("load generator closed")
)

type LoadGen struct {
	worker      *worker.Worker
	maxInFlight int

	ctx    context.Context
	cancel context.CancelCauseFunc

	load     Load
	recorder func(float64, bool)

	startTime time.Time
	logger    *log.Logger
}

type Info struct {
	StartTime   time.Time
	MaxInFlight int
	WorkerCfg   *worker.WorkerConfig
}

type Option func(*LoadGen)

func New(ctx context.Context,
	maxInFlight int,
	cfg *worker.WorkerConfig,
	load Load,
	options map[string]string,
	opts ...Option) (*LoadGen, error) {

	ctx, cancel := context.WithCancelCause(ctx)
	res := &LoadGen{
		ctx:         ctx,
		cancel:      cancel,
		maxInFlight: maxInFlight,
		startTime:   time.Now(),
		load:        load,
		logger:      log.New(io.Discard, "", 0),
	}

	for _, opt := range opts {
		opt(res)
	}

	// Initialize load
	if err := load.Init(ctx, options); err != nil {
		cancel(lgClosed)
		return nil, fmt.Errorf("failed to initialize load: %w", err)
	}

	// Create worker options
	workerOpts := []worker.Option{
		worker.WithMaxInFlight(maxInFlight),
		worker.WithConfig(*cfg),
		worker.WithLogger(res.logger),
	}

	// Add recorder if provided
	if res.recorder != nil {
		workerOpts = append(workerOpts, worker.WithRecorder(res.recorder))
	}

	// Create worker
	var err error
	res.worker, err = worker.NewWorker(ctx, load.Job, workerOpts...)
	if err != nil {
		cancel(lgClosed)
		load.Close()
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}
	return res, nil
}

func WithLogger(logger *log.Logger) func(lg *LoadGen) {
	return func(lg *LoadGen) {
		lg.logger = logger
	}
}

func WithRecorder(recorder func(float64, bool)) func(*LoadGen) {
	return func(lg *LoadGen) {
		lg.recorder = recorder
	}
}

func (lg *LoadGen) SetConfig(cfg *worker.WorkerConfig) error {
	return lg.worker.SetConfig(cfg)
}

func (lg *LoadGen) GetInfo() (*Info, error) {
	var err error
	res := &Info{
		StartTime:   lg.startTime,
		MaxInFlight: lg.maxInFlight,
	}

	res.WorkerCfg, err = lg.worker.GetConfig()
	if err != nil {
		return nil, err
	}

	return res, nil
}

// LoadOptions reports the option names the underlying load supports.
func (lg *LoadGen) LoadOptions() map[string]string {
	return lg.load.Options()
}

func (lg *LoadGen) Close() {
	lg.cancel(lgClosed)
	lg.load.Close()
}
