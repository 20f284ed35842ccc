package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the load generator
type Metrics struct {
	// Response counter by success/error status
	ResponseCounter *prometheus.CounterVec

	// Request latency histogram
	RequestLatency *prometheus.HistogramVec
}

// NewMetrics creates and registers new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ResponseCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "libloadtest_requests_total",
				Help: "Total number of library operations issued by the load generator",
			},
			[]string{"status"}, // "success" or "error"
		),

		RequestLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "libloadtest_request_duration_seconds",
				Help: "Library operation latency in seconds",
				Buckets: []float64{
					0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
				},
			},
			[]string{"status"}, // "success" or "error"
		),
	}
}

// RecordRequest records a completed operation with its latency and status
func (m *Metrics) RecordRequest(durationSeconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	m.ResponseCounter.WithLabelValues(status).Inc()
	m.RequestLatency.WithLabelValues(status).Observe(durationSeconds)
}

// Counts reads the success and error totals back out of the counters.
func (m *Metrics) Counts() (okCount, errCount int, err error) {
	okMetric, err := m.ResponseCounter.GetMetricWithLabelValues("success")
	if err != nil {
		return 0, 0, err
	}
	errMetric, err := m.ResponseCounter.GetMetricWithLabelValues("error")
	if err != nil {
		return 0, 0, err
	}

	var pb dto.Metric
	if err := okMetric.Write(&pb); err != nil {
		return 0, 0, err
	}
	okCount = int(pb.GetCounter().GetValue())

	pb.Reset()
	if err := errMetric.Write(&pb); err != nil {
		return 0, 0, err
	}
	errCount = int(pb.GetCounter().GetValue())

	return okCount, errCount, nil
}
