// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bodytrack"

// Metrics holds the pipeline counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	FramesProcessed     prometheus.Counter
	FramesDetected      prometheus.Counter
	DatagramsSent       prometheus.Counter
	BytesSent           prometheus.Counter
	SendFailures        prometheus.Counter
	AcquisitionFailures prometheus.Counter
	LastPayloadBytes    prometheus.Gauge
}

// New creates and registers the counters.
func New() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}

	m := &Metrics{
		registry:            prometheus.NewRegistry(),
		FramesProcessed:     counter("frames_processed_total", "Frames run through the pipeline."),
		FramesDetected:      counter("frames_detected_total", "Frames with a complete body."),
		DatagramsSent:       counter("datagrams_sent_total", "Datagrams written to the consumer."),
		BytesSent:           counter("bytes_sent_total", "Payload bytes written to the consumer."),
		SendFailures:        counter("send_failures_total", "Datagrams that could not be sent."),
		AcquisitionFailures: counter("acquisition_failures_total", "Frames the detector failed to deliver."),
		LastPayloadBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_payload_bytes",
			Help:      "Size of the most recent datagram.",
		}),
	}

	m.registry.MustRegister(
		m.FramesProcessed,
		m.FramesDetected,
		m.DatagramsSent,
		m.BytesSent,
		m.SendFailures,
		m.AcquisitionFailures,
		m.LastPayloadBytes,
	)
	return m
}

// AddSent records a delivered datagram.
func (m *Metrics) AddSent(bytes int) {
	m.DatagramsSent.Inc()
	m.BytesSent.Add(float64(bytes))
	m.LastPayloadBytes.Set(float64(bytes))
}

// AddSendFailure records a datagram that could not be delivered.
func (m *Metrics) AddSendFailure() {
	m.SendFailures.Inc()
}

// ObserveFrame records a processed frame.
func (m *Metrics) ObserveFrame(detected bool) {
	m.FramesProcessed.Inc()
	if detected {
		m.FramesDetected.Inc()
	}
}

// AddAcquisitionFailure records a frame the source failed to deliver.
func (m *Metrics) AddAcquisitionFailure() {
	m.AcquisitionFailures.Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
