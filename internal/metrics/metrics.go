// Package metrics counts pipeline outcomes on a private Prometheus registry
// that can be dumped in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dcmfinder"

// Metrics holds the run counters.
type Metrics struct {
	registry *prometheus.Registry

	FilesScanned   prometheus.Counter
	FilesIndexed   prometheus.Counter
	FilesOrphaned  prometheus.Counter
	DecodeFailures prometheus.Counter
	FilesWritten   prometheus.Counter
	WriteFailures  prometheus.Counter
	Patients       prometheus.Gauge
}

// New creates a Metrics instance on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		registry:       reg,
		FilesScanned:   counter("files_scanned_total", "Files found by the directory scan"),
		FilesIndexed:   counter("files_indexed_total", "Files linked into the patient hierarchy"),
		FilesOrphaned:  counter("files_orphaned_total", "Files stored without a resolved series"),
		DecodeFailures: counter("decode_failures_total", "Files skipped because they could not be decoded"),
		FilesWritten:   counter("files_written_total", "De-identified files written to the output tree"),
		WriteFailures:  counter("write_failures_total", "De-identified files that could not be written"),
		Patients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "patients",
			Help:      "Distinct patients in the exported index",
		}),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("could not write metrics: %w", err)
	}
	return nil
}
