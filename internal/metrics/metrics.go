// Package metrics provides Prometheus metrics for acquisition and
// reconstruction.
//
// All recording methods are safe to call on a nil *Metrics, which records
// nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket layout for reconstruction timings: 1ms to ~2s
const (
	bucketStart  = 0.001
	bucketFactor = 2
	bucketCount  = 12
)

// Metrics contains the Prometheus metrics of the OCT pipeline.
type Metrics struct {
	registry *prometheus.Registry

	// Ring hand-off
	framesProducedTotal prometheus.Counter
	framesConsumedTotal prometheus.Counter
	framesDroppedTotal  prometheus.Counter

	// Reconstruction
	reconstructionDuration *prometheus.HistogramVec
	reconstructionErrors   *prometheus.CounterVec
	alignmentShift         prometheus.Gauge
	sequenceResetsTotal    prometheus.Counter

	// Acquisition
	buffersCompletedTotal prometheus.Counter
	acquisitionFaults     *prometheus.CounterVec
	sinkErrorsTotal       prometheus.Counter
	sinkBytesTotal        prometheus.Counter

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.framesProducedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "octrecon_ring_frames_produced_total",
		Help: "Total number of frames published into the ring buffer",
	})
	m.framesConsumedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "octrecon_ring_frames_consumed_total",
		Help: "Total number of frames taken from the ring buffer",
	})
	m.framesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "octrecon_ring_frames_dropped_total",
		Help: "Total number of frames overwritten or skipped before reconstruction",
	})

	m.reconstructionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "octrecon_reconstruction_duration_seconds",
			Help:    "Time taken to reconstruct one frame",
			Buckets: prometheus.ExponentialBuckets(bucketStart, bucketFactor, bucketCount),
		},
		[]string{"mode"}, // mode: blocking, live
	)
	m.reconstructionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "octrecon_reconstruction_errors_total",
			Help: "Total number of frames that failed to reconstruct",
		},
		[]string{"reason"},
	)
	m.alignmentShift = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "octrecon_alignment_shift_columns",
		Help: "Column shift removed from the last aligned frame",
	})
	m.sequenceResetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "octrecon_sequence_resets_total",
		Help: "Total number of alignment sequence resets",
	})

	m.buffersCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "octrecon_acquisition_buffers_completed_total",
		Help: "Total number of digitizer buffers completed",
	})
	m.acquisitionFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "octrecon_acquisition_faults_total",
			Help: "Total number of acquisition runs stopped by a digitizer condition",
		},
		[]string{"condition"}, // condition: timeout, overflow, not_ready, unknown
	)
	m.sinkErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "octrecon_acquisition_sink_errors_total",
		Help: "Total number of failed raw data writes",
	})
	m.sinkBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "octrecon_acquisition_sink_bytes_total",
		Help: "Total number of raw data bytes written",
	})

	m.collectors = []prometheus.Collector{
		m.framesProducedTotal,
		m.framesConsumedTotal,
		m.framesDroppedTotal,
		m.reconstructionDuration,
		m.reconstructionErrors,
		m.alignmentShift,
		m.sequenceResetsTotal,
		m.buffersCompletedTotal,
		m.acquisitionFaults,
		m.sinkErrorsTotal,
		m.sinkBytesTotal,
	}
}

// Describe implements the Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRingStats adds the growth of the ring counters since the previous
// snapshot.
func (m *Metrics) RecordRingStats(produced, consumed, dropped uint64) {
	if m == nil {
		return
	}
	m.framesProducedTotal.Add(float64(produced))
	m.framesConsumedTotal.Add(float64(consumed))
	m.framesDroppedTotal.Add(float64(dropped))
}

// RecordReconstruction records the duration of one successful reconstruction.
func (m *Metrics) RecordReconstruction(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.reconstructionDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordReconstructionError records a frame that could not be reconstructed.
func (m *Metrics) RecordReconstructionError(reason string) {
	if m == nil {
		return
	}
	m.reconstructionErrors.WithLabelValues(reason).Inc()
}

// SetAlignmentShift records the shift of the last aligned frame.
func (m *Metrics) SetAlignmentShift(shift int) {
	if m == nil {
		return
	}
	m.alignmentShift.Set(float64(shift))
}

// RecordSequenceReset records a reset of the alignment sequence.
func (m *Metrics) RecordSequenceReset() {
	if m == nil {
		return
	}
	m.sequenceResetsTotal.Inc()
}

// RecordBufferCompleted records one completed digitizer buffer.
func (m *Metrics) RecordBufferCompleted() {
	if m == nil {
		return
	}
	m.buffersCompletedTotal.Inc()
}

// RecordAcquisitionFault records the condition that stopped an acquisition.
func (m *Metrics) RecordAcquisitionFault(condition string) {
	if m == nil {
		return
	}
	m.acquisitionFaults.WithLabelValues(condition).Inc()
}

// RecordSinkWrite records the outcome of one raw data write.
func (m *Metrics) RecordSinkWrite(bytes int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sinkErrorsTotal.Inc()
		return
	}
	m.sinkBytesTotal.Add(float64(bytes))
}
