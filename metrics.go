package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the pipeline and
// decoders, registered via promauto per the teacher's
// NewPrometheusMetrics pattern (§10 ambient stack).
type Metrics struct {
	chunksRead      prometheus.Counter
	chunksDropped   prometheus.Counter
	chunksProcessed prometheus.Counter
	dspErrors       prometheus.Counter

	pocsagDecoded     prometheus.Counter
	pocsagDuplicates  prometheus.Counter
	pocsagBatchesSeen prometheus.Counter

	scannerTransitions *prometheus.CounterVec
	tunerReconnects    prometheus.Counter
	tunerConnected     prometheus.Gauge

	signalLevelDB prometheus.Gauge
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	return &Metrics{
		chunksRead: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evilsdr_chunks_read_total",
			Help: "Total raw IQ chunks read from the tuner.",
		}),
		chunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evilsdr_chunks_dropped_total",
			Help: "Total raw IQ chunks dropped by the bounded queue.",
		}),
		chunksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evilsdr_chunks_processed_total",
			Help: "Total raw IQ chunks run through the DSP pipeline.",
		}),
		dspErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evilsdr_dsp_errors_total",
			Help: "Total chunks dropped due to non-finite DSP output.",
		}),
		pocsagDecoded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evilsdr_pocsag_messages_total",
			Help: "Total POCSAG messages decoded.",
		}),
		pocsagDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evilsdr_pocsag_duplicates_total",
			Help: "Total POCSAG messages suppressed as duplicates.",
		}),
		pocsagBatchesSeen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evilsdr_pocsag_batches_total",
			Help: "Total POCSAG batches parsed (sync word matched).",
		}),
		scannerTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "evilsdr_scanner_transitions_total",
			Help: "Total scanner state transitions, by target state.",
		}, []string{"state"}),
		tunerReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "evilsdr_tuner_reconnects_total",
			Help: "Total tuner reconnect attempts.",
		}),
		tunerConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "evilsdr_tuner_connected",
			Help: "1 if the tuner connection is currently up, else 0.",
		}),
		signalLevelDB: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "evilsdr_signal_level_dbfs",
			Help: "Most recently measured signal level, in dBFS.",
		}),
	}
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFrame updates chunk/signal-level metrics from one pipeline frame.
func (m *Metrics) ObserveFrame(frame PipelineFrame) {
	m.chunksProcessed.Inc()
	if frame.SignalUpdate {
		m.signalLevelDB.Set(float64(frame.SignalDB))
	}
	for range frame.Pocsag {
		m.pocsagDecoded.Inc()
	}
}

// ObserveConnection updates the tuner connection gauge; every
// disconnected observation (a failed connect attempt, after which the
// supervisor retries) also increments the reconnect counter.
func (m *Metrics) ObserveConnection(connected bool) {
	if connected {
		m.tunerConnected.Set(1)
	} else {
		m.tunerConnected.Set(0)
		m.tunerReconnects.Inc()
	}
}

// ObserveScanTransition increments the scanner transition counter for state.
func (m *Metrics) ObserveScanTransition(state ScanState) {
	m.scannerTransitions.WithLabelValues(string(state)).Inc()
}

// ObserveQueueDrop increments the dropped-chunk counter.
func (m *Metrics) ObserveQueueDrop() {
	m.chunksDropped.Inc()
}
