// Package metrics exposes Prometheus counters for the ingestion pipeline.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/harrison/ingestagent/internal/models"
)

const namespace = "ingestagent"

// Metrics holds the agent's collectors.
type Metrics struct {
	outcomes        *prometheus.CounterVec
	moves           *prometheus.CounterVec
	moveErrors      *prometheus.CounterVec
	storageErrors   *prometheus.CounterVec
	directoryErrors *prometheus.CounterVec
	deferred        prometheus.Counter
	roundDuration   prometheus.Histogram
	lastRound       prometheus.Gauge

	lastRoundUnix atomic.Int64
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Outcome records written, by verdict.",
		}, []string{"verdict"}),
		moves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moves_total",
			Help:      "Files moved into the destination, by mode (rename or copy).",
		}, []string{"mode"}),
		moveErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "move_errors_total",
			Help:      "Failed moves, by kind.",
		}, []string{"kind"}),
		storageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Failed storage calls, by kind.",
		}, []string{"kind"}),
		directoryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_errors_total",
			Help:      "Watched directories that could not be listed, by rule.",
		}, []string{"rule"}),
		deferred: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_files_total",
			Help:      "Files skipped because they were modified within the settle time.",
		}),
		roundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Duration of a full scan round.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		lastRound: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_round_timestamp_seconds",
			Help:      "Unix time the last round finished.",
		}),
	}
}

// Outcome counts one persisted record.
func (m *Metrics) Outcome(verdict models.Verdict) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(verdict)).Inc()
}

// Move counts one successful move.
func (m *Metrics) Move(crossDevice bool) {
	if m == nil {
		return
	}
	mode := "rename"
	if crossDevice {
		mode = "copy"
	}
	m.moves.WithLabelValues(mode).Inc()
}

// MoveError counts one failed move.
func (m *Metrics) MoveError(kind models.MoveErrorKind) {
	if m == nil {
		return
	}
	m.moveErrors.WithLabelValues(kind.String()).Inc()
}

// StorageError counts one failed storage call.
func (m *Metrics) StorageError(kind models.StorageErrorKind) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(kind.String()).Inc()
}

// DirectoryError counts one unreadable directory.
func (m *Metrics) DirectoryError(rule string) {
	if m == nil {
		return
	}
	m.directoryErrors.WithLabelValues(rule).Inc()
}

// Deferred counts one file left for a later round.
func (m *Metrics) Deferred() {
	if m == nil {
		return
	}
	m.deferred.Inc()
}

// Round records a finished round.
func (m *Metrics) Round(duration time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.roundDuration.Observe(duration.Seconds())
	m.lastRound.Set(float64(finished.Unix()))
	m.lastRoundUnix.Store(finished.UnixNano())
}

// LastRound returns when the last round finished, or the zero time.
func (m *Metrics) LastRound() time.Time {
	if m == nil {
		return time.Time{}
	}
	ns := m.lastRoundUnix.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
