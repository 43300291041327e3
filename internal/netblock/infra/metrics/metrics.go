package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haukened/adobe-netblock/internal/netblock/domain"
)

const namespace = "netblock"

// resultOK labels successful operations; failures use the ErrorKind name.
const resultOK = "ok"

// Recorder owns a private registry so tests and the textfile export only
// see this process's collectors.
type Recorder struct {
	reg           *prometheus.Registry
	operations    *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	entries       prometheus.Gauge
	blocked       prometheus.Gauge
	lastSuccess   *prometheus.GaugeVec
}

// Options configures a Recorder.
type Options struct {
	// Runtime adds Go runtime and process collectors, useful for a long-running server.
	Runtime bool
}

// New builds a Recorder with every collector registered.
func New(opts Options) *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Update and remove runs by operation and result",
			},
			[]string{"op", "result"},
		),
		fetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_attempts_total",
				Help:      "Block list fetch attempts by source and result",
			},
			[]string{"source", "result"},
		),
		fetchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Block list fetch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "managed_entries",
			Help:      "Entries in the managed hosts block",
		}),
		blocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocking_active",
			Help:      "1 when the managed hosts block holds at least one entry",
		}),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run by operation",
			},
			[]string{"op"},
		),
	}
	r.reg.MustRegister(r.operations, r.fetchAttempts, r.fetchLatency, r.entries, r.blocked, r.lastSuccess)
	if opts.Runtime {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveFetch records one fetch attempt.
func (r *Recorder) ObserveFetch(source domain.SourceID, elapsed time.Duration, err error) {
	r.fetchAttempts.WithLabelValues(source.String(), result(err)).Inc()
	r.fetchLatency.WithLabelValues(source.String()).Observe(elapsed.Seconds())
}

// ObserveUpdate records the outcome of an update or remove run.
func (r *Recorder) ObserveUpdate(op string, res domain.UpdateResult, at time.Time) {
	label := resultOK
	if !res.Success {
		label = res.ErrorKind.String()
	}
	r.operations.WithLabelValues(op, label).Inc()
	if res.Success && !res.DryRun {
		r.lastSuccess.WithLabelValues(op).Set(float64(at.Unix()))
	}
}

// ObserveStatus mirrors the current hosts file state into gauges.
func (r *Recorder) ObserveStatus(st domain.BlockStatus) {
	r.entries.Set(float64(st.EntryCount))
	if st.IsBlocked {
		r.blocked.Set(1)
	} else {
		r.blocked.Set(0)
	}
}

// WriteTextfile dumps the registry for node_exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

func result(err error) string {
	if err == nil {
		return resultOK
	}
	if k := domain.KindOf(err); k != domain.ErrNone {
		return k.String()
	}
	return "error"
}
