// Package observability wires structured logging, Sentry error capture, and
// Prometheus metrics for the processing core: a console writer in
// development and JSON lines otherwise, Sentry error capture when a DSN is
// configured, and direct prometheus/client_golang registration against a
// per-process registry.
package observability

import (
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls logging and error-reporting setup.
type Config struct {
	Env       string // development | production | testing
	LogLevel  string // trace/debug/info/warn/error
	SentryDSN string
}

// SetupLogging configures the global zerolog logger: a console writer with
// colour in development, JSON lines otherwise.
func SetupLogging(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	}
}

// InitSentry initialises Sentry error capture if a DSN is configured; it is
// a no-op (with a warning) otherwise.
func InitSentry(cfg Config) error {
	if cfg.SentryDSN == "" {
		log.Warn().Msg("Sentry not initialised: SENTRY_DSN not provided")
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Env,
		TracesSampleRate: 0.2,
		EnableTracing:    true,
		Debug:            cfg.Env == "development",
	})
}

// FlushSentry blocks up to the given timeout for queued events to send.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}

// Metrics holds every Prometheus collector the processing core exposes.
// One struct rather than package-level globals keeps registration testable
// (each test gets its own *Metrics against its own registry).
type Metrics struct {
	registry *prometheus.Registry

	QueueDepth        *prometheus.GaugeVec
	WorkerUtilisation prometheus.Gauge
	TasksProcessed    *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	RetryTotal        *prometheus.CounterVec
	CircuitState      *prometheus.GaugeVec
	ProviderHealth    *prometheus.GaugeVec
	DBPoolInUse       prometheus.Gauge
	DBPoolWaitTotal    prometheus.Counter
}

// NewMetrics builds and registers the processing core's collectors against
// a fresh registry, so each test can run against its own isolated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dictation_core",
			Name:      "queue_depth",
			Help:      "Number of tasks currently queued, by priority band.",
		}, []string{"priority"}),
		WorkerUtilisation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dictation_core",
			Name:      "worker_utilisation",
			Help:      "Fraction of worker pool currently busy.",
		}),
		TasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dictation_core",
			Name:      "tasks_processed_total",
			Help:      "Tasks processed, partitioned by terminal status.",
		}, []string{"status"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dictation_core",
			Name:      "task_duration_seconds",
			Help:      "Task end-to-end duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		RetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dictation_core",
			Name:      "retry_total",
			Help:      "Retry attempts, partitioned by component.",
		}, []string{"component"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dictation_core",
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open), by provider.",
		}, []string{"provider"}),
		ProviderHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dictation_core",
			Name:      "provider_health",
			Help:      "1 if an STT provider is currently eligible for selection, else 0.",
		}, []string{"provider"}),
		DBPoolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dictation_core",
			Name:      "db_pool_in_use",
			Help:      "Checked-out connections in the SQLite pool.",
		}),
		DBPoolWaitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dictation_core",
			Name:      "db_pool_wait_total",
			Help:      "Number of times a caller waited for a pool connection.",
		}),
	}

	reg.MustRegister(
		m.QueueDepth, m.WorkerUtilisation, m.TasksProcessed, m.TaskDuration,
		m.RetryTotal, m.CircuitState, m.ProviderHealth, m.DBPoolInUse, m.DBPoolWaitTotal,
	)
	return m
}

// Handler exposes the registry over HTTP for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
