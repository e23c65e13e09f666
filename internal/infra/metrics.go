package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schema-migrator/internal/domain"
)

const metricsNamespace = "schema_migrator"

// Metrics はマイグレーション実行のPrometheusメトリクスを保持する。
type Metrics struct {
	registry *prometheus.Registry

	MigrationsTotal   *prometheus.CounterVec
	MigrationDuration *prometheus.HistogramVec
	RunsTotal         *prometheus.CounterVec
	LastRunTimestamp  *prometheus.GaugeVec
}

// NewMetrics は専用レジストリを持つMetricsを生成する。
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		MigrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "migrations_total",
			Help:      "Total number of executed migrations",
		}, []string{"direction", "outcome"}),
		MigrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "migration_duration_seconds",
			Help:      "Duration of a single migration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Total number of up/down runs",
		}, []string{"direction", "outcome"}),
		LastRunTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last finished run",
		}, []string{"direction", "outcome"}),
	}

	reg.MustRegister(
		m.MigrationsTotal,
		m.MigrationDuration,
		m.RunsTotal,
		m.LastRunTimestamp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveMigration は1件のマイグレーション結果を記録する。
func (m *Metrics) ObserveMigration(direction domain.Direction, outcome string, elapsed time.Duration) {
	m.MigrationsTotal.WithLabelValues(string(direction), outcome).Inc()
	m.MigrationDuration.WithLabelValues(string(direction)).Observe(elapsed.Seconds())
}

// ObserveRun は1回の実行結果を記録する。
func (m *Metrics) ObserveRun(direction domain.Direction, outcome string) {
	m.RunsTotal.WithLabelValues(string(direction), outcome).Inc()
	m.LastRunTimestamp.WithLabelValues(string(direction), outcome).SetToCurrentTime()
}

// Handler は/metrics用のHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry は登録先のレジストリを返す。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
