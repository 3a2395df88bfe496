package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vitebski/sp-batch-runner/internal/connector"
	"github.com/vitebski/sp-batch-runner/pkg/models"
)

// Recorder collects batch run metrics in a private Prometheus registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	procedureDuration *prometheus.HistogramVec
	procedureStatus   *prometheus.CounterVec
	executionStatus   *prometheus.CounterVec
	retries           *prometheus.CounterVec
	artifacts         *prometheus.CounterVec
}

// NewRecorder creates a recorder with Go runtime and process collectors
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		procedureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spbatch_procedure_duration_seconds",
			Help:    "Time spent processing one stored procedure.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		procedureStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spbatch_procedures_total",
			Help: "Stored procedures processed by kind and outcome.",
		}, []string{"kind", "status"}),
		executionStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spbatch_executions_total",
			Help: "Procedure executions by status and error category.",
		}, []string{"status", "category"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spbatch_execution_retries_total",
			Help: "Execution retries by error category.",
		}, []string{"category"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spbatch_artifacts_total",
			Help: "Artifact writes by artifact type and outcome.",
		}, []string{"artifact", "result"}),
	}

	registry.MustRegister(r.procedureDuration)
	registry.MustRegister(r.procedureStatus)
	registry.MustRegister(r.executionStatus)
	registry.MustRegister(r.retries)
	registry.MustRegister(r.artifacts)

	return r
}

// Registry returns the Prometheus registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveProcedure records one processed procedure
func (r *Recorder) ObserveProcedure(kind models.ProcedureKind, success bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	status := "failed"
	if success {
		status = "succeeded"
	}
	r.procedureDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	r.procedureStatus.WithLabelValues(string(kind), status).Inc()
}

// ObserveExecution records the final outcome of an execution
func (r *Recorder) ObserveExecution(status models.ExecutionStatus, category models.ErrorCategory) {
	if r == nil {
		return
	}
	r.executionStatus.WithLabelValues(string(status), string(category)).Inc()
}

// IncRetry records a retried attempt
func (r *Recorder) IncRetry(category models.ErrorCategory) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(string(category)).Inc()
}

// ObserveArtifact records an artifact write
func (r *Recorder) ObserveArtifact(artifact string, saved bool) {
	if r == nil {
		return
	}
	result := "error"
	if saved {
		result = "saved"
	}
	r.artifacts.WithLabelValues(artifact, result).Inc()
}

// RegisterPool exposes live pool statistics as gauges
func (r *Recorder) RegisterPool(stats func() connector.PoolStats) {
	if r == nil {
		return
	}
	gauge := func(name, help string, value func(connector.PoolStats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(value(stats()))
		})
	}
	r.registry.MustRegister(
		gauge("spbatch_pool_connections_created", "Connections currently created by the pool.",
			func(s connector.PoolStats) int { return s.Created }),
		gauge("spbatch_pool_connections_idle", "Connections waiting in the idle queue.",
			func(s connector.PoolStats) int { return s.Idle }),
		gauge("spbatch_pool_connections_in_flight", "Connections checked out by callers.",
			func(s connector.PoolStats) int { return s.InFlight }),
	)
}

// WriteTextfile writes the registry in the node exporter textfile format
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
