package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry    *prometheus.Registry
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	activeJobs  prometheus.Gauge
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restoreflow_worker_jobs_total",
			Help: "Total restoration jobs processed by final handler outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "restoreflow_worker_job_duration_seconds",
			Help:    "Total processing duration for each restoration job.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"outcome"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "restoreflow_worker_active_jobs",
			Help: "Current number of restoration jobs being driven by this worker.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
