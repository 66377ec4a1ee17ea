package api

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ufcsu/clubportal/clubs"
)

// Metrics holds the Prometheus collectors of the server. All methods are safe
// on a nil *Metrics.
type Metrics struct {
	syncRuns        *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	occurrences     *prometheus.CounterVec
	calendarExports *prometheus.CounterVec
	requests        *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		syncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clubportal",
			Name:      "sync_runs_total",
			Help:      "Recurring event sync runs by trigger and result.",
		}, []string{"trigger", "result"}),
		syncDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clubportal",
			Name:      "sync_run_duration_seconds",
			Help:      "Duration of recurring event sync runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger"}),
		occurrences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clubportal",
			Name:      "occurrences_total",
			Help:      "Occurrences touched by reconciliation, by action.",
		}, []string{"action"}),
		calendarExports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clubportal",
			Name:      "calendar_exports_total",
			Help:      "ICS documents served, by kind.",
		}, []string{"kind"}),
		requests: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clubportal",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// ObserveSync counts the occurrences of one reconciliation. It matches the
// clubs.ServiceConfig.OnSync signature.
func (m *Metrics) ObserveSync(_ clubs.RecurringEvent, res clubs.SyncResult) {
	if m == nil {
		return
	}
	m.occurrences.WithLabelValues("created").Add(float64(res.Created))
	m.occurrences.WithLabelValues("updated").Add(float64(res.Updated))
	m.occurrences.WithLabelValues("deleted").Add(float64(res.Deleted))
}

func (m *Metrics) observeRun(trigger string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.syncRuns.WithLabelValues(trigger, result).Inc()
	m.syncDuration.WithLabelValues(trigger).Observe(took.Seconds())
}

func (m *Metrics) calendarExported(kind string) {
	if m == nil {
		return
	}
	m.calendarExports.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeRequest(method, route, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, status).Observe(took.Seconds())
}
