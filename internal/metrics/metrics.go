package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
)

// Collector holds the service's Prometheus collectors on a private registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry         *prometheus.Registry
	ledgerTransfers  *prometheus.CounterVec
	ledgerConflicts  *prometheus.CounterVec
	holds            *prometheus.CounterVec
	sagasStarted     prometheus.Counter
	sagasFinished    *prometheus.CounterVec
	activityAttempts *prometheus.CounterVec
	activityDuration *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		ledgerTransfers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transfers_total",
			Help: "Ledger transfers by outcome",
		}, []string{"outcome"}),
		ledgerConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_conflict_retries_total",
			Help: "Ledger units of work retried after a transient conflict",
		}, []string{"operation"}),
		holds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_holds_total",
			Help: "Balance holds placed and released",
		}, []string{"action"}),
		sagasStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "saga_runs_started_total",
			Help: "Money transfer sagas started",
		}),
		sagasFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_runs_finished_total",
			Help: "Money transfer sagas by terminal state",
		}, []string{"state"}),
		activityAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "saga_activity_attempts_total",
			Help: "Activity attempts by activity and outcome",
		}, []string{"activity", "outcome"}),
		activityDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "saga_activity_duration_seconds",
			Help:    "Activity attempt duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"activity"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (c *Collector) LedgerTransfer(err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	c.ledgerTransfers.WithLabelValues(outcome).Inc()
}

func (c *Collector) LedgerConflict(operation string) {
	if c == nil {
		return
	}
	c.ledgerConflicts.WithLabelValues(operation).Inc()
}

func (c *Collector) HoldPlaced() {
	if c == nil {
		return
	}
	c.holds.WithLabelValues("placed").Inc()
}

func (c *Collector) HoldReleased() {
	if c == nil {
		return
	}
	c.holds.WithLabelValues("released").Inc()
}

func (c *Collector) SagaStarted() {
	if c == nil {
		return
	}
	c.sagasStarted.Inc()
}

func (c *Collector) SagaFinished(state domain.SagaState) {
	if c == nil {
		return
	}
	c.sagasFinished.WithLabelValues(string(state)).Inc()
}

func (c *Collector) ActivityAttempt(activity domain.ActivityName, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.activityAttempts.WithLabelValues(string(activity), outcome).Inc()
	c.activityDuration.WithLabelValues(string(activity)).Observe(d.Seconds())
}

// HTTPRequest records one served request. route is the router pattern, not
// the raw path, to keep label cardinality bounded.
func (c *Collector) HTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}
