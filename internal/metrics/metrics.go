// Package metrics collects and exposes prometheus counters for the auth flow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
)

// Recorder is the interface handlers record outcomes through
type Recorder interface {
	RecordRegistration()
	RecordLogin(ok bool)
	RecordRefresh(ok bool)
	RecordRevocations(count int64)
}

// Collector registers and owns the prometheus metrics
type Collector struct {
	registrations prometheus.Counter
	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	revocations   prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credd_registrations_total",
			Help: "Completed user registrations",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credd_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credd_refreshes_total",
			Help: "Token refresh attempts by result",
		}, []string{"result"}),
		revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credd_sessions_revoked_total",
			Help: "Sessions revoked by logout, logout-everywhere and password change",
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.logins,
		c.refreshes,
		c.revocations,
	)

	return c
}

func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

func (c *Collector) RecordLogin(ok bool) {
	c.logins.WithLabelValues(result(ok)).Inc()
}

func (c *Collector) RecordRefresh(ok bool) {
	c.refreshes.WithLabelValues(result(ok)).Inc()
}

func (c *Collector) RecordRevocations(count int64) {
	c.revocations.Add(float64(count))
}

// Handler returns the scrape endpoint for the gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func result(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultRejected
}
