// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	LedgerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gasless",
			Name:      "ledger_calls_total",
			Help:      "Ledger voucher calls by operation and result (ok/not_found/rejected/error).",
		},
		[]string{"op", "result"},
	)

	LedgerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gasless",
			Name:      "ledger_call_duration_seconds",
			Help:      "Ledger voucher call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"op"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gasless",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "method", "code"},
	)
)

// MustRegister registers the collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(LedgerCalls, LedgerCallDuration, HTTPRequests)
	})
}

// ObserveLedgerCall records one finished ledger call.
func ObserveLedgerCall(op, result string, elapsed time.Duration) {
	LedgerCalls.WithLabelValues(op, result).Inc()
	LedgerCallDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveHTTP records one served request. route is the matched route
// template, not the raw path, to keep label cardinality bounded.
func ObserveHTTP(route, method string, code int) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}
