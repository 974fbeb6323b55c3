package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusCommitted = "committed"
	statusReverted  = "reverted"
)

var (
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aasharing_transactions_total",
		Help: "Contract transactions by operation and outcome",
	}, []string{"operation", "status"})

	transactionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aasharing_transaction_duration_seconds",
		Help:    "Contract transaction latency including lock wait",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation"})

	eventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aasharing_events_emitted_total",
		Help: "Committed contract events by contract and name",
	}, []string{"contract", "name"})
)
