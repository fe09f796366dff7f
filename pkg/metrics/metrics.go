package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_intents_settled_total",
		Help: "The total number of intents driven to a terminal outcome",
	}, []string{"kind", "outcome"})

	IntentProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settler_intent_processing_seconds",
		Help:    "Time taken to process intents",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // Start at 100ms with 10 buckets doubling in size
	}, []string{"kind"})

	WalletCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_wallet_calls_total",
		Help: "Wallet gateway calls by operation and result",
	}, []string{"operation", "result"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_notifications_sent_total",
		Help: "Downstream notifications dispatched on confirmed settlements",
	}, []string{"kind"})

	PendingIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settler_pending_intents",
		Help: "The number of intents waiting to be processed",
	})

	RetryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_retry_count_total",
		Help: "The total number of rescheduled intents by kind",
	}, []string{"kind"})

	RetryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settler_retry_queue_size",
		Help: "Current number of jobs in the retry queue",
	})

	MaxRetriesReached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_max_retries_reached_total",
		Help: "Number of intents that reached maximum retry attempts",
	}, []string{"kind"})

	DroppedRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_dropped_retries_total",
		Help: "Retry jobs dropped because the retry queue was full",
	}, []string{"kind"})

	ResolutionTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_resolution_timeouts_total",
		Help: "Operations written off after exceeding the resolution window",
	}, []string{"kind"})
)
