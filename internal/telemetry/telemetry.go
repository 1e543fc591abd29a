// Package telemetry registers the prometheus collectors exposed on
// /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts end-to-end ask requests by outcome
	// (answered, uncertain, error).
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorloop_queries_total",
		Help: "End-to-end ask requests by outcome",
	}, []string{"outcome"})

	// GenerationsTotal counts produced explanations by origin
	// (llm, fallback).
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorloop_generations_total",
		Help: "Explanations produced by origin",
	}, []string{"origin"})

	// RateLimitTripsTotal counts credential slots taken out of
	// rotation by provider rate limits.
	RateLimitTripsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutorloop_credential_rate_limit_trips_total",
		Help: "Credential slots marked rate limited",
	})

	// RetrievalSeconds observes passage retrieval latency.
	RetrievalSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tutorloop_retrieval_seconds",
		Help:    "Passage retrieval latency",
		Buckets: prometheus.DefBuckets,
	})

	// ClassifierDegenerateTotal counts all-meta classifications that
	// forced a regeneration.
	ClassifierDegenerateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutorloop_classifier_degenerate_total",
		Help: "Generations classified as all-meta",
	})
)
