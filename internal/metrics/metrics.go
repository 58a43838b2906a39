// Package metrics holds the Prometheus collectors of the chat relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChatTurns counts finished turns by delivery mode (stream, sync) and outcome.
	ChatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_turns_total",
		Help: "Chat turns by delivery mode and outcome",
	}, []string{"mode", "outcome"})

	// GenerationSeconds tracks generator latency per backend.
	GenerationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_generation_seconds",
		Help:    "AI generator call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	}, []string{"backend"})

	// Chunks counts streamed chunk events.
	Chunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_chunks_total",
		Help: "Chunk events emitted by the streaming relay",
	})

	// EventsPublished counts chat.turn.completed publish attempts by result.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_published_total",
		Help: "chat.turn.completed publish attempts by result",
	}, []string{"result"})
)
