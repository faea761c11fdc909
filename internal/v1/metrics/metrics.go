package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the collaboration core.
//
// Naming convention: namespace_subsystem_name
// - namespace: artifactor (application-level grouping)
// - subsystem: websocket, room, kv, cache, presence, notify, inference,
//   agentbridge, circuit_breaker, rate_limit (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, participants)
// - Counter: Cumulative events (messages processed, errors)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "artifactor",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active collaboration rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "artifactor",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks the number of participants per room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "artifactor",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of WebSocket events processed.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "artifactor",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing WebSocket messages.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "artifactor",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// CircuitBreakerState tracks the current state of a named circuit breaker.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "artifactor",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by a circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "artifactor",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "artifactor",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "artifactor",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// KVOperationsTotal tracks the total number of KV store operations.
	KVOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "artifactor",
		Subsystem: "kv",
		Name:      "operations_total",
		Help:      "Total number of KV store operations",
	}, []string{"operation", "status"})

	// KVOperationDuration tracks the duration of KV store operations.
	KVOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "artifactor",
		Subsystem: "kv",
		Name:      "operation_duration_seconds",
		Help:      "Duration of KV store operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// CacheOperationsTotal tracks cache hits/misses/evictions by tier.
	CacheOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "artifactor",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Total cache operations by tier and outcome",
	}, []string{"tier", "outcome"})

	// CacheMemoryUsageBytes tracks resident Tier-1 byte usage.
	CacheMemoryUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "artifactor",
		Subsystem: "cache",
		Name:      "memory_usage_bytes",
		Help:      "Bytes resident in the in-process cache tier",
	})

	// PresenceActiveUsers tracks the number of present users per artifact.
	PresenceActiveUsers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "artifactor",
		Subsystem: "presence",
		Name:      "active_users",
		Help:      "Number of users with active presence per artifact",
	}, []string{"artifact_id"})

	// PresenceSweepExpired tracks presence entries evicted by the periodic sweep.
	PresenceSweepExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "artifactor",
		Subsystem: "presence",
		Name:      "sweep_expired_total",
		Help:      "Total presence entries removed by the periodic sweep",
	}, []string{})

	// NotificationsDelivered tracks notifications delivered per channel.
	NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "artifactor",
		Subsystem: "notify",
		Name:      "delivered_total",
		Help:      "Total notifications delivered",
	}, []string{"channel", "status"})

	// InferenceStageDuration tracks per-stage latency in the ML pipeline.
	InferenceStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "artifactor",
		Subsystem: "inference",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each inference pipeline stage",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	// InferenceQueueDepth tracks pending requests per priority queue.
	InferenceQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "artifactor",
		Subsystem: "inference",
		Name:      "queue_depth",
		Help:      "Number of pending requests per priority queue",
	}, []string{"priority"})

	// InferenceCoalesced tracks requests served by coalescing onto an in-flight computation.
	InferenceCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "artifactor",
		Subsystem: "inference",
		Name:      "coalesced_total",
		Help:      "Total requests served by coalescing onto an in-flight computation",
	})

	// AgentBridgeInvocations tracks agent bridge dispatch outcomes.
	AgentBridgeInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "artifactor",
		Subsystem: "agentbridge",
		Name:      "invocations_total",
		Help:      "Total agent bridge invocations",
	}, []string{"agent", "status"})

	// AgentBridgeDuration tracks per-agent invocation latency.
	AgentBridgeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "artifactor",
		Subsystem: "agentbridge",
		Name:      "invocation_duration_seconds",
		Help:      "Duration of agent bridge invocations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"agent"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
