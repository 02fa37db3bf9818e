package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Interaction metrics
	InteractionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_interactions_started_total",
			Help: "Total number of interactions started",
		},
		[]string{"channel"},
	)

	InteractionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_interactions_ended_total",
			Help: "Total number of interactions ended",
		},
		[]string{"resolution"},
	)

	ActiveInteractions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callcenter_active_interactions",
			Help: "Number of interactions currently held in memory",
		},
	)

	InteractionTurns = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "callcenter_interaction_turns",
			Help:    "Number of customer turns per ended interaction",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	// Turn metrics
	TurnsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_turns_processed_total",
			Help: "Total number of customer turns processed",
		},
		[]string{"final_phase", "final_action"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callcenter_turn_duration_seconds",
			Help:    "End-to-end turn processing duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"final_phase"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callcenter_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	TurnLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "callcenter_turn_lock_wait_seconds",
			Help:    "Time spent waiting for the per-interaction turn lock",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 5},
		},
	)

	// Agent metrics
	AgentDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_agent_decisions_total",
			Help: "Decisions produced per agent",
		},
		[]string{"agent_type", "decision_type", "analysis_method"},
	)

	AgentConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callcenter_agent_confidence",
			Help:    "Confidence scores reported per agent",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"agent_type"},
	)

	DetectedIntents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_detected_intents_total",
			Help: "Intents detected by the primary agent",
		},
		[]string{"intent"},
	)

	DetectedEmotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_detected_emotions_total",
			Help: "Emotions detected by the primary agent",
		},
		[]string{"emotion"},
	)

	SupervisorVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_supervisor_verdicts_total",
			Help: "Supervisor verdicts by risk level",
		},
		[]string{"approved", "risk_level", "compliance"},
	)

	SupervisorFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_supervisor_flags_total",
			Help: "Review flags raised by the supervisor",
		},
		[]string{"flag"},
	)

	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_escalations_total",
			Help: "Escalations by type and reason",
		},
		[]string{"escalation_type", "reason", "priority"},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_llm_requests_total",
			Help: "LLM completion requests by final status",
		},
		[]string{"provider", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callcenter_llm_latency_seconds",
			Help:    "LLM completion latency including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"provider"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_llm_tokens_total",
			Help: "Tokens reported by the LLM gateway",
		},
		[]string{"provider"},
	)

	AnalysisFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_analysis_fallbacks_total",
			Help: "Times an agent used its deterministic path because LLM analysis failed",
		},
		[]string{"agent_type", "cause"},
	)

	// Knowledge metrics
	KnowledgeCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callcenter_knowledge_cache_hits_total",
			Help: "Knowledge lookups served from cache",
		},
	)

	KnowledgeCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callcenter_knowledge_cache_misses_total",
			Help: "Knowledge lookups not found in cache",
		},
	)

	// Persistence metrics
	PersistenceWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_persistence_writes_total",
			Help: "Persistence writes by kind and result",
		},
		[]string{"kind", "result"},
	)

	WriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callcenter_write_queue_depth",
			Help: "Pending writes in the async persistence queue",
		},
	)

	// Streaming metrics
	StreamEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callcenter_stream_events_total",
			Help: "Interaction events published",
		},
		[]string{"type"},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callcenter_stream_events_dropped_total",
			Help: "Events dropped because a subscriber was slow",
		},
	)
)

// RecordAgentDecision records one agent decision.
func RecordAgentDecision(agentType, decisionType, method string, confidence float64) {
	AgentDecisions.WithLabelValues(agentType, decisionType, method).Inc()
	AgentConfidence.WithLabelValues(agentType).Observe(confidence)
}

// RecordLLMRequest records the outcome of one completion call.
func RecordLLMRequest(provider, status string, durationSeconds float64, tokens int) {
	LLMRequests.WithLabelValues(provider, status).Inc()
	LLMLatency.WithLabelValues(provider).Observe(durationSeconds)
	if tokens > 0 {
		LLMTokens.WithLabelValues(provider).Add(float64(tokens))
	}
}

// RecordTurn records one finished customer turn.
func RecordTurn(finalPhase, finalAction string, durationSeconds float64) {
	TurnsProcessed.WithLabelValues(finalPhase, finalAction).Inc()
	TurnDuration.WithLabelValues(finalPhase).Observe(durationSeconds)
}
