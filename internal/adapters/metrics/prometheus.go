package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucia_turns_total",
		Help: "Total conversation turns processed",
	}, []string{"state"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lucia_turn_duration_seconds",
		Help:    "End-to-end turn processing duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	ClassificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucia_classifications_total",
		Help: "Total intent classifications",
	}, []string{"intent", "fallback"})

	ClassificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lucia_classification_duration_seconds",
		Help:    "RAG classification duration",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	JuryVotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucia_jury_votes_total",
		Help: "Total juror votes cast",
	}, []string{"juror", "valid"})

	JuryDebateRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lucia_jury_debate_rounds",
		Help:    "Debate rounds per deliberation",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	ConsensusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucia_consensus_total",
		Help: "Deliberation outcomes by agreement level and method",
	}, []string{"agreement", "method"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lucia_sessions_active",
		Help: "Sessions currently in a non-terminal state",
	})

	SessionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lucia_sessions_expired_total",
		Help: "Sessions evicted by the TTL sweeper",
	})

	SlotQuestionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lucia_slot_questions_total",
		Help: "Clarifying questions asked for missing slots",
	})

	ToolDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucia_tool_dispatch_total",
		Help: "Tool action dispatches by outcome",
	}, []string{"action", "status"})

	ToolDispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lucia_tool_dispatch_duration_seconds",
		Help:    "Tool dispatch duration including transport",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"action"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lucia_breaker_state",
		Help: "Circuit breaker state per action (0 closed, 1 open, 2 half-open)",
	}, []string{"action"})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucia_executions_total",
		Help: "Plan executions by final outcome",
	}, []string{"outcome"})

	SubtasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucia_subtasks_total",
		Help: "Subtasks by terminal status",
	}, []string{"status"})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucia_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lucia_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"model"})

	EmbeddingRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lucia_embedding_request_duration_seconds",
		Help:    "Embedding generation duration",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5},
	})

	RegistryReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucia_registry_reloads_total",
		Help: "Registry hot reloads by file and result",
	}, []string{"registry", "result"})
)
