package models

import (
	"time"
)

// ClassificationSource tells where a resolved intent came from
type ClassificationSource string

const (
	ClassificationSourceRAG       ClassificationSource = "rag"
	ClassificationSourceMoE       ClassificationSource = "moe"
	ClassificationSourceFallback  ClassificationSource = "fallback"
	ClassificationSourceSingleLLM ClassificationSource = "single_llm"
)

// ClassificationRequest is the in-process, serialisable contract for one
// classification. Optional knobs override catalog defaults for this call only.
type ClassificationRequest struct {
	Text                string            `json:"text"`
	SessionID           string            `json:"session_id,omitempty"`
	UserID              string            `json:"user_id,omitempty"`
	ContextMetadata     map[string]string `json:"context_metadata,omitempty"`
	AudioMetadata       *AudioMetadata    `json:"audio_metadata,omitempty"`
	MaxExamples         int               `json:"max_examples,omitempty"`
	ConfidenceThreshold float64           `json:"confidence_threshold,omitempty"`
	EnableFallback      *bool             `json:"enable_fallback,omitempty"`
	Hints               *SessionHints     `json:"hints,omitempty"`
}

// SessionHints is the session-derived context a classification may use:
// the last resolved intent, cached entities, and accumulated preferences.
type SessionHints struct {
	LastIntent      string            `json:"last_intent,omitempty"`
	CachedEntities  map[string]string `json:"cached_entities,omitempty"`
	IntentFrequency map[string]int    `json:"intent_frequency,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	TurnCount       int               `json:"turn_count,omitempty"`
}

// HasContext reports whether the hints carry anything useful
func (h *SessionHints) HasContext() bool {
	return h != nil && (h.LastIntent != "" || len(h.CachedEntities) > 0 ||
		len(h.IntentFrequency) > 0 || h.Summary != "")
}

// RankedCandidate is one intent hypothesis with its score
type RankedCandidate struct {
	IntentID string  `json:"intent_id"`
	Score    float64 `json:"score"`
}

// RetrievedExample is one catalog example that informed the prompt
type RetrievedExample struct {
	DocumentID string  `json:"document_id"`
	IntentID   string  `json:"intent_id"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// ClassificationResult is the full outcome of one classification, including
// the evidence used to produce it.
type ClassificationResult struct {
	IntentID         string               `json:"intent_id"`
	Confidence       float64              `json:"confidence"`
	Entities         map[string]string    `json:"entities,omitempty"`
	RankedCandidates []RankedCandidate    `json:"ranked_candidates,omitempty"`
	RagExamplesUsed  []RetrievedExample   `json:"rag_examples_used,omitempty"`
	PromptUsed       string               `json:"prompt_used,omitempty"`
	LLMResponse      string               `json:"llm_response,omitempty"`
	ProcessingTimeMs int64                `json:"processing_time_ms"`
	Source           ClassificationSource `json:"source"`
	FallbackUsed     bool                 `json:"fallback_used"`
	FallbackReason   string               `json:"fallback_reason,omitempty"`
	Metrics          map[string]float64   `json:"metrics,omitempty"`
}

// MeetsThreshold reports whether the result clears the given confidence bar
func (r *ClassificationResult) MeetsThreshold(threshold float64) bool {
	return r.Confidence >= threshold
}

// TopCandidate returns the best ranked candidate, or nil when none exist
func (r *ClassificationResult) TopCandidate() *RankedCandidate {
	if len(r.RankedCandidates) == 0 {
		return nil
	}
	return &r.RankedCandidates[0]
}

// MessageResponse is the conversation-level reply for one processed turn
type MessageResponse struct {
	SessionID    string        `json:"session_id"`
	State        SessionState  `json:"state"`
	ResponseText string        `json:"response_text"`
	NextQuestion string        `json:"next_question,omitempty"`
	Consensus    *Consensus    `json:"consensus,omitempty"`
	Execution    *ExecutionRef `json:"execution,omitempty"`
}

// ExecutionRef points at the orchestration work spawned by a turn
type ExecutionRef struct {
	TrackerID  string     `json:"tracker_id"`
	PlanLevels [][]string `json:"plan_levels"`
}

// Elapsed is a helper for filling ProcessingTimeMs fields
func Elapsed(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
