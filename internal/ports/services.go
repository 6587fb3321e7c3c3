package ports

import (
	"context"
	"time"

	"github.com/lucialabs/lucia/internal/domain/models"
)

// LLMMessage represents a message in the LLM conversation context
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMResponse represents a response from the LLM
type LLMResponse struct {
	Content      string `json:"content,omitempty"`
	Model        string `json:"model,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// LLMOptions tunes one chat call. Zero values defer to the client defaults.
type LLMOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// LLMService defines the interface for LLM interactions
type LLMService interface {
	Chat(ctx context.Context, messages []LLMMessage) (*LLMResponse, error)
	ChatWithOptions(ctx context.Context, messages []LLMMessage, opts *LLMOptions) (*LLMResponse, error)
}

// LLMFactory builds per-juror clients. Implementations resolve the provider
// base URL and its credential from the environment name in the spec.
type LLMFactory interface {
	ForJuror(spec *models.JurorSpec) (LLMService, error)
}

// EmbeddingResult represents the result of embedding generation
type EmbeddingResult struct {
	Embedding  []float32 `json:"embedding"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
}

// EmbeddingService defines the interface for generating embeddings
type EmbeddingService interface {
	Embed(ctx context.Context, text string) (*EmbeddingResult, error)
	EmbedBatch(ctx context.Context, texts []string) ([]*EmbeddingResult, error)
	GetDimensions() int
}

// SearchOptions shapes one similarity search against the embedding index
type SearchOptions struct {
	TopK               int
	Threshold          float64
	DiversityThreshold float64
	MaxClusterSize     int
	Keywords           []string
	KeywordBoost       float64
}

// SearchResult is one scored hit from the embedding index
type SearchResult struct {
	Document *models.EmbeddingDocument
	Score    float64
}

// EmbeddingIndex is the in-process vector store over catalog exemplars
type EmbeddingIndex interface {
	Add(doc *models.EmbeddingDocument) error
	AddBatch(docs []*models.EmbeddingDocument) error
	Search(vector []float32, opts SearchOptions) ([]SearchResult, error)
	Remove(id string) bool
	Clear()
	Size() int
	Dimension() int
}

// IntentClassifier resolves an utterance into an intent with evidence
type IntentClassifier interface {
	Classify(ctx context.Context, req *models.ClassificationRequest) (*models.ClassificationResult, error)
}

// Juror is the single capability the voting engine requires from a roster
// member. Implementations wrap one model behind one prompt template.
type Juror interface {
	ID() string
	Weight() float64
	ProposeIntent(ctx context.Context, prompt string) (*models.Vote, error)
}

// JuryRequest carries everything one deliberation needs
type JuryRequest struct {
	Utterance  string
	SessionID  string
	Candidates []string
	RagHint    *models.ClassificationResult
}

// JuryVerdict pairs the published consensus with the votes behind it
type JuryVerdict struct {
	Consensus *models.Consensus
	Votes     []*models.Vote
}

// VotingEngine runs a jury deliberation over an utterance
type VotingEngine interface {
	Deliberate(ctx context.Context, req *JuryRequest) (*JuryVerdict, error)
}

// SlotOutcome is the result of one slot-filling pass
type SlotOutcome struct {
	Complete bool
	Slot     string
	Question string
	Filled   map[string]string
}

// SlotFiller drives required-slot completion for a resolved intent
type SlotFiller interface {
	Fill(ctx context.Context, session *models.Session, intent *models.IntentDefinition, utterance *models.Utterance) (*SlotOutcome, error)
}

// DecomposeInput feeds one decomposition
type DecomposeInput struct {
	Utterance string
	IntentID  string
	Entities  map[string]string
	Slots     map[string]string
}

// Decomposer splits an utterance into dependency-annotated subtasks
type Decomposer interface {
	Decompose(ctx context.Context, input *DecomposeInput) ([]*models.Subtask, error)
}

// ToolDispatcher routes one action invocation to its plugin endpoint
type ToolDispatcher interface {
	Dispatch(ctx context.Context, action string, input map[string]any, ic models.InvocationContext) (*models.ToolResponse, error)
}

// ExecutionResult summarises a finished (or cancelled) plan run
type ExecutionResult struct {
	TrackerID string
	Plan      *models.ExecutionPlan
	Snapshot  models.ProgressSnapshot
	Responses []*models.ToolResponse
}

// Orchestrator plans and executes decomposed subtasks
type Orchestrator interface {
	BuildPlan(subtasks []*models.Subtask) (*models.ExecutionPlan, error)
	Execute(ctx context.Context, plan *models.ExecutionPlan, ic models.InvocationContext) (*ExecutionResult, error)
}

// SessionCriteria filters session searches; zero fields match everything
type SessionCriteria struct {
	UserID      string
	State       models.SessionState
	ActiveSince time.Time
}

// SessionManager owns session lifecycle, locking, and eviction
type SessionManager interface {
	Create(ctx context.Context, userID string) (*models.Session, error)
	GetOrCreate(ctx context.Context, sessionID, userID string) (*models.Session, error)
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Save(ctx context.Context, session *models.Session) error
	End(ctx context.Context, sessionID string) error
	Cancel(ctx context.Context, sessionID string) error
	Pause(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
	Search(ctx context.Context, criteria SessionCriteria) ([]*models.Session, error)
	Active(ctx context.Context) ([]*models.Session, error)
	Restore(ctx context.Context, sessionID string, versionIndex int) error
	Transition(ctx context.Context, sessionID string, to models.SessionState, reason string) error
	WithSession(ctx context.Context, sessionID string, fn func(*models.Session) error) error
}

// IDGenerator mints prefixed identifiers for domain entities
type IDGenerator interface {
	SessionID() string
	TurnID() string
	SubtaskID() string
	TrackerID() string
	VoteID() string
	DocumentID() string
	TraceID() string
}
