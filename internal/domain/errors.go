package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common domain errors
var (
	// Classification errors
	ErrEmptyUtterance = errors.New("utterance cannot be empty")
	ErrIntentNotFound = errors.New("intent not found in catalog")
	ErrCatalogEmpty   = errors.New("intent catalog is empty")

	// Embedding errors
	ErrEmbeddingsFailed  = errors.New("failed to generate embeddings")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrDocumentNotFound  = errors.New("embedding document not found")

	// Jury errors
	ErrNoJurors          = errors.New("jury roster is empty")
	ErrInsufficientVotes = errors.New("insufficient valid votes for consensus")
	ErrIrreducibleTie    = errors.New("irreducible tie between candidates")

	// Session errors
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionExpired         = errors.New("session has expired")
	ErrSessionCancelled       = errors.New("session is cancelled")
	ErrMaxTurnsReached        = errors.New("session reached maximum turns")
	ErrInvalidStateTransition = errors.New("invalid session state transition")
	ErrSnapshotNotFound       = errors.New("context snapshot not found")

	// Slot errors
	ErrSlotValidationFailed = errors.New("slot value failed validation")
	ErrMaxAttemptsReached   = errors.New("maximum slot-filling attempts reached")

	// Plan errors
	ErrDependencyCycle    = errors.New("dependency cycle in execution plan")
	ErrDanglingDependency = errors.New("subtask depends on unknown subtask")
	ErrUnknownAction      = errors.New("subtask references unknown action")
	ErrEmptyPlan          = errors.New("execution plan has no subtasks")
	ErrDependencyFailed   = errors.New("subtask dependency failed")

	// Tool errors
	ErrToolNotFound        = errors.New("tool action not found")
	ErrToolDisabled        = errors.New("tool action is disabled")
	ErrToolExecutionFailed = errors.New("tool execution failed")
	ErrInvalidToolInput    = errors.New("tool input does not match schema")
	ErrInvalidToolOutput   = errors.New("tool output does not match schema")
	ErrCircuitOpen         = errors.New("circuit breaker is open")

	// Provider errors
	ErrLLMUnavailable      = errors.New("LLM provider unavailable")
	ErrLLMRequestFailed    = errors.New("LLM request failed")
	ErrMissingCredentials  = errors.New("provider credentials not set")
	ErrMalformedLLMPayload = errors.New("LLM returned a malformed payload")

	// Registry errors
	ErrRegistryNotLoaded = errors.New("registry snapshot not loaded")
	ErrDuplicateEntry    = errors.New("duplicate registry entry")

	// Validation errors
	ErrInvalidID    = errors.New("invalid ID format")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")

	// Cancellation
	ErrCancelled = errors.New("operation cancelled")
)

// DomainError wraps a domain error with additional context
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(err error, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
	}
}

func NewDomainErrorWithCode(err error, message, code string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// ConfigurationError reports a malformed or missing registry/config entry.
// Fatal at load time; on hot reload the prior snapshot is retained.
type ConfigurationError struct {
	File  string
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.File != "" && e.Field != "":
		return fmt.Sprintf("configuration error in %s (%s): %v", e.File, e.Field, e.Err)
	case e.File != "":
		return fmt.Sprintf("configuration error in %s: %v", e.File, e.Err)
	default:
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func NewConfigurationError(file, field string, err error) *ConfigurationError {
	return &ConfigurationError{File: file, Field: field, Err: err}
}

// ValidationError reports a schema or shape mismatch on external input:
// classification requests, tool inputs and outputs.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ProviderError describes a failure reported by an external collaborator:
// an LLM endpoint, an embedding endpoint, or a tool plugin. Transient
// failures are eligible for retry; permanent ones surface to the caller.
type ProviderError struct {
	Provider  string
	Operation string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s provider error from %s during %s: %v", kind, e.Provider, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func NewTransientProviderError(provider, operation string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Operation: operation, Transient: true, Err: err}
}

func NewPermanentProviderError(provider, operation string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Operation: operation, Transient: false, Err: err}
}

// TimeoutError reports that an operation exceeded its deadline. Timeouts
// count as transient for retry decisions.
type TimeoutError struct {
	Operation string
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Elapsed)
}

func NewTimeoutError(operation string, elapsed time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Elapsed: elapsed}
}

// ConsensusError reports that the jury could not reach a usable consensus:
// fewer than min_votes valid votes, or an irreducible tie.
type ConsensusError struct {
	Round      int
	ValidVotes int
	MinVotes   int
	Err        error
}

func (e *ConsensusError) Error() string {
	return fmt.Sprintf("consensus failed at round %d (%d/%d valid votes): %v",
		e.Round, e.ValidVotes, e.MinVotes, e.Err)
}

func (e *ConsensusError) Unwrap() error {
	return e.Err
}

// SessionError attaches a session id to a session-level failure.
type SessionError struct {
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func NewSessionError(sessionID string, err error) *SessionError {
	return &SessionError{SessionID: sessionID, Err: err}
}

// DependencyError reports a structural problem in a decomposed plan:
// a cycle, a dangling reference, or an unknown action. Cycle carries the
// offending subtask ids when a cycle was found.
type DependencyError struct {
	SubtaskID string
	Cycle     []string
	Err       error
}

func (e *DependencyError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("dependency error: %v (cycle: %s)", e.Err, strings.Join(e.Cycle, " -> "))
	}
	if e.SubtaskID != "" {
		return fmt.Sprintf("dependency error on subtask %s: %v", e.SubtaskID, e.Err)
	}
	return fmt.Sprintf("dependency error: %v", e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// CancellationError marks work abandoned because the caller cancelled.
// Partial results stay attached to their tracker.
type CancellationError struct {
	Operation string
	Err       error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("%s cancelled: %v", e.Operation, e.Err)
}

func (e *CancellationError) Unwrap() error {
	return e.Err
}

func NewCancellationError(operation string, err error) *CancellationError {
	if err == nil {
		err = ErrCancelled
	}
	return &CancellationError{Operation: operation, Err: err}
}

// IsTransient reports whether err should be retried under a retry policy.
// Transient provider errors, timeouts, and context deadline expiry qualify;
// explicit cancellation never does.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
