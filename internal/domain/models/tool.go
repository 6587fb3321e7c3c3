package models

import (
	"fmt"
	"strings"
	"time"
)

// ToolTransport selects how a tool endpoint is reached
type ToolTransport string

const (
	ToolTransportHTTP  ToolTransport = "http"
	ToolTransportStdio ToolTransport = "stdio"
)

// ResponseType classifies a unified tool response payload
type ResponseType string

const (
	ResponseTypeText       ResponseType = "text"
	ResponseTypeImage      ResponseType = "image"
	ResponseTypeAudio      ResponseType = "audio"
	ResponseTypeToolResult ResponseType = "tool_result"
)

// ToolRetryPolicy governs re-dispatch of a failed action. Backoff names a
// strategy ("exponential" or "constant"); bounds are per attempt.
type ToolRetryPolicy struct {
	Max     int    `json:"max"`
	Backoff string `json:"backoff,omitempty"`
	MinMs   int    `json:"min_ms,omitempty"`
	MaxMs   int    `json:"max_ms,omitempty"`
}

// ToolAuth references a credential by environment-variable name. Secrets are
// never stored inline.
type ToolAuth struct {
	Type   string `json:"type,omitempty"`
	EnvVar string `json:"env_var,omitempty"`
}

// ToolAction is one invocable action of a plugin, addressed as plugin.action
type ToolAction struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Transport    ToolTransport   `json:"transport"`
	Endpoint     string          `json:"endpoint"`
	Method       string          `json:"method,omitempty"`
	InputSchema  map[string]any  `json:"input_schema,omitempty"`
	OutputSchema map[string]any  `json:"output_schema,omitempty"`
	TimeoutMs    int             `json:"timeout_ms,omitempty"`
	Retry        ToolRetryPolicy `json:"retry"`
	Auth         *ToolAuth       `json:"auth,omitempty"`
	Idempotent   bool            `json:"idempotent"`
	Compensate   string          `json:"compensate,omitempty"`
	Enabled      bool            `json:"enabled"`
}

// Plugin returns the plugin half of the qualified name
func (a *ToolAction) Plugin() string {
	plugin, _, _ := strings.Cut(a.Name, ".")
	return plugin
}

// Action returns the action half of the qualified name
func (a *ToolAction) Action() string {
	_, action, _ := strings.Cut(a.Name, ".")
	return action
}

// Timeout returns the per-call deadline, or fallback when unset
func (a *ToolAction) Timeout(fallback time.Duration) time.Duration {
	if a.TimeoutMs <= 0 {
		return fallback
	}
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// Validate checks the intrinsic invariants of the action definition
func (a *ToolAction) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("tool action name is required")
	}
	plugin, action, ok := strings.Cut(a.Name, ".")
	if !ok || plugin == "" || action == "" {
		return fmt.Errorf("tool action %q: name must have the form plugin.action", a.Name)
	}
	switch a.Transport {
	case ToolTransportHTTP, ToolTransportStdio:
	default:
		return fmt.Errorf("tool action %s: unsupported transport %q", a.Name, a.Transport)
	}
	if a.Endpoint == "" {
		return fmt.Errorf("tool action %s: endpoint is required", a.Name)
	}
	if a.Retry.Max < 0 {
		return fmt.Errorf("tool action %s: retry.max cannot be negative", a.Name)
	}
	if a.Retry.MinMs > a.Retry.MaxMs && a.Retry.MaxMs > 0 {
		return fmt.Errorf("tool action %s: retry.min_ms exceeds retry.max_ms", a.Name)
	}
	return nil
}

// ToolResponse is the unified response envelope every tool result is
// normalised into before it reaches the rest of the engine.
type ToolResponse struct {
	Type     ResponseType   `json:"type"`
	Content  string         `json:"content"`
	MimeType string         `json:"mime_type,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Stream   bool           `json:"stream"`
}

func NewTextResponse(content string) *ToolResponse {
	return &ToolResponse{
		Type:    ResponseTypeText,
		Content: content,
	}
}

// WithMeta attaches a metadata entry and returns the response for chaining
func (r *ToolResponse) WithMeta(key string, value any) *ToolResponse {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// ToolInvocation is the wire request half of the router envelope
type ToolInvocation struct {
	Action   string             `json:"action"`
	Input    map[string]any     `json:"input"`
	Context  InvocationContext  `json:"context"`
	Response ResponseDirectives `json:"response"`
}

// InvocationContext identifies the conversational origin of a tool call
type InvocationContext struct {
	SessionID string `json:"session_id,omitempty"`
	Locale    string `json:"locale,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// ResponseDirectives tells the tool how to shape its reply
type ResponseDirectives struct {
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

// NewToolInvocation builds an envelope with the default response directives
func NewToolInvocation(action string, input map[string]any, ctx InvocationContext) *ToolInvocation {
	return &ToolInvocation{
		Action:   action,
		Input:    input,
		Context:  ctx,
		Response: ResponseDirectives{Format: "auto", Stream: false},
	}
}
