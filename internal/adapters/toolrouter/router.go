// Package toolrouter dispatches plugin actions over the wire envelope.
// It owns input/output schema validation, per-action circuit breakers and
// timeouts, and normalisation of every reply into a ToolResponse.
package toolrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucialabs/lucia/internal/adapters/circuitbreaker"
	"github.com/lucialabs/lucia/internal/adapters/metrics"
	"github.com/lucialabs/lucia/internal/config"
	"github.com/lucialabs/lucia/internal/domain"
	"github.com/lucialabs/lucia/internal/domain/models"
	"github.com/lucialabs/lucia/internal/ports"
)

// transport moves one envelope to a plugin endpoint and back
type transport interface {
	invoke(ctx context.Context, action *models.ToolAction, inv *models.ToolInvocation) (map[string]any, error)
}

// Router implements ports.ToolDispatcher over the tool registry
type Router struct {
	cfg      config.ToolsConfig
	tools    ports.ToolRegistry
	breakers *circuitbreaker.Registry
	http     transport
	stdio    transport
	logger   *slog.Logger
}

func NewRouter(cfg config.ToolsConfig, tools ports.ToolRegistry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	cooldown := time.Duration(cfg.BreakerCooldownMs) * time.Millisecond
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Router{
		cfg:      cfg,
		tools:    tools,
		breakers: circuitbreaker.NewRegistry(cfg.BreakerMaxFailures, cooldown, cfg.BreakerEnabled),
		http:     newHTTPTransport(cfg, logger),
		stdio:    newStdioPool(logger),
		logger:   logger,
	}
}

// Dispatch resolves an action, validates the input against its schema, and
// invokes it through the per-action breaker with the action's timeout. The
// reply is schema-validated and normalised before it is returned.
func (r *Router) Dispatch(ctx context.Context, action string, input map[string]any, ic models.InvocationContext) (*models.ToolResponse, error) {
	act, ok := r.tools.Action(action)
	if !ok {
		return nil, fmt.Errorf("%q: %w", action, domain.ErrToolNotFound)
	}
	if !act.Enabled {
		return nil, fmt.Errorf("%q: %w", action, domain.ErrToolDisabled)
	}
	if err := r.tools.ValidateInput(action, input); err != nil {
		return nil, err
	}

	inv := models.NewToolInvocation(action, input, ic)
	timeout := act.Timeout(r.defaultTimeout())
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var payload map[string]any
	err := r.breakers.Execute(act.Name, func() error {
		var terr error
		payload, terr = r.transportFor(act).invoke(cctx, act, inv)
		return terr
	})
	latency := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
			err = fmt.Errorf("%s: %w", act.Name, domain.ErrCircuitOpen)
		case errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			err = domain.NewTimeoutError(act.Name, timeout)
		}
		r.observe(act.Name, err, latency)
		r.logger.Warn("tool dispatch failed",
			"action", act.Name, "latency_ms", latency.Milliseconds(), "error", err)
		return nil, err
	}

	if err := r.tools.ValidateOutput(action, payload); err != nil {
		r.observe(act.Name, err, latency)
		return nil, err
	}
	resp, err := normalise(act, payload)
	if err != nil {
		r.observe(act.Name, err, latency)
		return nil, err
	}
	resp.WithMeta("provider", act.Plugin()).WithMeta("latency_ms", latency.Milliseconds())

	r.observe(act.Name, nil, latency)
	r.logger.Debug("tool dispatched",
		"action", act.Name, "latency_ms", latency.Milliseconds(), "type", resp.Type)
	return resp, nil
}

// BreakerStates exposes the live breaker state per action for the ops surface
func (r *Router) BreakerStates() map[string]string {
	states := r.breakers.States()
	out := make(map[string]string, len(states))
	for action, state := range states {
		out[action] = state.String()
	}
	return out
}

func (r *Router) transportFor(act *models.ToolAction) transport {
	if act.Transport == models.ToolTransportStdio {
		return r.stdio
	}
	return r.http
}

func (r *Router) defaultTimeout() time.Duration {
	if r.cfg.DefaultTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.cfg.DefaultTimeoutMs) * time.Millisecond
}

func (r *Router) observe(action string, err error, latency time.Duration) {
	status := "ok"
	switch {
	case errors.Is(err, domain.ErrCircuitOpen):
		status = "breaker_open"
	case err != nil:
		status = "error"
	}
	metrics.ToolDispatchTotal.WithLabelValues(action, status).Inc()
	metrics.ToolDispatchDuration.WithLabelValues(action).Observe(latency.Seconds())
	metrics.BreakerState.WithLabelValues(action).Set(float64(r.breakers.For(action).State()))
}

// normalise coerces a validated reply payload into the unified envelope.
// Missing type defaults to text; non-string content is re-encoded as JSON.
func normalise(act *models.ToolAction, payload map[string]any) (*models.ToolResponse, error) {
	if payload == nil {
		return nil, fmt.Errorf("%s: empty reply: %w", act.Name, domain.ErrInvalidToolOutput)
	}
	if content, ok := payload["content"]; ok {
		if _, isString := content.(string); !isString {
			encoded, err := json.Marshal(content)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", act.Name, domain.ErrInvalidToolOutput)
			}
			payload["content"] = string(encoded)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", act.Name, domain.ErrInvalidToolOutput)
	}
	var resp models.ToolResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", act.Name, err, domain.ErrInvalidToolOutput)
	}

	switch resp.Type {
	case models.ResponseTypeText, models.ResponseTypeImage, models.ResponseTypeAudio, models.ResponseTypeToolResult:
	case "":
		resp.Type = models.ResponseTypeText
	default:
		return nil, fmt.Errorf("%s: unknown response type %q: %w", act.Name, resp.Type, domain.ErrInvalidToolOutput)
	}
	return &resp, nil
}
