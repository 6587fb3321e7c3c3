package prompt

import (
	"context"
	"fmt"

	"github.com/XiaoConstantine/dspy-go/pkg/modules"
)

// LuciaPredict wraps dspy-go Predict with tracing and metrics hooks. The
// slot filler and the decomposer run their LLM programs through it.
type LuciaPredict struct {
	*modules.Predict
	name    string
	tracer  Tracer
	metrics MetricsCollector
}

// Option configures a LuciaPredict module
type Option func(*LuciaPredict)

// WithTracer sets a tracer for the module
func WithTracer(tracer Tracer) Option {
	return func(p *LuciaPredict) {
		p.tracer = tracer
	}
}

// WithMetrics sets a metrics collector for the module
func WithMetrics(metrics MetricsCollector) Option {
	return func(p *LuciaPredict) {
		p.metrics = metrics
	}
}

// NewLuciaPredict creates a prediction module over a signature
func NewLuciaPredict(sig Signature, opts ...Option) *LuciaPredict {
	lp := &LuciaPredict{
		Predict: modules.NewPredict(sig.Signature),
		name:    sig.Name,
	}

	for _, opt := range opts {
		opt(lp)
	}

	return lp
}

// Process executes the prediction with tracing and metrics
func (p *LuciaPredict) Process(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	var span Span
	if p.tracer != nil {
		span = p.tracer.StartSpan(ctx, "predict."+p.name)
		defer span.End()
	}

	outputs, err := p.Predict.Process(ctx, inputs)

	if p.metrics != nil {
		p.metrics.RecordExecution(span, inputs, outputs, err)
	}

	if err != nil {
		if span != nil {
			span.SetError(err)
		}
		return nil, fmt.Errorf("predict process failed: %w", err)
	}

	return outputs, nil
}

// Tracer defines the interface for tracing module execution
type Tracer interface {
	StartSpan(ctx context.Context, name string) Span
}

// Span represents a traced execution span
type Span interface {
	End()
	SetError(err error)
	SetAttribute(key string, value any)
}

// MetricsCollector defines the interface for collecting metrics
type MetricsCollector interface {
	RecordExecution(span Span, inputs, outputs map[string]any, err error)
}

// NoOpTracer is a tracer that does nothing
type NoOpTracer struct{}

func (t *NoOpTracer) StartSpan(ctx context.Context, name string) Span {
	return &NoOpSpan{}
}

// NoOpSpan is a span that does nothing
type NoOpSpan struct{}

func (s *NoOpSpan) End()                               {}
func (s *NoOpSpan) SetError(err error)                 {}
func (s *NoOpSpan) SetAttribute(key string, value any) {}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) RecordExecution(span Span, inputs, outputs map[string]any, err error) {}
