package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Chat log write outcomes
const (
	ChatLogWritten = "written"
	ChatLogSpooled = "spooled"
	ChatLogDropped = "dropped"
	ChatLogFailed  = "failed"
)

// Metrics are the instruments the service records
type Metrics struct {
	providerCalls    otelmetric.Int64Counter
	providerDuration otelmetric.Float64Histogram
	activeSessions   otelmetric.Int64UpDownCounter
	chatLogWrites    otelmetric.Int64Counter
}

// NewMetrics creates every instrument on mp
func NewMetrics(mp otelmetric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("ai-companion-demo/backend")

	providerCalls, err := meter.Int64Counter("provider_calls_total",
		otelmetric.WithDescription("Calls to external LLM and image providers"))
	if err != nil {
		return nil, err
	}
	providerDuration, err := meter.Float64Histogram("provider_call_duration_seconds",
		otelmetric.WithDescription("Latency of external provider calls"),
		otelmetric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	activeSessions, err := meter.Int64UpDownCounter("active_sessions",
		otelmetric.WithDescription("Conversation sessions currently registered"))
	if err != nil {
		return nil, err
	}
	chatLogWrites, err := meter.Int64Counter("chat_log_writes_total",
		otelmetric.WithDescription("Chat log persistence outcomes"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		providerCalls:    providerCalls,
		providerDuration: providerDuration,
		activeSessions:   activeSessions,
		chatLogWrites:    chatLogWrites,
	}, nil
}

// NopMetrics records nothing
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// RecordProviderCall counts one provider call and its latency
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	m.providerCalls.Add(ctx, 1, attrs)
	m.providerDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// SessionDelta adjusts the active session gauge
func (m *Metrics) SessionDelta(ctx context.Context, delta int64) {
	if m == nil || delta == 0 {
		return
	}
	m.activeSessions.Add(ctx, delta)
}

// RecordChatLog counts a chat log outcome
func (m *Metrics) RecordChatLog(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.chatLogWrites.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
}
