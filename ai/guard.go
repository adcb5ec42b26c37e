package ai

import (
	"context"
	"time"

	apperrors "ai-companion-demo/backend/pkg/errors"
	"ai-companion-demo/backend/pkg/logger"
	"ai-companion-demo/backend/pkg/resilience"
	"ai-companion-demo/backend/shared/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Guard wraps every call to one external provider with a deadline, a circuit
// breaker, a span and metrics, and classifies failures into AppErrors.
type Guard struct {
	provider string
	breaker  *resilience.CircuitBreaker
	metrics  *observability.Metrics
	tracer   trace.Tracer
	log      *logger.Logger
}

// NewGuard creates a guard for the named provider
func NewGuard(provider string, breaker *resilience.CircuitBreaker, metrics *observability.Metrics, log *logger.Logger) *Guard {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Guard{
		provider: provider,
		breaker:  breaker,
		metrics:  metrics,
		tracer:   otel.Tracer("ai-companion-demo/backend/ai"),
		log:      log,
	}
}

// Breaker exposes the breaker for health reporting
func (g *Guard) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}

// Do runs fn under the guard. op names the operation in errors, logs and
// metrics. Errors returned are *apperrors.AppError.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := g.tracer.Start(ctx, g.provider+"."+op, trace.WithAttributes(
		attribute.String("provider", g.provider),
		attribute.String("operation", op),
	))
	defer span.End()

	start := time.Now()
	var err error
	if g.breaker != nil {
		err = g.breaker.ExecuteContext(ctx, fn)
	} else {
		err = fn(ctx)
	}
	elapsed := time.Since(start)
	g.metrics.RecordProviderCall(ctx, g.provider, op, err, elapsed)

	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	appErr := apperrors.NewProviderError(op, err)
	g.log.Warn("Provider call failed",
		"provider", g.provider,
		"operation", op,
		"code", appErr.Code,
		"error", err.Error(),
		"duration", elapsed.String(),
	)
	return appErr
}
