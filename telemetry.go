package gourdiansession

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/gourdian25/gourdiansession"

type telemetry struct {
	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	outcomes, err := mp.Meter(instrumentationName).Int64Counter(
		"gourdiansession.verifications",
		metric.WithDescription("Session verifications by outcome"),
	)
	if err != nil {
		outcomes, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("gourdiansession.verifications")
	}

	return &telemetry{
		tracer:   tp.Tracer(instrumentationName),
		outcomes: outcomes,
	}
}

func (t *telemetry) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name)
}

// finish annotates span and counts the outcome. Only the failure kind is
// recorded, never the error text.
func (t *telemetry) finish(ctx context.Context, span trace.Span, strategy string, err error) {
	outcome := outcomeOf(err)
	attrs := []attribute.KeyValue{
		attribute.String("session.strategy", strategy),
		attribute.String("session.outcome", outcome),
	}
	if stage, ok := RejectedStage(err); ok {
		attrs = append(attrs, attribute.String("session.stage", string(stage)))
	}

	span.SetAttributes(attrs...)
	if err != nil {
		span.SetStatus(codes.Error, outcome)
	}
	t.outcomes.Add(ctx, 1, metric.WithAttributes(attrs[:2]...))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrUnsupportedAlgorithm), errors.Is(err, ErrUnsupportedProfile):
		return "unsupported_algorithm"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrSessionExpired):
		return "expired"
	case errors.Is(err, ErrMissingIdentity):
		return "missing_identity"
	case errors.Is(err, ErrSessionRevoked):
		return "revoked"
	case errors.Is(err, ErrKeyNotFound):
		return "unknown_key"
	default:
		return "invalid"
	}
}
