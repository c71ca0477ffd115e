// Tracing instrumentation for the specialist loop.
package specialist

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startSpecialistSpan starts a span for one specialist invocation.
func (e *Executor) startSpecialistSpan(ctx context.Context, specialistID string, step, max int, resumed bool) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "specialist."+specialistID)
	span.SetAttributes(
		attribute.String("specialist.id", specialistID),
		attribute.Int("specialist.step", step),
		attribute.Int("specialist.max_iterations", max),
		attribute.Bool("specialist.resumed", resumed),
	)
	return ctx, span
}

// endSpecialistSpan ends the specialist span with its outcome.
func (e *Executor) endSpecialistSpan(span trace.Span, out Outcome, iteration int) {
	span.SetAttributes(
		attribute.String("specialist.outcome", string(out.Kind)),
		attribute.Int("specialist.iteration", iteration),
	)
	tracer := telemetry.GetTracer()
	if tracer.Debug() && out.Output != nil {
		span.SetAttributes(attribute.String("specialist.output", truncateForLog(out.Output.Content, 2000)))
	}
	if out.Err != nil {
		span.RecordError(out.Err)
	}
	span.End()
}

// startIterationSpan starts a span for one iteration.
func (e *Executor) startIterationSpan(ctx context.Context, specialistID string, iteration int, phase Phase) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "iteration")
	span.SetAttributes(
		attribute.String("iteration.specialist", specialistID),
		attribute.Int("iteration.n", iteration),
		attribute.String("iteration.phase", string(phase)),
	)
	return ctx, span
}
