// Tracing instrumentation for the plan executor.
package plan

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startPlanSpan starts a span for a plan execution.
func (e *Executor) startPlanSpan(ctx context.Context, p *Plan, resumed bool) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "plan.run")
	span.SetAttributes(
		attribute.String("plan.id", p.ID),
		attribute.Int("plan.steps", len(p.Steps)),
		attribute.Bool("plan.resumed", resumed),
	)
	return ctx, span
}

// endPlanSpan ends the plan span with its intent.
func (e *Executor) endPlanSpan(span trace.Span, res *Result) {
	span.SetAttributes(
		attribute.String("plan.intent", string(res.Intent)),
		attribute.Int("plan.completed_steps", len(res.Results)),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	span.End()
}

// startStepSpan starts a span for one step.
func (e *Executor) startStepSpan(ctx context.Context, step Step) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "step."+step.SpecialistID)
	span.SetAttributes(
		attribute.Int("step.index", step.Index),
		attribute.String("step.specialist", step.SpecialistID),
		attribute.String("step.mode", step.WorkflowMode),
	)
	return ctx, span
}

// endStepSpan ends the step span with its outcome.
func (e *Executor) endStepSpan(span trace.Span, out stepOutcome) {
	span.SetAttributes(attribute.String("step.outcome", string(out.kind)))
	tracer := telemetry.GetTracer()
	if tracer.Debug() && out.output != nil {
		span.SetAttributes(attribute.String("step.output", truncateForLog(out.output.Content, 2000)))
	}
	if out.err != nil {
		span.RecordError(out.err)
	}
	span.End()
}
