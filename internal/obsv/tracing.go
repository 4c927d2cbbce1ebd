package obsv

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// NewTracerProvider builds an SDK TracerProvider for job-lifecycle spans
// (Request→Response→Run→Completed). No exporter is wired by default — the
// core does not mandate a tracing backend (spec.md Non-goals exclude
// specific UI/observability backends) — but every span created against the
// returned Tracer still carries correct parent/child relationships and
// timing, ready for an operator to attach a real exporter via
// sdktrace.WithBatcher at startup.
func NewTracerProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp
}

// Tracer is the package-scoped tracer every job-lifecycle span is created
// against.
var Tracer = otel.Tracer("github.com/loadfabric/loadfabric")

// StartJobSpan opens a span covering one job's Request→...→Completed
// lifetime, tagged with its jobID and class so traces correlate across the
// dispatcher and worker processes that each see only part of the job.
func StartJobSpan(ctx context.Context, jobID, jobClass string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, fmt.Sprintf("job:%s", jobClass),
		trace.WithAttributes(
			jobIDAttr(jobID),
			jobClassAttr(jobClass),
		))
}
