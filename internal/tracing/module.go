package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module installs a process-wide TracerProvider so every tracing.StartSpan
// call across the control plane, sync-daemon handler, and project manager
// shares one provider instance, shut down cleanly on app stop.
var Module = fx.Module("tracing",
	fx.Invoke(func(lc fx.Lifecycle) {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
		otel.SetTracerProvider(tp)
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return tp.Shutdown(ctx)
			},
		})
	}),
)
