package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sandeepkv93/secure-auth-core/internal/config"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Runtime owns the OpenTelemetry providers installed for the process.
type Runtime struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	LoggerProvider *sdklog.LoggerProvider
}

// InitRuntime installs the meter and tracer providers and adopts lp, the log
// provider created by InitLogs. On failure, whatever was already started is
// shut down before returning.
func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*Runtime, error) {
	rt := &Runtime{LoggerProvider: lp}
	mp, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.MeterProvider = mp

	tp, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, err
	}
	rt.TracerProvider = tp

	InitHTTPMetrics()
	return rt, nil
}

type shutdownStep struct {
	name string
	fn   func(context.Context) error
}

// Shutdown flushes traces first so spans ending during drain are exported,
// then metrics, then logs. Every step runs even if an earlier one fails.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var steps []shutdownStep
	if r.TracerProvider != nil {
		steps = append(steps, shutdownStep{"tracer provider", r.TracerProvider.Shutdown})
	}
	if r.MeterProvider != nil {
		steps = append(steps, shutdownStep{"meter provider", r.MeterProvider.Shutdown})
	}
	if r.LoggerProvider != nil {
		steps = append(steps, shutdownStep{"logger provider", r.LoggerProvider.Shutdown})
	}

	var errs []error
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
