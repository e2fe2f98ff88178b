package observability

import (
	"context"
	"errors"
	"os"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/sandeepkv93/secure-auth-core/internal/config"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
)

// instanceID is stable for the life of the process so metrics, traces and
// logs from one replica share it.
var instanceID = uuid.NewString()

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("service.version", serviceVersion()),
			attribute.String("service.instance.id", instanceID),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if errors.Is(err, resource.ErrPartialResource) {
		return res, nil
	}
	return res, err
}

func serviceVersion() string {
	if v := os.Getenv("SERVICE_VERSION"); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "devel"
}
