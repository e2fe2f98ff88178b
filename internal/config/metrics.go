package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	configMetricsOnce sync.Once
	loadCounter       metric.Int64Counter
	problemCounter    metric.Int64Counter
)

var secretKeys = map[string]bool{
	"JWT_ACCESS_SECRET":    true,
	"JWT_REFRESH_SECRET":   true,
	"REFRESH_TOKEN_PEPPER": true,
}

// recordLoad uses the global meter provider. Load runs before the exporter
// is installed, so these counts only reach a backend when configuration is
// loaded again after observability starts.
func recordLoad(ctx context.Context, profile string, err error) {
	configMetricsOnce.Do(func() {
		meter := otel.Meter("secure-auth-core")
		loadCounter, _ = meter.Int64Counter("config.load.events")
		problemCounter, _ = meter.Int64Counter("config.validation.problems")
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if loadCounter != nil {
		loadCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("profile", profileLabel(profile)),
			attribute.String("outcome", outcome),
			attribute.String("error_class", errorClass(err)),
		))
	}
	var verr *ValidationError
	if problemCounter != nil && errors.As(err, &verr) {
		for _, p := range verr.Problems {
			problemCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("key", p.Key)))
		}
	}
}

func profileLabel(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "unknown"
	}
	return v
}

func errorClass(err error) string {
	var perr *ParseError
	var verr *ValidationError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &perr):
		return "parse"
	case errors.As(err, &verr):
		for _, p := range verr.Problems {
			if secretKeys[p.Key] {
				return "secret"
			}
		}
		return "validation"
	default:
		return "load"
	}
}
