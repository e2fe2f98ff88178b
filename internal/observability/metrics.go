package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sandeepkv93/secure-auth-core/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationName = "secure-auth-core"

type AppMetrics struct {
	authLoginCounter       metric.Int64Counter
	authRefreshCounter     metric.Int64Counter
	authLogoutCounter      metric.Int64Counter
	tokenValidationCounter metric.Int64Counter
	authzDecisionCounter   metric.Int64Counter
	sessionEventCounter    metric.Int64Counter
	reconcileChangeCounter metric.Int64Counter
	repositoryOpCounter    metric.Int64Counter
	cacheEventCounter      metric.Int64Counter
	adminRoleCounter       metric.Int64Counter
	adminAuditCounter      metric.Int64Counter
	rateLimitCounter       metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	var mp *sdkmetric.MeterProvider
	if !cfg.OTELMetricsEnabled {
		mp = sdkmetric.NewMeterProvider()
		logger.Info("otel metrics disabled")
	} else {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
		if cfg.OTELExporterOTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		res, err := newResource(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create metric resource: %w", err)
		}
		reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	}
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	m := &AppMetrics{}
	counters := []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"auth.login.attempts", &m.authLoginCounter},
		{"auth.refresh.attempts", &m.authRefreshCounter},
		{"auth.logout.attempts", &m.authLogoutCounter},
		{"auth.access_token.validations", &m.tokenValidationCounter},
		{"authz.decisions", &m.authzDecisionCounter},
		{"session.events", &m.sessionEventCounter},
		{"permission.reconcile.changes", &m.reconcileChangeCounter},
		{"repository.operations", &m.repositoryOpCounter},
		{"cache.events", &m.cacheEventCounter},
		{"admin.role.mutations", &m.adminRoleCounter},
		{"admin.audit.events", &m.adminAuditCounter},
		{"http.rate_limit.decisions", &m.rateLimitCounter},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthRefresh(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authRefreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthLogout(ctx context.Context, scope string) {
	if m := current(); m != nil {
		m.authLogoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
	}
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	if m := current(); m != nil {
		m.tokenValidationCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("source", source),
		))
	}
}

func RecordAuthzDecision(ctx context.Context, decision, reason string) {
	if m := current(); m != nil {
		m.authzDecisionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("decision", decision),
			attribute.String("reason", reason),
		))
	}
}

// RecordSessionEvent counts registry events such as evictions and sweeps.
func RecordSessionEvent(ctx context.Context, event string, n int64) {
	if m := current(); m != nil && n > 0 {
		m.sessionEventCounter.Add(ctx, n, metric.WithAttributes(attribute.String("event", event)))
	}
}

func RecordReconcileChange(ctx context.Context, kind string, n int) {
	if m := current(); m != nil && n > 0 {
		m.reconcileChangeCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func RecordRepositoryOperation(ctx context.Context, repo, op, outcome string) {
	if m := current(); m != nil {
		m.repositoryOpCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("repository", repo),
			attribute.String("operation", op),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordCacheEvent(ctx context.Context, cache, event string) {
	if m := current(); m != nil {
		m.cacheEventCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("event", event),
		))
	}
}

func RecordAdminRoleMutation(ctx context.Context, action string) {
	if m := current(); m != nil {
		m.adminRoleCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	}
}

func RecordAdminAudit(ctx context.Context, event string) {
	if m := current(); m != nil {
		m.adminAuditCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	}
}

func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	if m := current(); m != nil {
		m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("decision", decision),
		))
	}
}
