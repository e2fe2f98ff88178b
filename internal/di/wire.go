//go:build wireinject
// +build wireinject

package di

import (
	"context"
	"log/slog"

	"github.com/google/wire"

	"github.com/sandeepkv93/secure-auth-core/internal/app"
	"github.com/sandeepkv93/secure-auth-core/internal/config"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, runtime *observability.Runtime) (*app.App, func(), error) {
	wire.Build(storageSet, storeSet, coreSet, httpSet)
	return nil, nil, nil
}

func InitializeMaintenance(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Maintenance, func(), error) {
	wire.Build(storageSet, storeSet, coreSet, provideMaintenance)
	return nil, nil, nil
}
