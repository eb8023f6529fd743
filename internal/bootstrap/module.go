package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"ghchrono/internal/bootstrap/config"
	"ghchrono/internal/bootstrap/logging"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideApp),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideApp(lc fx.Lifecycle, ctx context.Context, cfg config.Config) *App {
	app := NewApp(cfg)
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return app.Close(ctx)
		},
	})
	return app
}
