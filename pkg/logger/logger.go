package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"gamecore-backend/pkg/config"
)

var Module = fx.Module("logger",
	fx.Provide(Provide),
	fx.Invoke(ReplaceGlobals),
)

// Provide returns a zap logger configured for the current environment.
func Provide(cfg *config.Config) (*zap.Logger, error) {
	if cfg.AppEnv == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func ReplaceGlobals(logger *zap.Logger) {
	zap.ReplaceGlobals(logger)
}
