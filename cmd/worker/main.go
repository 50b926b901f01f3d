package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gamecore-backend/pkg/config"
	"gamecore-backend/pkg/db"
	"gamecore-backend/pkg/logger"
	"gamecore-backend/pkg/redis"
	"gamecore-backend/pkg/task"
	"gamecore-backend/services/project"
	"gamecore-backend/services/webhook"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Server,
		fx.Provide(provideSnowflakeNode),
		project.Module,
		webhook.Module,
		webhook.WorkerModule,
		fx.Invoke(migrate),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&webhook.Subscription{},
		&webhook.Delivery{},
	)
}
