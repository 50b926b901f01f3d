package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gamecore-backend/pkg/config"
	"gamecore-backend/pkg/db"
	"gamecore-backend/pkg/health"
	"gamecore-backend/pkg/logger"
	"gamecore-backend/pkg/redis"
	"gamecore-backend/pkg/sequence"
	"gamecore-backend/pkg/server"
	"gamecore-backend/pkg/task"
	"gamecore-backend/services/apikey"
	"gamecore-backend/services/event"
	"gamecore-backend/services/httpapi"
	"gamecore-backend/services/idempotency"
	"gamecore-backend/services/inventory"
	"gamecore-backend/services/project"
	"gamecore-backend/services/realtime"
	"gamecore-backend/services/wallet"
	"gamecore-backend/services/webhook"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		health.Module,
		fx.Provide(
			provideTracerProvider,
			provideSnowflakeNode,
		),
		project.Module,
		apikey.Module,
		idempotency.Module,
		event.Module,
		webhook.Module,
		realtime.Module,
		wallet.Module,
		inventory.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
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

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&project.Project{},
		&apikey.APIKey{},
		&idempotency.Record{},
		&event.Event{},
		&webhook.Subscription{},
		&webhook.Delivery{},
		&wallet.Balance{},
		&wallet.Transaction{},
		&inventory.ItemStack{},
	)
}
