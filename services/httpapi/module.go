package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"gamecore-backend/pkg/config"
	"gamecore-backend/pkg/health"
	"gamecore-backend/pkg/middleware"
	"gamecore-backend/services/apikey"
	"gamecore-backend/services/event"
	"gamecore-backend/services/inventory"
	"gamecore-backend/services/project"
	"gamecore-backend/services/realtime"
	"gamecore-backend/services/wallet"
	"gamecore-backend/services/webhook"
)

// Module assembles the gin engine for the API binary and exposes it as the
// http.Handler the server module serves.
var Module = fx.Module("httpapi",
	fx.Provide(NewRouter),
	fx.Provide(func(e *gin.Engine) http.Handler { return e }),
)

type RouterParams struct {
	fx.In
	Config    *config.Config
	Health    health.HealthService
	Projects  *project.Handler
	APIKeys   *apikey.Handler
	Events    *event.Handler
	Webhooks  *webhook.Handler
	Wallet    *wallet.Handler
	Inventory *inventory.Handler
	Realtime  *realtime.Gateway
}

func NewRouter(p RouterParams) *gin.Engine {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)

	// The websocket handshake carries its own credentials; it does not go
	// through the tenant header middleware.
	p.Realtime.RegisterRoutes(r)

	v1 := r.Group("/v1")
	v1.Use(middleware.Tenant())

	p.Projects.RegisterRoutes(v1)
	p.APIKeys.RegisterRoutes(v1)
	p.Events.RegisterRoutes(v1)
	p.Webhooks.RegisterRoutes(v1)
	p.Wallet.RegisterRoutes(v1)
	p.Inventory.RegisterRoutes(v1)

	return r
}
