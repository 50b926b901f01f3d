package webhook

import (
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(NewService, NewHandler),
)
