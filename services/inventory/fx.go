package inventory

import (
	"go.uber.org/fx"
)

var Module = fx.Module("inventory.service",
	fx.Provide(NewService, NewHandler),
)
