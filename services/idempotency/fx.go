package idempotency

import (
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency.service",
	fx.Provide(NewService),
)
