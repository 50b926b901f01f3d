package realtime

import (
	"go.uber.org/fx"

	"gamecore-backend/services/event"
)

var Module = fx.Module("realtime",
	fx.Provide(
		NewHub,
		NewGateway,
		func(h *Hub) event.Broadcaster { return h },
	),
)
