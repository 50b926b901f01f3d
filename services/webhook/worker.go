package webhook

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"gamecore-backend/pkg/config"
)

// WorkerModule wires the materializer task handler and the retry poll loop
// into the worker binary.
var WorkerModule = fx.Module("webhook.worker",
	fx.Invoke(registerTaskHandlers),
	fx.Invoke(runPollLoop),
)

func registerTaskHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(TaskEnqueueEvent, svc.HandleEnqueueEventTask)
}

// runPollLoop drives deliveries that the task path missed or that are due
// for a retry. The loop is the source of truth; asynq is just a fast path.
func runPollLoop(lc fx.Lifecycle, cfg *config.Config, svc *Service) {
	interval := cfg.Webhook.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						attempted, err := svc.PollAndDeliver(ctx)
						if err != nil {
							zap.L().Error("delivery poll failed", zap.Error(err))
							continue
						}
						if attempted > 0 {
							zap.L().Info("delivery poll completed", zap.Int("attempted", attempted))
						}
					}
				}
			}()
			zap.L().Info("delivery poll loop started", zap.Duration("interval", interval))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
