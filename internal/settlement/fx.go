package settlement

import (
	"context"

	"github.com/pledgeline/pledgeline/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(RunScheduler),
)

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:  cfg.SettlementRunInterval,
		BatchSize:    cfg.SettlementBatchSize,
		LeaseTimeout: cfg.SettlementLeaseTimeout,
		JobTimeout:   cfg.SettlementJobTimeout,
		Currency:     cfg.SettlementCurrency,
	}.withDefaults()
}

func RunScheduler(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(runCtx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
