// Command api-server runs the giftshop checkout API.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/giftshop/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		lg.Info("Configuration loaded",
			zap.String("currency", cfg.Currency),
			zap.String("stripe_env", cfg.Stripe.Environment),
			zap.Bool("redis", cfg.RedisURL != ""),
		)
		return appkg.Run(ctx, lg, m, cfg)
	})
}
