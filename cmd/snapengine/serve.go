package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"snapengine/internal/bot"
)

// sweepInterval paces the background lenient cache eviction in serve mode.
const sweepInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram snapshot bot",
	Long: `Run the Telegram snapshot bot: users send a URL and receive a full-page
screenshot in reply. Requires telegram_bot_token (TELEGRAM_BOT_TOKEN).
A background sweep evicts cache entries older than twice the TTL.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if a.cfg.TelegramBotToken == "" {
			return errors.New("serve mode requires TELEGRAM_BOT_TOKEN")
		}

		handler, err := bot.NewHandler(a.cfg, a.svc, a.log)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		go sweepLoop(ctx, a)

		a.log.Info("snapengine serving, press Ctrl+C to exit")
		handler.Start(ctx)
		a.log.Info("snapengine shut down gracefully")
		return nil
	},
}

func sweepLoop(ctx context.Context, a *app) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := a.svc.EvictExpired(false); err != nil {
				a.log.WithError(err).Warn("Background cache sweep failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
