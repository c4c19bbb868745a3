package cli

import (
	"github.com/spf13/cobra"

	"github.com/officialvpn/remnabot/internal/bot"
	"github.com/officialvpn/remnabot/internal/config"
	"github.com/officialvpn/remnabot/internal/remnawave"
	"github.com/officialvpn/remnabot/internal/service"
	"github.com/officialvpn/remnabot/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger("remnabot")

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}

			db, err := store.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()
			logger.Info("database ready", "path", cfg.DatabasePath)

			panel := remnawave.NewClient(cfg.APIBaseURL, cfg.SubscriptionBaseURL, cfg.PanelToken, cfg.APITimeout)
			svc := service.New(db, panel, cfg.SubscriptionDays, logger.WithPrefix("service"))

			b, err := bot.New(bot.Config{Token: cfg.BotToken}, svc, logger.WithPrefix("bot"))
			if err != nil {
				return err
			}

			b.Start(cmd.Context())
			logger.Info("bot stopped")
			return nil
		},
	}
}
