package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"policy-brief-pipeline/internal/config"
	"policy-brief-pipeline/internal/infra/logging"
	"policy-brief-pipeline/internal/infra/metrics"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
)

var (
	cfgPath string
	devMode bool

	cfg    *config.Config
	logger *zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "briefd",
		Short:         "briefd - personalised policy audio briefs",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real deployments inject the environment directly.
			_ = godotenv.Load()

			c, err := config.LoadConfig(cfgPath, devMode)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			cfg = c
			logger = logging.New(cfg.Log, cfg.Runtime.Dev)
			metrics.MustRegister()
			metrics.SetBuildInfo(Version, Commit, cmd.Name())
			if cfg.Runtime.Dev {
				logger.Warn().Msg("developer mode enabled")
			}
			logger.Debug().
				Str("database", logging.Redact(cfg.Database.URL, cfg.Runtime.Dev)).
				Str("redis", logging.Redact(cfg.Redis.URL, cfg.Runtime.Dev)).
				Str("storage", cfg.Storage.Endpoint).
				Str("ai_provider", cfg.AI.Provider).
				Str("tts_provider", cfg.TTS.Provider).
				Msg("config loaded")
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "enable developer mode (console logs, unredacted secrets)")

	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(apiCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importBillsCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(runOnceCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
