package main

import (
	"encoding/json"
	"os"
	"time"

	pg "policy-brief-pipeline/internal/infra/db/postgres"
	red "policy-brief-pipeline/internal/infra/redis"
	"policy-brief-pipeline/internal/infra/scheduler"
	"policy-brief-pipeline/internal/pipeline"
	"policy-brief-pipeline/internal/usecase"

	"github.com/spf13/cobra"
)

func schedulerCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Enqueue due briefs for every eligible subscriber",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			be, err := openBackends(ctx, true)
			if err != nil {
				return err
			}
			defer be.Close()

			uc := usecase.NewScheduleUseCase(
				pg.NewSubscriberRepo(be.pool),
				red.NewRateLimiter(be.redis),
				pipeline.Requests(be.broker),
				cfg.Scheduler,
				logger,
			)

			if once {
				rep, err := uc.RunOnce(ctx, time.Now())
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(rep)
				return err
			}

			go be.reportPools(ctx, 30*time.Second)
			s := scheduler.NewScheduler(scheduler.Options{
				Interval:     cfg.Scheduler.Interval,
				Jitter:       cfg.Scheduler.Jitter,
				TickTimeout:  cfg.Scheduler.TickTimeout,
				RunOnStartup: cfg.Scheduler.RunOnStartup,
			}, uc, logger)
			return s.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass, print the report and exit")
	return cmd
}
