package main

import (
	"fmt"
	"time"

	"policy-brief-pipeline/internal/infra/api"
	pg "policy-brief-pipeline/internal/infra/db/postgres"
	red "policy-brief-pipeline/internal/infra/redis"
	"policy-brief-pipeline/internal/pipeline"

	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Serve the admin API (health, metrics, jobs, dead letters)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			auth, err := api.NewAuthManager(cfg.Admin.JWTSecret)
			if err != nil {
				return err
			}

			be, err := openBackends(ctx, true)
			if err != nil {
				return err
			}
			defer be.Close()

			p, err := pipeline.New(pipeline.Clients{
				Store:      red.NewArtifactStore(be.redis, cfg.Redis.ArtifactTTL),
				Dispatcher: pipeline.NewQueueDispatcher(be.broker),
				Briefs:     pg.NewBriefRepo(be.pool),
			}, cfg, logger)
			if err != nil {
				return err
			}

			go be.reportPools(ctx, 30*time.Second)

			srv := api.NewServer(api.Deps{
				Jobs:     p,
				Requests: pipeline.Requests(be.broker),
				Dead:     be.broker,
				Auth:     auth,
				Ready:    be.ping,
			}, logger)
			if port == 0 {
				port = cfg.Admin.Port
			}
			return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default admin.port)")
	return cmd
}
