package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"policy-brief-pipeline/internal/domain/model"
	pg "policy-brief-pipeline/internal/infra/db/postgres"
	red "policy-brief-pipeline/internal/infra/redis"
	"policy-brief-pipeline/internal/pipeline"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func workerCmd() *cobra.Command {
	var (
		stageNames  []string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume stage queues and run the pipeline",
		Long: `Run one consumer per stage. Without --stages every stage runs in this process;
split stages across deployments to scale them independently.

Examples:
  briefd worker
  briefd worker --stages fetch,script
  briefd worker --stages synthesize --metrics-addr :9102`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stages, err := parseStages(stageNames)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			be, err := openBackends(ctx, true)
			if err != nil {
				return err
			}
			defer be.Close()

			prov, err := buildProviders(ctx)
			if err != nil {
				return err
			}
			if err := prov.requireFor(stages); err != nil {
				return err
			}

			c := prov.clients()
			c.Store = red.NewArtifactStore(be.redis, cfg.Redis.ArtifactTTL)
			c.Dispatcher = pipeline.NewQueueDispatcher(be.broker)
			c.Locker = red.NewLocker(be.redis)
			c.Ledger = red.NewRequestLedger(be.redis)
			c.Bills = pg.NewBillRepo(be.pool)
			c.Briefs = pg.NewBriefRepo(be.pool)
			c.TxManager = pg.NewTxManager(be.pool)

			p, err := pipeline.New(c, cfg, logger)
			if err != nil {
				return err
			}
			runners, err := p.Consumers(be.broker, stages...)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			for _, r := range runners {
				g.Go(func() error { return r.Run(gctx) })
			}
			g.Go(func() error {
				be.reportPools(gctx, 15*time.Second)
				return nil
			})
			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
				g.Go(func() error {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("metrics listener: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					return srv.Close()
				})
			}

			err = g.Wait()
			logger.Info().Msg("worker stopped")
			if errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&stageNames, "stages", nil, "stages to consume (orchestrate,fetch,script,synthesize,publish); default all")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address")
	return cmd
}

func parseStages(names []string) ([]model.Stage, error) {
	if len(names) == 0 {
		return model.Stages, nil
	}
	out := make([]model.Stage, 0, len(names))
	for _, n := range names {
		s := model.Stage(strings.ToLower(strings.TrimSpace(n)))
		if !s.Valid() {
			return nil, fmt.Errorf("unknown stage %q", n)
		}
		out = append(out, s)
	}
	return out, nil
}
