package main

import (
	"encoding/json"
	"os"

	"policy-brief-pipeline/internal/domain/model"
	pg "policy-brief-pipeline/internal/infra/db/postgres"
	"policy-brief-pipeline/internal/infra/memqueue"
	red "policy-brief-pipeline/internal/infra/redis"
	"policy-brief-pipeline/internal/pipeline"

	"github.com/spf13/cobra"
)

func runOnceCmd() *cobra.Command {
	var f requestFlags
	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Generate one brief in this process and print it",
		Long: `Drive one request through every stage without queues. Redis, Postgres and
object storage are used when configured; otherwise in-memory stand-ins keep
artifacts, the brief row and the audio for the life of the process.

Examples:
  briefd run-once --user u-42 --interests healthcare --dev
  BRIEF_DATABASE_URL=postgres://... briefd run-once --user u-42 --interests climate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request("inline")
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			prov, err := buildProviders(ctx)
			if err != nil {
				return err
			}
			if err := prov.requireFor([]model.Stage{model.StageFetch, model.StageSynthesize}); err != nil {
				return err
			}
			c := prov.clients()
			c.Dispatcher = &pipeline.CaptureDispatcher{}

			if cfg.Redis.URL != "" {
				be, err := openBackends(ctx, false)
				if err != nil {
					return err
				}
				defer be.Close()
				c.Store = red.NewArtifactStore(be.redis, cfg.Redis.ArtifactTTL)
				c.Locker = red.NewLocker(be.redis)
				c.Ledger = red.NewRequestLedger(be.redis)
			} else {
				coord := memqueue.NewCoordinator()
				c.Store = memqueue.NewStore()
				c.Locker = coord
				c.Ledger = coord
			}

			if cfg.Database.URL != "" {
				pool, err := pg.NewPgxPool(ctx, cfg.Database)
				if err != nil {
					return err
				}
				defer pool.Close()
				c.Bills = pg.NewBillRepo(pool)
				c.Briefs = pg.NewBriefRepo(pool)
				c.TxManager = pg.NewTxManager(pool)
			} else {
				logger.Warn().Msg("database.url not set; no bills will be fetched and the brief is not persisted")
				c.Bills = memqueue.NewBills()
				c.Briefs = memqueue.NewBriefs()
			}

			if c.Storage == nil {
				logger.Warn().Msg("storage.endpoint not set; audio is kept in memory")
				c.Storage = memqueue.NewObjects()
			}

			p, err := pipeline.New(c, cfg, logger)
			if err != nil {
				return err
			}
			brief, err := p.RunInline(ctx, req, cfg.Inline.RetryDelay)
			if err != nil {
				return err
			}
			return printBrief(brief)
		},
	}
	f.bind(cmd)
	return cmd
}

func printBrief(b *model.Brief) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}
