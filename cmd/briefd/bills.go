package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/repository"
	pg "policy-brief-pipeline/internal/infra/db/postgres"
	"policy-brief-pipeline/internal/infra/logging"

	"github.com/jackc/pgx/v4"
	"github.com/spf13/cobra"
)

func importBillsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-bills [file|-]",
		Short: "Upsert bills from a JSON array into the bills table",
		Long: `Load bills the data fetcher can match against subscriber interests.
The input is a JSON array of {id, title, summary, policy_area, impact_score, introduced_at}.
All rows are written in one transaction.

Examples:
  briefd import-bills bills.json
  curl -s https://example.org/bills.json | briefd import-bills -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			bills, err := decodeBills(in)
			if err != nil {
				return err
			}

			if err := cfg.RequireDatabase(); err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := pg.NewPgxPool(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer pool.Close()
			defer logging.TraceDuration(logger, "import-bills")()

			repo := pg.NewBillRepo(pool)
			err = pg.NewTxManager(pool).WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
				for _, b := range bills {
					if err := repo.Upsert(ctx, tx, b); err != nil {
						return fmt.Errorf("bill %s: %w", b.ID, err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			logger.Info().Int("bills", len(bills)).Msg("bills imported")
			return nil
		},
	}
}

// decodeBills reads and checks a JSON array of bills. Policy areas are lower-cased
// to match how interests are compared.
func decodeBills(r io.Reader) ([]model.Bill, error) {
	var bills []model.Bill
	if err := json.NewDecoder(r).Decode(&bills); err != nil {
		return nil, fmt.Errorf("decode bills: %w", err)
	}
	for i := range bills {
		b := &bills[i]
		b.PolicyArea = strings.ToLower(strings.TrimSpace(b.PolicyArea))
		switch {
		case b.ID == "":
			return nil, fmt.Errorf("bill %d: missing id", i)
		case b.Title == "":
			return nil, fmt.Errorf("bill %s: missing title", b.ID)
		case b.PolicyArea == "":
			return nil, fmt.Errorf("bill %s: missing policy_area", b.ID)
		case b.IntroducedAt.IsZero():
			return nil, fmt.Errorf("bill %s: missing introduced_at", b.ID)
		}
	}
	return bills, nil
}
