package postgres

import (
	"context"
	"strings"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.BillRepository = (*billRepo)(nil)

type billRepo struct {
	pool *pgxpool.Pool
}

func NewBillRepo(pool *pgxpool.Pool) *billRepo {
	return &billRepo{pool: pool}
}

func (r *billRepo) FindRecent(ctx context.Context, tx repository.Tx, areas []string, since time.Time, limit int) ([]model.Bill, error) {
	lowered := make([]string, 0, len(areas))
	for _, a := range areas {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			lowered = append(lowered, a)
		}
	}
	if len(lowered) == 0 {
		return []model.Bill{}, nil
	}
	if limit <= 0 {
		limit = 5
	}
	const q = `
SELECT id, title, summary, policy_area, impact_score, introduced_at
FROM bills
WHERE lower(policy_area) = ANY($1) AND introduced_at >= $2
ORDER BY impact_score DESC, introduced_at DESC
LIMIT $3;`

	rows, err := queryRows(ctx, r.pool, tx, q, lowered, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Bill{}
	for rows.Next() {
		var b model.Bill
		if err := rows.Scan(&b.ID, &b.Title, &b.Summary, &b.PolicyArea, &b.ImpactScore, &b.IntroducedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Upsert stores or refreshes a bill by id.
func (r *billRepo) Upsert(ctx context.Context, tx repository.Tx, b model.Bill) error {
	const q = `
INSERT INTO bills (id, title, summary, policy_area, impact_score, introduced_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  summary = EXCLUDED.summary,
  policy_area = EXCLUDED.policy_area,
  impact_score = EXCLUDED.impact_score,
  introduced_at = EXCLUDED.introduced_at;`
	_, err := execSQL(ctx, r.pool, tx, q, b.ID, b.Title, b.Summary, b.PolicyArea, b.ImpactScore, b.IntroducedAt)
	return err
}
