package postgres

import (
	"context"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.SubscriberRepository = (*subscriberRepo)(nil)

type subscriberRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriberRepo(pool *pgxpool.Pool) *subscriberRepo {
	return &subscriberRepo{pool: pool}
}

// ListEligible pages through users that want briefs of the given type and follow at least one area.
func (r *subscriberRepo) ListEligible(ctx context.Context, tx repository.Tx, bt model.BriefType, offset, limit int) ([]*model.Subscriber, error) {
	const q = `
SELECT id, email, policy_interests, state, district
FROM users
WHERE briefs_enabled
  AND cardinality(policy_interests) > 0
  AND ($1 <> 'weekly' OR weekly_enabled)
ORDER BY id
OFFSET $2 LIMIT $3;`

	rows, err := queryRows(ctx, r.pool, tx, q, string(bt), offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Subscriber
	for rows.Next() {
		s := &model.Subscriber{BriefType: bt}
		if err := rows.Scan(&s.ID, &s.Email, &s.PolicyInterests, &s.State, &s.District); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Save upserts a subscriber. Used by tests and the enqueue tooling.
func (r *subscriberRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscriber, weekly bool) error {
	const q = `
INSERT INTO users (id, email, policy_interests, state, district, briefs_enabled, weekly_enabled)
VALUES ($1, $2, $3, $4, $5, TRUE, $6)
ON CONFLICT (id) DO UPDATE SET
  email = EXCLUDED.email,
  policy_interests = EXCLUDED.policy_interests,
  state = EXCLUDED.state,
  district = EXCLUDED.district,
  weekly_enabled = EXCLUDED.weekly_enabled;`
	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.Email, s.PolicyInterests, s.State, s.District, weekly)
	return err
}
