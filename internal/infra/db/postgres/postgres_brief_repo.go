package postgres

import (
	"context"
	"errors"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.BriefRepository = (*briefRepo)(nil)

type briefRepo struct {
	pool *pgxpool.Pool
}

func NewBriefRepo(pool *pgxpool.Pool) *briefRepo {
	return &briefRepo{pool: pool}
}

// Insert relies on UNIQUE(job_id): a second publish for the same job writes nothing.
func (r *briefRepo) Insert(ctx context.Context, tx repository.Tx, b *model.Brief) (bool, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.GeneratedAt.IsZero() {
		b.GeneratedAt = time.Now().UTC()
	}
	areas := b.PolicyAreas
	if areas == nil {
		areas = []string{}
	}
	const q = `
INSERT INTO briefs (id, job_id, user_id, type, audio_url, transcript, written_digest, policy_areas, duration_ms, generated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (job_id) DO NOTHING;`

	tag, err := execSQL(ctx, r.pool, tx, q,
		b.ID, b.JobID, b.UserID, string(b.Type), b.AudioURL, b.Transcript, b.WrittenDigest,
		areas, b.Duration.Milliseconds(), b.GeneratedAt)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *briefRepo) FindByJobID(ctx context.Context, tx repository.Tx, jobID string) (*model.Brief, error) {
	const q = `
SELECT id, job_id, user_id, type, audio_url, transcript, written_digest, policy_areas, duration_ms, generated_at
FROM briefs WHERE job_id = $1;`

	row, err := pickRow(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	var (
		b     model.Brief
		typ   string
		durMs int64
	)
	if err := row.Scan(&b.ID, &b.JobID, &b.UserID, &typ, &b.AudioURL, &b.Transcript, &b.WrittenDigest, &b.PolicyAreas, &durMs, &b.GeneratedAt); err != nil {
		if err = translate(err); errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, domain.ErrReadDatabaseRow
	}
	b.Type = model.BriefType(typ)
	b.Duration = time.Duration(durMs) * time.Millisecond
	return &b, nil
}

func (r *briefRepo) ExistsForJob(ctx context.Context, tx repository.Tx, jobID string) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT EXISTS (SELECT 1 FROM briefs WHERE job_id = $1);`, jobID)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
