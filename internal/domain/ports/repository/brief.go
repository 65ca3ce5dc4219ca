package repository

import (
	"context"
	"time"

	"policy-brief-pipeline/internal/domain/model"
)

type BriefRepository interface {
	// Insert stores the brief unless one already exists for brief.JobID.
	// It reports whether a row was written.
	Insert(ctx context.Context, tx Tx, brief *model.Brief) (bool, error)
	FindByJobID(ctx context.Context, tx Tx, jobID string) (*model.Brief, error)
	ExistsForJob(ctx context.Context, tx Tx, jobID string) (bool, error)
}

type BillRepository interface {
	// FindRecent returns bills whose policy area matches one of areas
	// (case-insensitive) introduced within the window, highest impact first.
	FindRecent(ctx context.Context, tx Tx, areas []string, since time.Time, limit int) ([]model.Bill, error)
}

type SubscriberRepository interface {
	ListEligible(ctx context.Context, tx Tx, briefType model.BriefType, offset, limit int) ([]*model.Subscriber, error)
}
