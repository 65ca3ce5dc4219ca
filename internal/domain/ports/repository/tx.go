package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres).
// Repositories MUST accept a nil Tx and fall back to the pool.
type Tx interface{}

// NoTX reads as "use the pool" at call sites.
var NoTX Tx

// TransactionManager runs fn inside a database transaction, committing when
// fn returns nil and rolling back otherwise.
//
// The publisher uses it to check for an existing brief and insert the new row
// in one unit, so a redelivered publish message cannot create a second row.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
