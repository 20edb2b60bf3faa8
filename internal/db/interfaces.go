package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/roasbeef/draftsync/internal/db/queries"
)

const (
	// DefaultNumTxRetries bounds how often a transaction failing with a
	// busy or locked error is attempted.
	DefaultNumTxRetries = 10

	// DefaultInitialRetryDelay is the base of the jittered exponential
	// delay between attempts. The first delay is drawn from 50%-150% of
	// it.
	DefaultInitialRetryDelay = 40 * time.Millisecond

	// DefaultMaxRetryDelay caps the delay between attempts.
	DefaultMaxRetryDelay = 3 * time.Second
)

// TxOptions selects the kind of transaction to open.
type TxOptions interface {
	// ReadOnly reports whether the transaction only reads.
	ReadOnly() bool
}

// BaseTxOptions is the TxOptions implementation used by the stores.
type BaseTxOptions struct {
	readOnly bool
}

// ReadOnly reports whether the transaction only reads.
//
// NOTE: This implements the TxOptions interface.
func (o *BaseTxOptions) ReadOnly() bool {
	return o.readOnly
}

// ReadTxOption returns options for a read-only transaction.
func ReadTxOption() *BaseTxOptions {
	return &BaseTxOptions{readOnly: true}
}

// WriteTxOption returns options for a read-write transaction.
func WriteTxOption() *BaseTxOptions {
	return &BaseTxOptions{}
}

// BatchedTx runs several operations of a storage interface Q in a single
// atomic transaction. Q is usually a subset of queries.Querier.
type BatchedTx[Q any] interface {
	ExecTx(ctx context.Context, txOptions TxOptions,
		txBody func(Q) error) error
}

// QueryCreator binds a query set to an open transaction.
type QueryCreator[Q any] func(*sql.Tx) Q

// BatchedQuerier can run single statements and open transactions.
type BatchedQuerier interface {
	queries.Querier

	// BeginTx opens a transaction with the given options.
	BeginTx(ctx context.Context, options TxOptions) (*sql.Tx, error)
}

// BaseDB pairs a connection with the queries running on it.
type BaseDB struct {
	*sql.DB

	*queries.Queries
}

// NewBaseDB wraps db.
func NewBaseDB(db *sql.DB) *BaseDB {
	return &BaseDB{
		DB:      db,
		Queries: queries.New(db),
	}
}

// BeginTx maps TxOptions onto sql.TxOptions.
func (s *BaseDB) BeginTx(ctx context.Context,
	opts TxOptions) (*sql.Tx, error) {

	return s.DB.BeginTx(ctx, &sql.TxOptions{
		ReadOnly: opts.ReadOnly(),
	})
}

// NewQueryCreator returns the QueryCreator for the full query set.
func NewQueryCreator() QueryCreator[*queries.Queries] {
	return func(tx *sql.Tx) *queries.Queries {
		return queries.New(tx)
	}
}
