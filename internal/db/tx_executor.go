package db

import (
	"context"
	"log/slog"
	"math"
	prand "math/rand"
	"time"
)

// txExecutorOptions holds the retry policy of a TransactionExecutor.
type txExecutorOptions struct {
	numRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
}

// defaultTxExecutorOptions returns the retry settings used when none are
// given.
func defaultTxExecutorOptions() *txExecutorOptions {
	return &txExecutorOptions{
		numRetries:        DefaultNumTxRetries,
		initialRetryDelay: DefaultInitialRetryDelay,
		maxRetryDelay:     DefaultMaxRetryDelay,
	}
}

// randRetryDelay returns the delay before retry number attempt: a value in
// 50%-150% of the initial delay, doubled per attempt and capped.
func (t *txExecutorOptions) randRetryDelay(attempt int) time.Duration {
	if t.initialRetryDelay <= 0 {
		return 0
	}

	halfDelay := t.initialRetryDelay / 2
	randDelay := prand.Int63n(int64(t.initialRetryDelay)) //nolint:gosec
	delay := halfDelay + time.Duration(randDelay)

	// The exponent is capped to keep the multiplication from overflowing.
	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	delay *= factor //nolint:durationcheck

	if delay > t.maxRetryDelay || delay <= 0 {
		return t.maxRetryDelay
	}

	return delay
}

// TxExecutorOption tweaks the retry policy of a TransactionExecutor.
type TxExecutorOption func(*txExecutorOptions)

// WithTxRetries sets the number of attempts for retryable errors.
func WithTxRetries(numRetries int) TxExecutorOption {
	return func(o *txExecutorOptions) {
		o.numRetries = numRetries
	}
}

// WithTxRetryDelay sets the initial delay between attempts.
func WithTxRetryDelay(delay time.Duration) TxExecutorOption {
	return func(o *txExecutorOptions) {
		o.initialRetryDelay = delay
	}
}

// TransactionExecutor runs transaction bodies over a query set Query and
// retries them when SQLite reports the database as busy or locked.
type TransactionExecutor[Query any] struct {
	BatchedQuerier

	createQuery QueryCreator[Query]

	opts *txExecutorOptions

	log *slog.Logger
}

// NewTransactionExecutor creates an executor on top of db.
func NewTransactionExecutor[Querier any](db BatchedQuerier,
	createQuery QueryCreator[Querier], log *slog.Logger,
	opts ...TxExecutorOption) *TransactionExecutor[Querier] {

	txOpts := defaultTxExecutorOptions()
	for _, optFunc := range opts {
		optFunc(txOpts)
	}

	return &TransactionExecutor[Querier]{
		BatchedQuerier: db,
		createQuery:    createQuery,
		opts:           txOpts,
		log:            log,
	}
}

// ExecTx runs txBody inside a transaction and commits it. Busy and locked
// errors from any step roll back and retry after a jittered delay; other
// errors are returned mapped through MapSQLError.
//
// NOTE: This implements the BatchedTx interface.
func (t *TransactionExecutor[Q]) ExecTx(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error) error {

	for attempt := 0; attempt < t.opts.numRetries; attempt++ {
		err := t.attempt(ctx, txOptions, txBody)
		if err == nil {
			return nil
		}

		if !IsSerializationOrDeadlockError(err) {
			return err
		}

		delay := t.opts.randRetryDelay(attempt)
		t.log.DebugContext(ctx, "Retrying busy transaction",
			"attempt_number", attempt, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return ErrRetriesExceeded
}

// attempt runs txBody once. The transaction is always rolled back unless
// the commit went through.
func (t *TransactionExecutor[Q]) attempt(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error) error {

	tx, err := t.BeginTx(ctx, txOptions)
	if err != nil {
		return MapSQLError(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := txBody(t.createQuery(tx)); err != nil {
		return MapSQLError(err)
	}

	return MapSQLError(tx.Commit())
}
