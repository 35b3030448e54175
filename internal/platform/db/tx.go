package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrTransactionAborted marks a unit of work that was rolled back by the database.
var ErrTransactionAborted = errors.New("platform/db: transaction aborted")

// TxAbortedError reports a rolled back transaction and whether another attempt could succeed.
type TxAbortedError struct {
	Err       error
	Attempts  int
	Retryable bool
}

func (e *TxAbortedError) Error() string {
	return fmt.Sprintf("platform/db: transaction aborted after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TxAbortedError) Unwrap() []error {
	return []error{ErrTransactionAborted, e.Err}
}

// RetryPolicy bounds how often a transient write conflict is retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	// OnRetry is invoked before every repeated attempt.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy retries serialization failures and deadlocks three times.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 25 * time.Millisecond}

// IsTransient reports whether err is a serialization failure or deadlock.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return true
	}
	return false
}

func isDatabaseError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

// TxRunner executes units of work in RepeatableRead transactions.
type TxRunner struct {
	pool   *pgxpool.Pool
	policy RetryPolicy
}

// NewTxRunner constructs a TxRunner.
func NewTxRunner(pool *pgxpool.Pool, policy RetryPolicy) *TxRunner {
	return &TxRunner{pool: pool, policy: policy}
}

// Run executes fn in a transaction, retrying transient conflicts.
func (r *TxRunner) Run(ctx context.Context, fn func(pgx.Tx) error) error {
	if r == nil || r.pool == nil {
		return errors.New("platform/db: tx runner not initialised")
	}
	return Retry(ctx, r.policy, func() error {
		return WithTx(ctx, r.pool, fn)
	})
}

// Retry runs attempt until it succeeds, fails permanently, or the policy is exhausted.
// Database failures are reported as *TxAbortedError; domain errors pass through untouched.
func Retry(ctx context.Context, policy RetryPolicy, attempt func() error) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var err error
	for i := 1; i <= maxAttempts; i++ {
		err = attempt()
		if err == nil {
			return nil
		}
		if !isDatabaseError(err) && !errors.Is(err, errTxLifecycle) {
			return err
		}
		transient := IsTransient(err)
		if !transient || i == maxAttempts {
			return &TxAbortedError{Err: err, Attempts: i, Retryable: transient}
		}
		if policy.OnRetry != nil {
			policy.OnRetry(i, err)
		}
		if policy.Backoff > 0 {
			select {
			case <-ctx.Done():
				return &TxAbortedError{Err: ctx.Err(), Attempts: i}
			case <-time.After(policy.Backoff * time.Duration(i)):
			}
		}
	}
	return err
}

var errTxLifecycle = errors.New("platform/db: tx lifecycle")

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: begin: %w", errTxLifecycle, err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", errTxLifecycle, err)
	}

	return nil
}
