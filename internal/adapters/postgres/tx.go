package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// contextKey is a type for transaction context keys
type contextKey string

const txKey contextKey = "pgx_tx"

// querier is the subset of pgx both pools and transactions satisfy
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetTx returns the transaction bound to the context, or nil
func GetTx(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey).(querier); ok {
		return tx
	}
	return nil
}

// GetConn returns the transaction from the context when one is open,
// otherwise the pool itself.
func GetConn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := GetTx(ctx); tx != nil {
		return tx
	}
	return pool
}

// WithTransaction runs fn inside a transaction. A nested call reuses the
// transaction already on the context; an error from fn rolls back.
func WithTransaction(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) (err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if GetTx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey, tx)

	defer func() {
		if r := recover(); r != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("panic recovered: %v, rollback error: %w", r, rbErr)
			} else {
				err = fmt.Errorf("panic recovered in transaction: %v", r)
			}
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	return tx.Commit(ctx)
}
