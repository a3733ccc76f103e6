package postgres

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// TxManager opens transactions and stores them in the context so that
// repositories called with that context share the same connection.
type TxManager struct {
	db *sqlx.DB
}

func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// InTx runs fn inside a transaction. When ctx already carries one, fn joins
// it and the outermost caller decides commit or rollback.
func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		if rErr := tx.Rollback(); rErr != nil {
			return errors.Join(err, rErr)
		}
		return err
	}
	return tx.Commit()
}

func txFromContext(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx, ok && tx != nil
}

type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// conn returns the transaction from ctx or falls back to the pool.
func conn(ctx context.Context, db *sqlx.DB) queryer {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return db
}
