package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	// DBTxKey carries an in-flight pgx.Tx, set by Repository.RunInTransaction
	// so nested repository/search calls reuse the caller's transaction
	// instead of acquiring a fresh pool connection.
	DBTxKey contextKey = "db_tx"
	// DBConnKey carries a checked-out *pgxpool.Conn, set by a caller that
	// wants every transaction within a request to share one connection.
	DBConnKey contextKey = "db_conn"
)

// TxFromContext retrieves the active transaction from ctx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// ConnFromContext retrieves a checked-out pool connection from ctx, if any.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// WithTx returns a context carrying tx, so calls made with it reuse the
// same transaction instead of acquiring a new connection.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}
