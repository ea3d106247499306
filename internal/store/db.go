package store

import (
	"context"
	"database/sql"
)

// DBTX abstracts the SQL execution surface shared by *sql.DB and
// *sql.Tx. Store implementations accept it so the same code serves
// both direct connections and transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
