package db

import "context"

// Querier is the common query surface shared by a Database and an open
// Transaction, so repositories can run the same statements inside or
// outside a transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Database abstracts the relational store used by the repositories.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction, committing on nil and
	// rolling back on error.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Transaction is an open database transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows is the result of a query returning multiple rows.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is the result of a query returning at most one row.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
