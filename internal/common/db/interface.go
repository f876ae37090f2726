package db

import "context"

// Database defines the unified interface for relational database access.
// This abstraction allows swapping MySQL for another driver without
// touching repository code.
type Database interface {
	Querier

	// Transaction executes fn within a database transaction.
	// The transaction is rolled back if fn returns an error.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	// Ping verifies the database connection is alive
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}

// Transaction represents an in-flight database transaction.
type Transaction interface {
	Querier

	Commit() error
	Rollback() error
}

// Querier abstracts query operations shared by Database and Transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
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

// Scanner is the subset of Row and Rows shared by scan helpers.
type Scanner interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
