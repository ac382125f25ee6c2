package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"planscheduler/config"
)

// DB represents the database connection
type DB struct {
	conn *sql.DB
	path string
}

// singleton instance
var instance *DB

// GetDB returns the database instance, creating it if necessary
func GetDB() (*DB, error) {
	if instance != nil {
		return instance, nil
	}

	db, err := Open(config.Get().DBPath)
	if err != nil {
		return nil, err
	}

	instance = db
	return instance, nil
}

// Open opens a database at the given path and runs migrations.
// An empty path opens an in-memory database.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, NewConfigurationError(serr.Wrap(err, "failed to open database"), "store open")
	}

	if err := conn.Ping(); err != nil {
		return nil, NewConfigurationError(serr.Wrap(err, "failed to ping database"), "store connectivity")
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	logger.Info("Database connected", "path", path)

	if err := db.Migrate(); err != nil {
		return nil, NewConfigurationError(serr.Wrap(err, "failed to run migrations"), "store schema")
	}

	return db, nil
}

// Conn returns the underlying database connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Transaction executes a function within a database transaction
func (db *DB) Transaction(fn func(*sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return serr.Wrap(err, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // re-throw panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return serr.Wrap(err, "failed to commit transaction")
	}

	return nil
}

const txRetryMaxElapsed = 10 * time.Second

func newTxRetryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = txRetryMaxElapsed
	return bo
}

// isTxConflict reports whether err is an optimistic-concurrency conflict
// from a concurrent write transaction touching the same rows.
func isTxConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "write-write conflict") {
		return true
	}
	if strings.Contains(errStr, "transactioncontext") && strings.Contains(errStr, "conflict") {
		return true
	}
	return false
}

// TransactionWithRetry runs fn in a transaction, retrying the whole closure
// with exponential backoff when the commit loses an optimistic-concurrency
// race. fn must be side-effect-free apart from its statements on the tx so
// a retried attempt observes fresh state and never double-applies.
func (db *DB) TransactionWithRetry(fn func(*sql.Tx) error) error {
	return backoff.Retry(func() error {
		err := db.Transaction(fn)
		if err != nil && isTxConflict(err) {
			logger.Debug("Transaction conflict, retrying")
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, newTxRetryBackoff())
}

// Query executes a query that returns rows
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, serr.Wrap(err, fmt.Sprintf("query failed: %s", query))
	}
	return rows, nil
}

// QueryRow executes a query that returns a single row
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// Exec executes a query that doesn't return rows
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return nil, serr.Wrap(err, fmt.Sprintf("exec failed: %s", query))
	}
	return result, nil
}
