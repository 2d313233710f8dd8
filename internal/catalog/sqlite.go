package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/pkg/types"
)

// sqliteSchema contains the statements creating the local catalog.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS databases (
    name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS tables (
    database_name TEXT NOT NULL,
    name TEXT NOT NULL,
    location TEXT NOT NULL,
    definition_json TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (database_name, name),
    FOREIGN KEY (database_name) REFERENCES databases(name)
)`,
	`CREATE TABLE IF NOT EXISTS partitions (
    database_name TEXT NOT NULL,
    table_name TEXT NOT NULL,
    region TEXT NOT NULL,
    year TEXT NOT NULL,
    month TEXT NOT NULL,
    day TEXT NOT NULL,
    location TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (database_name, table_name, region, year, month, day)
)`,
	`CREATE TABLE IF NOT EXISTS views (
    database_name TEXT NOT NULL,
    name TEXT NOT NULL,
    view_sql TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (database_name, name)
)`,
}

// SQLiteDriver implements Driver on a local SQLite file. It mirrors the
// catalog semantics for development and tests.
type SQLiteDriver struct {
	db *sql.DB
	mu sync.Mutex // single writer
}

// NewSQLiteDriver opens (and initializes) the catalog at dbPath.
func NewSQLiteDriver(dbPath string) (*SQLiteDriver, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
		}
	}
	return &SQLiteDriver{db: db}, nil
}

// CreateDatabase inserts the database if absent.
func (d *SQLiteDriver) CreateDatabase(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO databases (name, created_at) VALUES (?, ?)", name, time.Now().Unix())
	if err != nil {
		return apperrors.NewCatalogError(apperrors.CodeDatabaseFailed, "sqlite create database "+name, err)
	}
	return nil
}

// TableExists reports whether the table row exists.
func (d *SQLiteDriver) TableExists(ctx context.Context, table Table) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tables WHERE database_name = ? AND name = ?",
		table.Database, table.Name,
	).Scan(&n)
	if err != nil {
		return false, apperrors.NewCatalogError(apperrors.CodeTableFailed, "sqlite look up table "+table.String(), err)
	}
	return n > 0, nil
}

// CreateTable inserts the table if absent.
func (d *SQLiteDriver) CreateTable(ctx context.Context, table Table, def TableDefinition) error {
	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("catalog: failed to marshal table definition: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tables (database_name, name, location, definition_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		table.Database, table.Name, table.Location, string(defJSON), time.Now().Unix())
	if err != nil {
		return apperrors.NewCatalogError(apperrors.CodeTableFailed, "sqlite create table "+table.String(), err)
	}
	return nil
}

// AddPartitions inserts the keys in one transaction with INSERT OR IGNORE;
// ignored rows count as Existing.
func (d *SQLiteDriver) AddPartitions(ctx context.Context, table Table, keys []types.PartitionKey) (*BatchResult, error) {
	res := &BatchResult{Failed: make(map[types.PartitionKey]error)}
	if len(keys) == 0 {
		return res, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.Classify("sqlite begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO partitions (
			database_name, table_name, region, year, month, day, location, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, apperrors.Classify("sqlite prepare", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, key := range keys {
		r, err := stmt.ExecContext(ctx,
			table.Database, table.Name, string(key.Region), key.Year(), key.Month(), key.Day(),
			table.PartitionLocation(key), now)
		if err != nil {
			return nil, apperrors.Classify("sqlite insert partition", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return nil, apperrors.Classify("sqlite insert partition", err)
		}
		if n == 0 {
			res.Existing = append(res.Existing, key)
		} else {
			res.Added = append(res.Added, key)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Classify("sqlite commit", err)
	}
	return res, nil
}

// Partitions returns the registered keys of table, sorted.
func (d *SQLiteDriver) Partitions(ctx context.Context, table Table) ([]types.PartitionKey, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT region, year, month, day FROM partitions
		WHERE database_name = ? AND table_name = ?
		ORDER BY region, year, month, day`,
		table.Database, table.Name)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to query partitions: %w", err)
	}
	defer rows.Close()

	var keys []types.PartitionKey
	for rows.Next() {
		values := make([]string, 4)
		if err := rows.Scan(&values[0], &values[1], &values[2], &values[3]); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan partition: %w", err)
		}
		key, err := types.PartitionKeyFromValues(values)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ReplaceView stores the view statement.
func (d *SQLiteDriver) ReplaceView(ctx context.Context, database, view string, tables []Table) error {
	viewSQL, err := ViewSQL(view, tables)
	if err != nil {
		return apperrors.NewCatalogError(apperrors.CodeViewFailed, err.Error(), nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO views (database_name, name, view_sql, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (database_name, name) DO UPDATE SET view_sql = excluded.view_sql, updated_at = excluded.updated_at`,
		database, view, viewSQL, time.Now().Unix())
	if err != nil {
		return apperrors.NewCatalogError(apperrors.CodeViewFailed, "sqlite replace view "+database+"."+view, err)
	}
	return nil
}

// StoredView returns the stored statement of a view, or "" if absent.
func (d *SQLiteDriver) StoredView(ctx context.Context, database, view string) (string, error) {
	var stmt string
	err := d.db.QueryRowContext(ctx,
		"SELECT view_sql FROM views WHERE database_name = ? AND name = ?", database, view,
	).Scan(&stmt)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return stmt, err
}

// Close closes the database.
func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}
