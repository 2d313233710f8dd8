// Package catalog registers partitions in a table catalog (Glue, Athena, SQLite).
package catalog

import (
	"context"
	"fmt"

	"github.com/athenasync/athenasync/internal/partition"
	"github.com/athenasync/athenasync/pkg/types"
)

// MaxBatchSize is the largest number of partitions sent in one catalog call
// (the Glue BatchCreatePartition limit).
const MaxBatchSize = 100

// Table identifies an external table and its storage root.
type Table struct {
	// Database is the catalog database
	Database string

	// Name is the table name
	Name string

	// Location is the table root, e.g. s3://bucket/AWSLogs/<account>/CloudTrail/
	Location string
}

// String returns "database.name".
func (t Table) String() string {
	return t.Database + "." + t.Name
}

// PartitionLocation returns the storage location of one partition of the table.
func (t Table) PartitionLocation(key types.PartitionKey) string {
	return partition.Location(t.Location, key)
}

// TableDefinition describes how a missing table is created.
type TableDefinition struct {
	// Schema holds the data and partition columns
	Schema types.Schema

	// SerDe is the serialization library class
	SerDe string

	// InputFormat is the Hadoop input format class
	InputFormat string

	// OutputFormat is the Hadoop output format class
	OutputFormat string

	// Parameters are extra table properties
	Parameters map[string]string
}

// BatchResult is the per-key outcome of one driver batch.
type BatchResult struct {
	Added    []types.PartitionKey
	Existing []types.PartitionKey
	Failed   map[types.PartitionKey]error
}

// Driver is the catalog backend port. Every method must be idempotent.
type Driver interface {
	// CreateDatabase creates the database if it does not exist.
	CreateDatabase(ctx context.Context, name string) error

	// TableExists reports whether the table is present.
	TableExists(ctx context.Context, table Table) (bool, error)

	// CreateTable creates the table if it does not exist.
	CreateTable(ctx context.Context, table Table, def TableDefinition) error

	// AddPartitions registers at most MaxBatchSize keys. Keys already present are
	// reported as Existing. A returned error applies to every key of the batch.
	AddPartitions(ctx context.Context, table Table, keys []types.PartitionKey) (*BatchResult, error)

	// ReplaceView creates or replaces a view selecting the union of tables.
	ReplaceView(ctx context.Context, database, view string, tables []Table) error

	// Close releases driver resources.
	Close() error
}

// ViewSQL returns the union view statement over tables. Views are Trino SQL,
// so identifiers take double quotes rather than the backticks of Hive DDL.
func ViewSQL(view string, tables []Table) (string, error) {
	if len(tables) == 0 {
		return "", fmt.Errorf("view %s needs at least one table", view)
	}
	sql := "CREATE OR REPLACE VIEW " + quoteViewIdent(view) + " AS "
	for i, t := range tables {
		if i > 0 {
			sql += " UNION ALL "
		}
		sql += "SELECT * FROM " + quoteViewIdent(t.Name)
	}
	return sql, nil
}

func quoteIdent(name string) string {
	return "`" + name + "`"
}

func quoteViewIdent(name string) string {
	return `"` + name + `"`
}
