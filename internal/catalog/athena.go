package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"

	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/pkg/types"
)

// DataCatalog is the Athena catalog backed by Glue.
const DataCatalog = "AwsDataCatalog"

// AthenaAPI is the subset of the Athena client used by QueryExecutor and AthenaDriver.
type AthenaAPI interface {
	athena.GetQueryResultsAPIClient
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	StopQueryExecution(ctx context.Context, params *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
	GetTableMetadata(ctx context.Context, params *athena.GetTableMetadataInput, optFns ...func(*athena.Options)) (*athena.GetTableMetadataOutput, error)
}

// QueryExecutor runs Athena queries to completion.
type QueryExecutor struct {
	client         AthenaAPI
	outputLocation string
	workGroup      string
	timeout        time.Duration
	pollInterval   time.Duration
	maxPoll        time.Duration
	logger         *slog.Logger
}

// ExecutorConfig holds QueryExecutor settings.
type ExecutorConfig struct {
	// OutputLocation is the s3:// results location
	OutputLocation string
	// WorkGroup is the Athena workgroup (empty = primary)
	WorkGroup string
	// Timeout bounds one query from start to final state
	Timeout time.Duration
	// PollInterval is the first status poll delay; it doubles up to 5s
	PollInterval time.Duration
}

// NewQueryExecutor creates a query executor.
func NewQueryExecutor(client AthenaAPI, cfg ExecutorConfig, logger *slog.Logger) *QueryExecutor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryExecutor{
		client:         client,
		outputLocation: cfg.OutputLocation,
		workGroup:      cfg.WorkGroup,
		timeout:        cfg.Timeout,
		pollInterval:   cfg.PollInterval,
		maxPoll:        5 * time.Second,
		logger:         logger,
	}
}

// Execute runs sql in database ("" for no database context) and waits for it
// to succeed. It returns the query execution ID.
func (q *QueryExecutor) Execute(ctx context.Context, database, sql string) (string, error) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	input := &athena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(q.outputLocation),
		},
	}
	if database != "" {
		input.QueryExecutionContext = &athenatypes.QueryExecutionContext{
			Catalog:  aws.String(DataCatalog),
			Database: aws.String(database),
		}
	}
	if q.workGroup != "" {
		input.WorkGroup = aws.String(q.workGroup)
	}

	out, err := q.client.StartQueryExecution(ctx, input)
	if err != nil {
		return "", apperrors.Classify("athena start query", err)
	}
	id := aws.ToString(out.QueryExecutionId)

	if err := q.wait(ctx, id); err != nil {
		return id, err
	}
	return id, nil
}

// wait polls the query until it reaches a final state.
func (q *QueryExecutor) wait(ctx context.Context, id string) error {
	delay := q.pollInterval
	for {
		out, err := q.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(id),
		})
		if err != nil {
			if ctx.Err() != nil {
				q.stop(id)
			}
			return apperrors.Classify("athena query "+id, err)
		}

		var state athenatypes.QueryExecutionState
		var reason string
		if qe := out.QueryExecution; qe != nil && qe.Status != nil {
			state = qe.Status.State
			reason = aws.ToString(qe.Status.StateChangeReason)
		}

		switch state {
		case athenatypes.QueryExecutionStateSucceeded:
			return nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return apperrors.NewCatalogError(apperrors.CodeQueryFailed,
				fmt.Sprintf("athena query %s entered state %s: %s", id, state, reason), nil)
		}

		q.logger.Debug("waiting for athena query", "query_id", id, "state", state, "delay", delay)
		select {
		case <-ctx.Done():
			q.stop(id)
			return apperrors.Classify("athena query "+id, ctx.Err())
		case <-time.After(delay):
		}
		if delay *= 2; delay > q.maxPoll {
			delay = q.maxPoll
		}
	}
}

// stop cancels an abandoned query on a fresh context.
func (q *QueryExecutor) stop(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := q.client.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{QueryExecutionId: aws.String(id)}); err != nil {
		q.logger.Warn("failed to stop athena query", "query_id", id, "error", err)
	}
}

// Query executes sql and returns every result row as strings.
func (q *QueryExecutor) Query(ctx context.Context, database, sql string) ([][]string, error) {
	id, err := q.Execute(ctx, database, sql)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	paginator := athena.NewGetQueryResultsPaginator(q.client, &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(id),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, apperrors.Classify("athena query results "+id, err)
		}
		if page.ResultSet == nil {
			continue
		}
		for _, row := range page.ResultSet.Rows {
			values := make([]string, len(row.Data))
			for i, d := range row.Data {
				values[i] = aws.ToString(d.VarCharValue)
			}
			rows = append(rows, values)
		}
	}
	return rows, nil
}

// AthenaDriver implements Driver with Athena DDL statements.
type AthenaDriver struct {
	exec   *QueryExecutor
	logger *slog.Logger
}

// NewAthenaDriver creates an Athena driver.
func NewAthenaDriver(exec *QueryExecutor, logger *slog.Logger) *AthenaDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &AthenaDriver{exec: exec, logger: logger}
}

// CreateDatabase runs CREATE DATABASE IF NOT EXISTS.
func (d *AthenaDriver) CreateDatabase(ctx context.Context, name string) error {
	_, err := d.exec.Execute(ctx, "", "CREATE DATABASE IF NOT EXISTS "+quoteIdent(name))
	return err
}

// TableExists asks Athena for the table metadata.
func (d *AthenaDriver) TableExists(ctx context.Context, table Table) (bool, error) {
	_, err := d.exec.client.GetTableMetadata(ctx, &athena.GetTableMetadataInput{
		CatalogName:  aws.String(DataCatalog),
		DatabaseName: aws.String(table.Database),
		TableName:    aws.String(table.Name),
	})
	if err == nil {
		return true, nil
	}
	var metaErr *athenatypes.MetadataException
	if errors.As(err, &metaErr) {
		return false, nil
	}
	return false, apperrors.Classify("athena get table metadata "+table.String(), err)
}

// CreateTable runs CREATE EXTERNAL TABLE IF NOT EXISTS.
func (d *AthenaDriver) CreateTable(ctx context.Context, table Table, def TableDefinition) error {
	_, err := d.exec.Execute(ctx, table.Database, CreateTableSQL(table, def))
	return err
}

// ExistingPartitions lists the registered partitions with SHOW PARTITIONS.
// Rows that do not parse as partition keys are ignored.
func (d *AthenaDriver) ExistingPartitions(ctx context.Context, table Table) (map[types.PartitionKey]bool, error) {
	rows, err := d.exec.Query(ctx, table.Database, "SHOW PARTITIONS "+quoteIdent(table.Name))
	if err != nil {
		return nil, err
	}
	existing := make(map[types.PartitionKey]bool, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		key, err := types.ParsePartitionKey(row[0])
		if err != nil {
			continue
		}
		existing[key] = true
	}
	return existing, nil
}

// AddPartitions registers the keys missing from SHOW PARTITIONS with one
// ALTER TABLE statement. If the statement fails, each key is retried alone so
// one bad partition does not fail its neighbours.
func (d *AthenaDriver) AddPartitions(ctx context.Context, table Table, keys []types.PartitionKey) (*BatchResult, error) {
	res := &BatchResult{Failed: make(map[types.PartitionKey]error)}
	if len(keys) == 0 {
		return res, nil
	}

	existing, err := d.ExistingPartitions(ctx, table)
	if err != nil {
		return nil, err
	}
	var missing []types.PartitionKey
	for _, key := range keys {
		if existing[key] {
			res.Existing = append(res.Existing, key)
		} else {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return res, nil
	}

	_, err = d.exec.Execute(ctx, table.Database, AddPartitionsSQL(table, missing))
	if err == nil {
		res.Added = append(res.Added, missing...)
		return res, nil
	}
	if len(missing) == 1 || apperrors.IsFatal(err) || ctx.Err() != nil {
		return nil, err
	}

	d.logger.Warn("batch partition statement failed, retrying per partition",
		"table", table.String(), "size", len(missing), "error", err)
	for _, key := range missing {
		if _, kerr := d.exec.Execute(ctx, table.Database, AddPartitionsSQL(table, []types.PartitionKey{key})); kerr != nil {
			res.Failed[key] = kerr
			continue
		}
		res.Added = append(res.Added, key)
	}
	return res, nil
}

// ReplaceView runs CREATE OR REPLACE VIEW over the tables.
func (d *AthenaDriver) ReplaceView(ctx context.Context, database, view string, tables []Table) error {
	sql, err := ViewSQL(view, tables)
	if err != nil {
		return apperrors.NewCatalogError(apperrors.CodeViewFailed, err.Error(), nil)
	}
	_, err = d.exec.Execute(ctx, database, sql)
	return err
}

// Close is a no-op.
func (d *AthenaDriver) Close() error {
	return nil
}
