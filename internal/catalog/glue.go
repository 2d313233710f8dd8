package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"

	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/pkg/types"
)

// GlueAPI is the subset of the Glue client used by GlueDriver.
type GlueAPI interface {
	CreateDatabase(ctx context.Context, params *glue.CreateDatabaseInput, optFns ...func(*glue.Options)) (*glue.CreateDatabaseOutput, error)
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
	CreateTable(ctx context.Context, params *glue.CreateTableInput, optFns ...func(*glue.Options)) (*glue.CreateTableOutput, error)
	BatchCreatePartition(ctx context.Context, params *glue.BatchCreatePartitionInput, optFns ...func(*glue.Options)) (*glue.BatchCreatePartitionOutput, error)
}

// ViewReplacer maintains views for drivers that cannot express them natively.
type ViewReplacer interface {
	ReplaceView(ctx context.Context, database, view string, tables []Table) error
}

// GlueDriver implements Driver with the Glue Data Catalog API.
type GlueDriver struct {
	client GlueAPI
	views  ViewReplacer
	logger *slog.Logger
}

// NewGlueDriver creates a Glue driver. Glue views need Trino view text, so
// ReplaceView is delegated to views (typically an AthenaDriver); with a nil
// views the view step is skipped.
func NewGlueDriver(client GlueAPI, views ViewReplacer, logger *slog.Logger) *GlueDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &GlueDriver{client: client, views: views, logger: logger}
}

// CreateDatabase creates the database, treating AlreadyExists as success.
func (d *GlueDriver) CreateDatabase(ctx context.Context, name string) error {
	_, err := d.client.CreateDatabase(ctx, &glue.CreateDatabaseInput{
		DatabaseInput: &gluetypes.DatabaseInput{Name: aws.String(name)},
	})
	var exists *gluetypes.AlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return apperrors.Classify("glue create database "+name, err)
	}
	return nil
}

// TableExists looks the table up with GetTable.
func (d *GlueDriver) TableExists(ctx context.Context, table Table) (bool, error) {
	_, err := d.client.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(table.Database),
		Name:         aws.String(table.Name),
	})
	if err == nil {
		return true, nil
	}
	var notFound *gluetypes.EntityNotFoundException
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, apperrors.Classify("glue get table "+table.String(), err)
}

// CreateTable creates an external table, treating AlreadyExists as success.
func (d *GlueDriver) CreateTable(ctx context.Context, table Table, def TableDefinition) error {
	_, err := d.client.CreateTable(ctx, &glue.CreateTableInput{
		DatabaseName: aws.String(table.Database),
		TableInput: &gluetypes.TableInput{
			Name:              aws.String(table.Name),
			TableType:         aws.String("EXTERNAL_TABLE"),
			Parameters:        withExternal(def.Parameters),
			PartitionKeys:     glueColumns(def.Schema.PartitionColumns),
			StorageDescriptor: d.storageDescriptor(table.Location, def),
		},
	})
	var exists *gluetypes.AlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return apperrors.Classify("glue create table "+table.String(), err)
	}
	return nil
}

// AddPartitions sends one BatchCreatePartition call. Per-partition
// AlreadyExists errors count as Existing.
func (d *GlueDriver) AddPartitions(ctx context.Context, table Table, keys []types.PartitionKey) (*BatchResult, error) {
	if len(keys) > MaxBatchSize {
		return nil, fmt.Errorf("glue: batch of %d exceeds %d partitions", len(keys), MaxBatchSize)
	}
	res := &BatchResult{Failed: make(map[types.PartitionKey]error)}
	if len(keys) == 0 {
		return res, nil
	}

	inputs := make([]gluetypes.PartitionInput, len(keys))
	byValues := make(map[string]types.PartitionKey, len(keys))
	for i, key := range keys {
		values := key.Values()
		inputs[i] = gluetypes.PartitionInput{
			Values: values,
			StorageDescriptor: &gluetypes.StorageDescriptor{
				Location:     aws.String(table.PartitionLocation(key)),
				InputFormat:  aws.String(CloudTrailInputFormat),
				OutputFormat: aws.String(CloudTrailOutputFormat),
				SerdeInfo: &gluetypes.SerDeInfo{
					SerializationLibrary: aws.String(CloudTrailSerDe),
				},
			},
		}
		byValues[strings.Join(values, "/")] = key
	}

	out, err := d.client.BatchCreatePartition(ctx, &glue.BatchCreatePartitionInput{
		DatabaseName:       aws.String(table.Database),
		TableName:          aws.String(table.Name),
		PartitionInputList: inputs,
	})
	if err != nil {
		return nil, apperrors.Classify("glue batch create partition "+table.String(), err)
	}

	failed := make(map[types.PartitionKey]bool)
	for _, perr := range out.Errors {
		key, ok := byValues[strings.Join(perr.PartitionValues, "/")]
		if !ok {
			d.logger.Warn("glue returned an error for an unknown partition", "values", perr.PartitionValues)
			continue
		}
		failed[key] = true
		code, msg := "", ""
		if perr.ErrorDetail != nil {
			code = aws.ToString(perr.ErrorDetail.ErrorCode)
			msg = aws.ToString(perr.ErrorDetail.ErrorMessage)
		}
		if code == "AlreadyExistsException" {
			res.Existing = append(res.Existing, key)
			continue
		}
		res.Failed[key] = apperrors.NewCatalogError(apperrors.CodeRegistrationFailed,
			fmt.Sprintf("glue rejected partition %s: %s %s", key, code, msg), nil)
	}
	for _, key := range keys {
		if !failed[key] {
			res.Added = append(res.Added, key)
		}
	}
	return res, nil
}

// ReplaceView delegates to the configured ViewReplacer.
func (d *GlueDriver) ReplaceView(ctx context.Context, database, view string, tables []Table) error {
	if d.views == nil {
		d.logger.Info("no view executor configured, skipping view", "view", database+"."+view)
		return nil
	}
	return d.views.ReplaceView(ctx, database, view, tables)
}

// Close is a no-op.
func (d *GlueDriver) Close() error {
	return nil
}

func (d *GlueDriver) storageDescriptor(location string, def TableDefinition) *gluetypes.StorageDescriptor {
	return &gluetypes.StorageDescriptor{
		Columns:      glueColumns(def.Schema.Columns),
		Location:     aws.String(location),
		InputFormat:  aws.String(def.InputFormat),
		OutputFormat: aws.String(def.OutputFormat),
		SerdeInfo: &gluetypes.SerDeInfo{
			SerializationLibrary: aws.String(def.SerDe),
		},
	}
}

func glueColumns(cols []types.ColumnDef) []gluetypes.Column {
	out := make([]gluetypes.Column, len(cols))
	for i, c := range cols {
		out[i] = gluetypes.Column{Name: aws.String(c.Name), Type: aws.String(c.Type)}
		if c.Comment != "" {
			out[i].Comment = aws.String(c.Comment)
		}
	}
	return out
}

func withExternal(params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["EXTERNAL"] = "TRUE"
	return out
}
