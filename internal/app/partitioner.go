package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/athenasync/athenasync/internal/catalog"
	"github.com/athenasync/athenasync/internal/config"
	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/internal/metrics"
	"github.com/athenasync/athenasync/internal/partition"
	"github.com/athenasync/athenasync/internal/regions"
	"github.com/athenasync/athenasync/internal/storage"
	"github.com/athenasync/athenasync/internal/synchronizer"
)

// Partitioner is a configured partition synchronizer with the resources it owns.
type Partitioner struct {
	sync    *synchronizer.Synchronizer
	closers []io.Closer
	logger  *slog.Logger
}

// NewPartitioner builds the synchronizer described by cfg. clients may be
// nil when cfg selects only local backends (blob scanner, static regions,
// sqlite catalog, no CloudWatch).
func NewPartitioner(ctx context.Context, cfg *config.Config, clients *Clients, logger *slog.Logger) (*Partitioner, error) {
	if err := cfg.ValidatePartitioner(); err != nil {
		return nil, err
	}
	if clients == nil {
		clients = &Clients{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	pc := cfg.Partitioner
	p := &Partitioner{logger: logger}

	region := clients.Region
	if region == "" {
		region = cfg.AWS.Region
	}
	identity := logIdentity(ctx, clients.STS, logger)

	deps := synchronizer.Dependencies{
		Logger:     logger.With("component", "synchronizer"),
		Definition: catalog.CloudTrailDefinition(),
	}

	// Regions
	if len(pc.Regions) > 0 {
		deps.Regions = regions.NewStaticEnumerator(pc.Regions)
	} else {
		if clients.EC2 == nil {
			return nil, missingClient("ec2", "partitioner.regions")
		}
		deps.Regions = regions.NewEC2Enumerator(clients.EC2, cfg.AWS.CallTimeout)
	}

	// Storage
	switch pc.Scanner {
	case config.ScannerS3:
		if clients.S3 == nil {
			return nil, missingClient("s3", "partitioner.scanner")
		}
		s3Scanner := storage.NewS3Scanner(clients.S3, pc.Bucket, cfg.AWS.CallTimeout)
		deps.Scanner = s3Scanner
		deps.Locator = s3Scanner
	case config.ScannerBlob:
		blobScanner, err := storage.OpenBlobScanner(ctx, pc.BlobURL, cfg.AWS.CallTimeout)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, blobScanner)
		deps.Scanner = blobScanner
	}
	deps.Planner = partition.NewPlanner(deps.Scanner, pc.ScanConcurrency, logger.With("component", "planner"))

	// Catalog
	driver, err := p.newDriver(cfg, clients, identity, region)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.closers = append(p.closers, driver)

	callTimeout := cfg.AWS.CallTimeout
	if pc.Catalog != config.CatalogSQLite && pc.QueryTimeout > callTimeout {
		callTimeout = pc.QueryTimeout
	}
	deps.Reconciler = catalog.NewReconciler(driver, catalog.Options{
		BatchSize:           pc.BatchSize,
		Concurrency:         pc.RegisterConcurrency,
		CallTimeout:         callTimeout,
		CreateMissingTables: pc.CreateMissingTables,
	}, logger.With("component", "catalog"))

	// Monitoring
	deps.Sink = newSink(cfg, clients)

	p.sync = synchronizer.New(synchronizer.Options{
		StorageRoot:         pc.Bucket,
		LogPrefix:           pc.LogPrefix,
		WindowDays:          pc.WindowDays,
		CatalogDatabase:     pc.Database,
		CatalogTablePrefix:  pc.TablePrefix,
		Accounts:            pc.Accounts,
		Region:              region,
		RequireBucketRegion: pc.RequireBucketRegion,
		CreateView:          pc.CreateView,
		EmitTimeout:         cfg.AWS.CallTimeout,
	}, deps)

	logger.Info("partitioner configured",
		"bucket", pc.Bucket, "catalog", pc.Catalog, "scanner", pc.Scanner,
		"database", pc.Database, "region", region, "window_days", pc.WindowDays)
	return p, nil
}

func (p *Partitioner) newDriver(cfg *config.Config, clients *Clients, identity *Identity, region string) (catalog.Driver, error) {
	pc := cfg.Partitioner

	athenaDriver := func() (*catalog.AthenaDriver, error) {
		if clients.Athena == nil {
			return nil, missingClient("athena", "partitioner.catalog")
		}
		output, err := resolveOutputLocation(pc.OutputLocation, identity, region)
		if err != nil {
			return nil, err
		}
		exec := catalog.NewQueryExecutor(clients.Athena, catalog.ExecutorConfig{
			OutputLocation: output,
			Timeout:        pc.QueryTimeout,
		}, p.logger.With("component", "athena"))
		return catalog.NewAthenaDriver(exec, p.logger.With("component", "athena")), nil
	}

	switch pc.Catalog {
	case config.CatalogAthena:
		d, err := athenaDriver()
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.CatalogGlue:
		if clients.Glue == nil {
			return nil, missingClient("glue", "partitioner.catalog")
		}
		var views catalog.ViewReplacer
		if pc.CreateView {
			d, err := athenaDriver()
			if err != nil {
				return nil, err
			}
			views = d
		}
		return catalog.NewGlueDriver(clients.Glue, views, p.logger.With("component", "glue")), nil
	case config.CatalogSQLite:
		if err := os.MkdirAll(filepath.Dir(pc.SQLitePath), 0755); err != nil {
			return nil, apperrors.NewConfigError(apperrors.CodeInvalidConfig, "create sqlite directory: "+err.Error())
		}
		d, err := catalog.NewSQLiteDriver(pc.SQLitePath)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, apperrors.NewConfigError(apperrors.CodeInvalidConfig, "invalid partitioner.catalog: "+pc.Catalog)
}

func newSink(cfg *config.Config, clients *Clients) metrics.Sink {
	var sinks metrics.Multi
	if cfg.Metrics.CloudWatchEnabled && clients.CloudWatch != nil {
		sinks = append(sinks, metrics.NewCloudWatchSink(clients.CloudWatch, cfg.Metrics.Namespace, cfg.AWS.CallTimeout))
	}
	if cfg.Metrics.PushgatewayURL != "" {
		sinks = append(sinks, metrics.NewPushSink(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, cfg.Metrics.Namespace,
			map[string]string{"bucket": cfg.Partitioner.Bucket}))
	}
	if len(sinks) == 0 {
		return metrics.Nop{}
	}
	return sinks
}

// Run performs one synchronization.
func (p *Partitioner) Run(ctx context.Context) *synchronizer.Report {
	return p.sync.Run(ctx)
}

// RunWithTimeout performs one synchronization bounded by timeout (0 = none).
func (p *Partitioner) RunWithTimeout(ctx context.Context, timeout time.Duration) *synchronizer.Report {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.Run(ctx)
}

// Close releases the scanner and catalog resources.
func (p *Partitioner) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func missingClient(service, field string) error {
	return apperrors.NewConfigError(apperrors.CodeInvalidConfig,
		"no "+service+" client available for the configured "+field)
}
