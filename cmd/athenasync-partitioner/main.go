// Package main implements the athenasync partitioner: one synchronization of
// CloudTrail partitions per invocation, from the command line or as a
// scheduled Lambda function.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/athenasync/athenasync/internal/app"
	"github.com/athenasync/athenasync/internal/config"
	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/internal/logging"
	"github.com/athenasync/athenasync/internal/synchronizer"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFile  string
		profile     string
		region      string
		days        int
		timeout     time.Duration
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&profile, "profile", "", "AWS shared config profile")
	flag.StringVar(&region, "region", "", "AWS region (defaults to the SDK chain)")
	flag.IntVar(&days, "days", 0, "Number of days, ending today, to partition (overrides window_days)")
	flag.DurationVar(&timeout, "timeout", 0, "Abort the run after this long (0 = no limit)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "athenasync-partitioner - registers CloudTrail log partitions in Athena\n\n")
		fmt.Fprintf(os.Stderr, "Usage: athenasync-partitioner [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  S3_BUCKET_CONTAINING_LOGS  Bucket with the CloudTrail logs\n")
		fmt.Fprintf(os.Stderr, "  CLOUDTRAIL_PREFIX          Key prefix in front of AWSLogs/\n")
		fmt.Fprintf(os.Stderr, "  PARTITION_DAYS             Days to partition\n")
		fmt.Fprintf(os.Stderr, "  OUTPUT_S3_BUCKET           Athena results location (\"default\" derives it)\n")
		fmt.Fprintf(os.Stderr, "  DATABASE, TABLE_PREFIX     Catalog database and table prefix\n")
		fmt.Fprintf(os.Stderr, "  ATHENASYNC_*               Any other setting\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("athenasync-partitioner version %s (commit: %s)\n", version, commit)
		return exitOK
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return exitConfigError
	}
	if profile != "" {
		cfg.AWS.Profile = profile
	}
	if region != "" {
		cfg.AWS.Region = region
	}
	if days > 0 {
		cfg.Partitioner.WindowDays = days
	}

	logger := logging.New(os.Stderr, logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
	slog.SetDefault(logger)

	ctx := context.Background()
	awsCfg, err := app.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		log.Printf("AWS configuration: %v", err)
		return exitConfigError
	}

	p, err := app.NewPartitioner(ctx, cfg, app.NewClients(awsCfg, cfg.AWS.Endpoint), logger)
	if err != nil {
		log.Printf("Failed to configure partitioner: %v", err)
		if errors.Is(err, apperrors.ErrConfig) {
			return exitConfigError
		}
		return exitFailure
	}
	defer p.Close()

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		log.Printf("athenasync-partitioner %s starting in Lambda mode", version)
		lambda.Start(func(ctx context.Context, event events.CloudWatchEvent) (*synchronizer.Report, error) {
			rep := p.Run(ctx)
			if rep.Status == synchronizer.StatusFailure {
				return rep, rep.Err()
			}
			return rep, nil
		})
		return exitOK
	}

	log.Printf("athenasync-partitioner %s: bucket=%s database=%s catalog=%s window_days=%d",
		version, cfg.Partitioner.Bucket, cfg.Partitioner.Database, cfg.Partitioner.Catalog, cfg.Partitioner.WindowDays)

	rep := p.RunWithTimeout(ctx, timeout)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(rep)

	return exitCode(rep)
}

// exitCode is 0 for success and partial runs, 2 for configuration problems
// found while running and 1 for every other failure.
func exitCode(rep *synchronizer.Report) int {
	if rep.Status != synchronizer.StatusFailure {
		return exitOK
	}
	if errors.Is(rep.Err(), apperrors.ErrConfig) {
		return exitConfigError
	}
	return exitFailure
}
