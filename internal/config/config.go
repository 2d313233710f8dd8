// Package config provides unified configuration for the partitioner and the alarm forwarder.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"gopkg.in/yaml.v3"

	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/pkg/types"
)

// Catalog backends.
const (
	CatalogAthena = "athena"
	CatalogGlue   = "glue"
	CatalogSQLite = "sqlite"
)

// Scanner backends.
const (
	ScannerS3   = "s3"
	ScannerBlob = "blob"
)

// Publisher backends.
const (
	PublisherSNS    = "sns"
	PublisherPubSub = "pubsub"
)

// DefaultOutputLocation asks the partitioner to derive the Athena results bucket
// from the caller's account and region.
const DefaultOutputLocation = "default"

// Config holds the unified configuration.
type Config struct {
	// AWS client configuration
	AWS AWSConfig `json:"aws" yaml:"aws"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`

	// Partitioner configuration
	Partitioner PartitionerConfig `json:"partitioner" yaml:"partitioner"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Forwarder configuration
	Forwarder ForwarderConfig `json:"forwarder" yaml:"forwarder"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	// Region is the AWS region the jobs run in
	Region string `json:"region" yaml:"region"`

	// Profile is the shared config profile (empty = default chain)
	Profile string `json:"profile" yaml:"profile"`

	// Endpoint overrides every service endpoint (LocalStack)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// MaxAttempts is the SDK retryer attempt limit for calls that may retry
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// CallTimeout bounds every single external call
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Format is "json" or "text"
	Format string `json:"format" yaml:"format"`

	// Level is "debug", "info", "warn" or "error"
	Level string `json:"level" yaml:"level"`
}

// PartitionerConfig holds partition synchronizer configuration.
type PartitionerConfig struct {
	// Bucket is the S3 bucket containing the logs
	Bucket string `json:"bucket" yaml:"bucket"`

	// LogPrefix is the key prefix in front of AWSLogs/ (empty or ending in "/")
	LogPrefix string `json:"log_prefix" yaml:"log_prefix"`

	// WindowDays is the number of days (ending today) to partition
	WindowDays int `json:"window_days" yaml:"window_days"`

	// Database is the catalog database
	Database string `json:"database" yaml:"database"`

	// TablePrefix prefixes per-account table names and names the union view
	TablePrefix string `json:"table_prefix" yaml:"table_prefix"`

	// OutputLocation is the Athena results location ("default" derives it)
	OutputLocation string `json:"output_location" yaml:"output_location"`

	// Catalog is the catalog backend: athena, glue, sqlite
	Catalog string `json:"catalog" yaml:"catalog"`

	// SQLitePath is the local catalog file (sqlite backend)
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`

	// Scanner is the storage listing backend: s3, blob
	Scanner string `json:"scanner" yaml:"scanner"`

	// BlobURL is the gocloud bucket URL (blob backend)
	BlobURL string `json:"blob_url" yaml:"blob_url"`

	// Regions pins the region list instead of asking EC2
	Regions []string `json:"regions" yaml:"regions"`

	// Accounts pins the account list instead of discovering AWSLogs/ folders
	Accounts []string `json:"accounts" yaml:"accounts"`

	// ScanConcurrency bounds parallel existence checks
	ScanConcurrency int `json:"scan_concurrency" yaml:"scan_concurrency"`

	// RegisterConcurrency bounds parallel catalog batches
	RegisterConcurrency int `json:"register_concurrency" yaml:"register_concurrency"`

	// BatchSize is the catalog batch cardinality (1-100)
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// QueryTimeout bounds one Athena query from start to final state
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout"`

	// CreateMissingTables allows the partitioner to create account tables
	CreateMissingTables bool `json:"create_missing_tables" yaml:"create_missing_tables"`

	// CreateView maintains the union view named after TablePrefix
	CreateView bool `json:"create_view" yaml:"create_view"`

	// RequireBucketRegion aborts when the bucket lives in another region
	RequireBucketRegion bool `json:"require_bucket_region" yaml:"require_bucket_region"`
}

// MetricsConfig holds monitoring sink configuration.
type MetricsConfig struct {
	// CloudWatchEnabled emits run signals to CloudWatch
	CloudWatchEnabled bool `json:"cloudwatch_enabled" yaml:"cloudwatch_enabled"`

	// Namespace is the CloudWatch namespace and Prometheus namespace
	Namespace string `json:"namespace" yaml:"namespace"`

	// PushgatewayURL pushes run metrics to a Prometheus Pushgateway when set
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url"`

	// Job is the Pushgateway job name
	Job string `json:"job" yaml:"job"`
}

// ForwarderConfig holds alarm forwarder configuration.
type ForwarderConfig struct {
	// Destination is the outbound channel: SNS topic ARN or gocloud topic URL
	Destination string `json:"destination" yaml:"destination"`

	// Publisher is the outbound backend: sns, pubsub
	Publisher string `json:"publisher" yaml:"publisher"`

	// SubscriptionURL is the gocloud subscription to receive from (service mode)
	SubscriptionURL string `json:"subscription_url" yaml:"subscription_url"`

	// HTTPAddr serves the SNS push endpoint, metrics and health
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`

	// GRPCAddr serves the gRPC health service when set
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"`

	// SourceTopicARN restricts HTTP push messages to one topic when set
	SourceTopicARN string `json:"source_topic_arn" yaml:"source_topic_arn"`

	// TrustUnsignedPush accepts HTTP push messages without an SNS signature.
	// Only for endpoints reachable from a trusted network.
	TrustUnsignedPush bool `json:"trust_unsigned_push" yaml:"trust_unsigned_push"`

	// PublishTimeout bounds one outbound publish
	PublishTimeout time.Duration `json:"publish_timeout" yaml:"publish_timeout"`

	// MaxHandlers bounds concurrently processed subscription messages
	MaxHandlers int `json:"max_handlers" yaml:"max_handlers"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AWS: AWSConfig{
			MaxAttempts: 3,
			CallTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Partitioner: PartitionerConfig{
			WindowDays:          1,
			Database:            "default",
			TablePrefix:         "cloudtrail",
			OutputLocation:      DefaultOutputLocation,
			Catalog:             CatalogAthena,
			SQLitePath:          "./data/catalog.db",
			Scanner:             ScannerS3,
			ScanConcurrency:     16,
			RegisterConcurrency: 4,
			BatchSize:           100,
			QueryTimeout:        5 * time.Minute,
			CreateMissingTables: true,
			CreateView:          true,
			RequireBucketRegion: true,
		},
		Metrics: MetricsConfig{
			CloudWatchEnabled: true,
			Namespace:         "cloudtrail_partitioner",
			Job:               "athenasync",
		},
		Forwarder: ForwarderConfig{
			Publisher:      PublisherSNS,
			HTTPAddr:       ":8085",
			PublishTimeout: 10 * time.Second,
			MaxHandlers:    8,
		},
	}
}

// placeholders are values shipped in example configuration files.
var placeholders = []string{"MYBUCKET", "CHANGEME", "TODO", "XXX"}

// documentationAccount is the AWS example account ID used in docs and samples.
const documentationAccount = "123456789012"

// IsPlaceholder reports whether v is an unedited sample value.
func IsPlaceholder(v string) bool {
	trimmed := strings.TrimSpace(v)
	for _, p := range placeholders {
		if strings.EqualFold(trimmed, p) {
			return true
		}
	}
	if strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">") {
		return true
	}
	return strings.Contains(trimmed, ":"+documentationAccount+":")
}

func configError(format string, args ...interface{}) error {
	return apperrors.NewConfigError(apperrors.CodeInvalidConfig, fmt.Sprintf(format, args...))
}

func placeholderError(field, value string) error {
	return apperrors.NewConfigError(apperrors.CodePlaceholder,
		fmt.Sprintf("%s is still set to the placeholder %q; edit the configuration before running", field, value))
}

// Validate validates the settings shared by both jobs.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return configError("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.AWS.CallTimeout <= 0 {
		return configError("aws.call_timeout must be positive, got %v", c.AWS.CallTimeout)
	}
	if c.AWS.MaxAttempts < 1 {
		return configError("aws.max_attempts must be at least 1, got %d", c.AWS.MaxAttempts)
	}
	return nil
}

// ValidatePartitioner validates the configuration for a partitioner run.
func (c *Config) ValidatePartitioner() error {
	if err := c.Validate(); err != nil {
		return err
	}
	p := c.Partitioner

	required := []struct{ field, value string }{
		{"partitioner.bucket", p.Bucket},
		{"partitioner.database", p.Database},
		{"partitioner.table_prefix", p.TablePrefix},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return configError("%s is required", r.field)
		}
		if IsPlaceholder(r.value) {
			return placeholderError(r.field, r.value)
		}
	}
	if IsPlaceholder(p.LogPrefix) {
		return placeholderError("partitioner.log_prefix", p.LogPrefix)
	}
	if p.LogPrefix != "" && !strings.HasSuffix(p.LogPrefix, "/") {
		return configError("partitioner.log_prefix must end with \"/\", got %q", p.LogPrefix)
	}
	if !isIdentifier(p.Database) {
		return configError("partitioner.database must contain only letters, digits and underscores, got %q", p.Database)
	}
	if !isIdentifier(p.TablePrefix) {
		return configError("partitioner.table_prefix must contain only letters, digits and underscores, got %q", p.TablePrefix)
	}
	if p.WindowDays < 1 {
		return configError("partitioner.window_days must be at least 1, got %d", p.WindowDays)
	}
	if p.BatchSize < 1 || p.BatchSize > 100 {
		return configError("partitioner.batch_size must be between 1 and 100, got %d", p.BatchSize)
	}
	if p.ScanConcurrency < 1 {
		return configError("partitioner.scan_concurrency must be at least 1, got %d", p.ScanConcurrency)
	}
	if p.RegisterConcurrency < 1 {
		return configError("partitioner.register_concurrency must be at least 1, got %d", p.RegisterConcurrency)
	}

	switch p.Catalog {
	case CatalogAthena:
		if p.QueryTimeout <= 0 {
			return configError("partitioner.query_timeout must be positive, got %v", p.QueryTimeout)
		}
		if p.OutputLocation == "" {
			return configError("partitioner.output_location is required for the athena catalog")
		}
		if IsPlaceholder(p.OutputLocation) {
			return placeholderError("partitioner.output_location", p.OutputLocation)
		}
	case CatalogGlue:
	case CatalogSQLite:
		if p.SQLitePath == "" {
			return configError("partitioner.sqlite_path is required for the sqlite catalog")
		}
	default:
		return configError("invalid partitioner.catalog: %s (must be athena, glue or sqlite)", p.Catalog)
	}

	switch p.Scanner {
	case ScannerS3:
	case ScannerBlob:
		if p.BlobURL == "" {
			return configError("partitioner.blob_url is required for the blob scanner")
		}
	default:
		return configError("invalid partitioner.scanner: %s (must be s3 or blob)", p.Scanner)
	}

	for _, account := range p.Accounts {
		if !types.IsAccountDir(account) {
			return configError("partitioner.accounts entry %q is not a 12-digit account or o-<org>/<account> path", account)
		}
	}
	if c.Metrics.CloudWatchEnabled && c.Metrics.Namespace == "" {
		return configError("metrics.namespace is required when cloudwatch is enabled")
	}
	return nil
}

// ValidateForwarder validates the configuration for the alarm forwarder.
func (c *Config) ValidateForwarder() error {
	if err := c.Validate(); err != nil {
		return err
	}
	f := c.Forwarder

	if strings.TrimSpace(f.Destination) == "" {
		return configError("forwarder.destination is required")
	}
	if IsPlaceholder(f.Destination) {
		return placeholderError("forwarder.destination", f.Destination)
	}
	switch f.Publisher {
	case PublisherSNS:
		parsed, err := arn.Parse(f.Destination)
		if err != nil {
			return configError("forwarder.destination must be an SNS topic ARN: %v", err)
		}
		if parsed.Service != "sns" {
			return configError("forwarder.destination must be an SNS topic ARN, got service %q", parsed.Service)
		}
	case PublisherPubSub:
		if !strings.Contains(f.Destination, "://") {
			return configError("forwarder.destination must be a topic URL for the pubsub publisher, got %q", f.Destination)
		}
	default:
		return configError("invalid forwarder.publisher: %s (must be sns or pubsub)", f.Publisher)
	}
	if f.SourceTopicARN != "" {
		if IsPlaceholder(f.SourceTopicARN) {
			return placeholderError("forwarder.source_topic_arn", f.SourceTopicARN)
		}
		if !arn.IsARN(f.SourceTopicARN) {
			return configError("forwarder.source_topic_arn is not an ARN: %q", f.SourceTopicARN)
		}
	}
	if f.PublishTimeout <= 0 {
		return configError("forwarder.publish_timeout must be positive, got %v", f.PublishTimeout)
	}
	if f.MaxHandlers < 1 {
		return configError("forwarder.max_handlers must be at least 1, got %d", f.MaxHandlers)
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// The legacy deployment variable names (S3_BUCKET_CONTAINING_LOGS,
// CLOUDTRAIL_PREFIX, ...) are honored; everything else uses the ATHENASYNC_ prefix.
func LoadFromEnv(cfg *Config) error {
	// AWS configuration
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("ATHENASYNC_AWS_PROFILE"); v != "" {
		cfg.AWS.Profile = v
	}
	if v := os.Getenv("ATHENASYNC_AWS_ENDPOINT"); v != "" {
		cfg.AWS.Endpoint = v
	}
	if err := envInt("ATHENASYNC_AWS_MAX_ATTEMPTS", &cfg.AWS.MaxAttempts); err != nil {
		return err
	}
	if err := envDuration("ATHENASYNC_CALL_TIMEOUT", &cfg.AWS.CallTimeout); err != nil {
		return err
	}

	// Log configuration
	if v := os.Getenv("ATHENASYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ATHENASYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	// Partitioner configuration
	if v := os.Getenv("S3_BUCKET_CONTAINING_LOGS"); v != "" {
		cfg.Partitioner.Bucket = v
	}
	if v, ok := os.LookupEnv("CLOUDTRAIL_PREFIX"); ok {
		cfg.Partitioner.LogPrefix = v
	}
	if err := envInt("PARTITION_DAYS", &cfg.Partitioner.WindowDays); err != nil {
		return err
	}
	if v := os.Getenv("OUTPUT_S3_BUCKET"); v != "" {
		cfg.Partitioner.OutputLocation = v
	}
	if v := os.Getenv("DATABASE"); v != "" {
		cfg.Partitioner.Database = v
	}
	if v := os.Getenv("TABLE_PREFIX"); v != "" {
		cfg.Partitioner.TablePrefix = v
	}
	if v := os.Getenv("ATHENASYNC_CATALOG"); v != "" {
		cfg.Partitioner.Catalog = v
	}
	if v := os.Getenv("ATHENASYNC_SQLITE_PATH"); v != "" {
		cfg.Partitioner.SQLitePath = v
	}
	if v := os.Getenv("ATHENASYNC_SCANNER"); v != "" {
		cfg.Partitioner.Scanner = v
	}
	if v := os.Getenv("ATHENASYNC_BLOB_URL"); v != "" {
		cfg.Partitioner.BlobURL = v
	}
	if v := os.Getenv("ATHENASYNC_REGIONS"); v != "" {
		cfg.Partitioner.Regions = splitList(v)
	}
	if v := os.Getenv("ATHENASYNC_ACCOUNTS"); v != "" {
		cfg.Partitioner.Accounts = splitList(v)
	}
	if err := envInt("ATHENASYNC_SCAN_CONCURRENCY", &cfg.Partitioner.ScanConcurrency); err != nil {
		return err
	}
	if err := envInt("ATHENASYNC_REGISTER_CONCURRENCY", &cfg.Partitioner.RegisterConcurrency); err != nil {
		return err
	}
	if err := envInt("ATHENASYNC_BATCH_SIZE", &cfg.Partitioner.BatchSize); err != nil {
		return err
	}
	if err := envDuration("ATHENASYNC_QUERY_TIMEOUT", &cfg.Partitioner.QueryTimeout); err != nil {
		return err
	}
	if v := os.Getenv("ATHENASYNC_CREATE_VIEW"); v != "" {
		cfg.Partitioner.CreateView = v == "true" || v == "1"
	}

	// Metrics configuration
	if v := os.Getenv("ATHENASYNC_CLOUDWATCH_ENABLED"); v != "" {
		cfg.Metrics.CloudWatchEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ATHENASYNC_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}
	if v := os.Getenv("ATHENASYNC_PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}

	// Forwarder configuration
	if v := os.Getenv("ALARM_SNS"); v != "" {
		cfg.Forwarder.Destination = v
	}
	if v := os.Getenv("ATHENASYNC_FORWARDER_PUBLISHER"); v != "" {
		cfg.Forwarder.Publisher = v
	}
	if v := os.Getenv("ATHENASYNC_SUBSCRIPTION_URL"); v != "" {
		cfg.Forwarder.SubscriptionURL = v
	}
	if v := os.Getenv("ATHENASYNC_HTTP_ADDR"); v != "" {
		cfg.Forwarder.HTTPAddr = v
	}
	if v := os.Getenv("ATHENASYNC_GRPC_ADDR"); v != "" {
		cfg.Forwarder.GRPCAddr = v
	}
	if v := os.Getenv("ATHENASYNC_SOURCE_TOPIC_ARN"); v != "" {
		cfg.Forwarder.SourceTopicARN = v
	}
	if err := envDuration("ATHENASYNC_PUBLISH_TIMEOUT", &cfg.Forwarder.PublishTimeout); err != nil {
		return err
	}
	if v := os.Getenv("ATHENASYNC_TRUST_UNSIGNED_PUSH"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			return configError("ATHENASYNC_TRUST_UNSIGNED_PUSH: %v", err)
		}
		cfg.Forwarder.TrustUnsignedPush = trust
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return configError("%s must be an integer, got %q", name, v)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return configError("%s must be a duration, got %q", name, v)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load builds the configuration from defaults, an optional file and the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
