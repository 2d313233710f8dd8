package storage

import (
	"context"
	"fmt"

	apperrors "github.com/athenasync/athenasync/internal/errors"
)

// BucketLocator reports the region a bucket lives in.
type BucketLocator interface {
	BucketRegion(ctx context.Context) (string, error)
}

// CheckBucketRegion fails with a config error when the bucket is not in region.
// Athena cannot query a bucket in another region without cross-region setup.
func CheckBucketRegion(ctx context.Context, l BucketLocator, region string) error {
	got, err := l.BucketRegion(ctx)
	if err != nil {
		return err
	}
	if got != region {
		return apperrors.NewConfigError(apperrors.CodeRegionMismatch,
			fmt.Sprintf("log bucket is in %s but the partitioner runs in %s; deploy it in the bucket's region", got, region))
	}
	return nil
}

// CheckLayout verifies that <logPrefix>AWSLogs/ holds at least one object.
func CheckLayout(ctx context.Context, s Scanner, logPrefix string) error {
	ok, err := Exists(ctx, s, logPrefix+LogsDir)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewConfigError(apperrors.CodeLayoutMismatch,
			fmt.Sprintf("no objects under %q; check log_prefix (it must point at the folder containing AWSLogs/)", logPrefix+LogsDir))
	}
	return nil
}
