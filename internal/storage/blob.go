package storage

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/url"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local directory driver
	_ "gocloud.dev/blob/memblob"  // in-memory driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"

	apperrors "github.com/athenasync/athenasync/internal/errors"
)

// BlobScanner implements Scanner over a gocloud.dev bucket.
type BlobScanner struct {
	bucket      *blob.Bucket
	pageTimeout time.Duration
	owned       bool
}

// OpenBlobScanner opens a bucket URL such as s3://bucket?region=us-east-1,
// file:///var/logs or mem://.
func OpenBlobScanner(ctx context.Context, bucketURL string, pageTimeout time.Duration) (*BlobScanner, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &BlobScanner{bucket: bucket, pageTimeout: pageTimeout, owned: true}, nil
}

// NewBlobScanner wraps an already opened bucket. The caller keeps ownership.
func NewBlobScanner(bucket *blob.Bucket, pageTimeout time.Duration) *BlobScanner {
	return &BlobScanner{bucket: bucket, pageTimeout: pageTimeout}
}

// S3BucketURL builds a gocloud S3 URL with optional region and endpoint.
func S3BucketURL(bucket, region, endpoint string) string {
	bucketURL := "s3://" + bucket
	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("use_path_style", "true")
	}
	if len(params) > 0 {
		bucketURL += "?" + params.Encode()
	}
	return bucketURL
}

// ListObjectsUnderPrefix yields the keys under prefix, skipping directory markers.
func (b *BlobScanner) ListObjectsUnderPrefix(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		it := b.bucket.List(&blob.ListOptions{Prefix: prefix})
		for {
			obj, err := b.next(ctx, it)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield("", classifyBlob("list "+prefix, err))
				return
			}
			if obj.IsDir {
				continue
			}
			if !yield(obj.Key, nil) {
				return
			}
		}
	}
}

// ListPrefixes returns the immediate directories under prefix.
func (b *BlobScanner) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	it := b.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	var prefixes []string
	for {
		obj, err := b.next(ctx, it)
		if err == io.EOF {
			return prefixes, nil
		}
		if err != nil {
			return nil, classifyBlob("list prefixes "+prefix, err)
		}
		if obj.IsDir {
			prefixes = append(prefixes, obj.Key)
		}
	}
}

func (b *BlobScanner) next(ctx context.Context, it *blob.ListIterator) (*blob.ListObject, error) {
	if b.pageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.pageTimeout)
		defer cancel()
	}
	return it.Next(ctx)
}

// Close releases the bucket if the scanner opened it.
func (b *BlobScanner) Close() error {
	if b.owned && b.bucket != nil {
		return b.bucket.Close()
	}
	return nil
}

func classifyBlob(op string, err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.PermissionDenied:
		return apperrors.NewPermissionError(op+" denied", err)
	case gcerrors.DeadlineExceeded:
		return apperrors.NewTransientError(apperrors.CodeTimeout, op+" timed out", err)
	case gcerrors.ResourceExhausted:
		return apperrors.NewTransientError(apperrors.CodeThrottled, op+" throttled", err)
	}
	return apperrors.Classify(op, err)
}
