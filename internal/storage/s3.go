package storage

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apperrors "github.com/athenasync/athenasync/internal/errors"
)

// S3API is the subset of the S3 client used by S3Scanner.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
}

// S3Scanner implements Scanner for AWS S3.
type S3Scanner struct {
	client      S3API
	bucket      string
	pageTimeout time.Duration
}

// NewS3Scanner creates a scanner over one bucket. pageTimeout bounds each
// listing request; zero means no bound beyond ctx.
func NewS3Scanner(client S3API, bucket string, pageTimeout time.Duration) *S3Scanner {
	return &S3Scanner{
		client:      client,
		bucket:      bucket,
		pageTimeout: pageTimeout,
	}
}

// Bucket returns the scanned bucket name.
func (s *S3Scanner) Bucket() string {
	return s.bucket
}

// ListObjectsUnderPrefix yields the keys under prefix page by page.
func (s *S3Scanner) ListObjectsUnderPrefix(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return s.list(ctx, prefix, 0)
}

// Exists checks for a single key under prefix with MaxKeys=1.
func (s *S3Scanner) Exists(ctx context.Context, prefix string) (bool, error) {
	for _, err := range s.list(ctx, prefix, 1) {
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *S3Scanner) list(ctx context.Context, prefix string, maxKeys int32) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		}
		if maxKeys > 0 {
			input.MaxKeys = aws.Int32(maxKeys)
		}
		paginator := s3.NewListObjectsV2Paginator(s.client, input)

		for paginator.HasMorePages() {
			page, err := s.nextPage(ctx, paginator)
			if err != nil {
				yield("", apperrors.Classify(fmt.Sprintf("list s3://%s/%s", s.bucket, prefix), err))
				return
			}
			for _, obj := range page.Contents {
				if !yield(aws.ToString(obj.Key), nil) {
					return
				}
			}
		}
	}
}

func (s *S3Scanner) nextPage(ctx context.Context, p *s3.ListObjectsV2Paginator) (*s3.ListObjectsV2Output, error) {
	if s.pageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pageTimeout)
		defer cancel()
	}
	return p.NextPage(ctx)
}

// ListPrefixes returns the common prefixes under prefix using "/" as delimiter.
func (s *S3Scanner) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var prefixes []string
	for paginator.HasMorePages() {
		page, err := s.nextPage(ctx, paginator)
		if err != nil {
			return nil, apperrors.Classify(fmt.Sprintf("list prefixes s3://%s/%s", s.bucket, prefix), err)
		}
		for _, cp := range page.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(cp.Prefix))
		}
	}
	return prefixes, nil
}

// BucketRegion returns the region the bucket lives in.
func (s *S3Scanner) BucketRegion(ctx context.Context) (string, error) {
	if s.pageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pageTimeout)
		defer cancel()
	}
	out, err := s.client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return "", apperrors.Classify("get bucket location "+s.bucket, err)
	}
	// Buckets in us-east-1 report an empty constraint.
	if out.LocationConstraint == "" {
		return "us-east-1", nil
	}
	return string(out.LocationConstraint), nil
}
