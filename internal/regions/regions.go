// Package regions lists the cloud regions the log producer may write to.
package regions

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/pkg/types"
)

// Enumerator lists active regions. Implementations make a single attempt per
// call and leave retry policy to the caller.
type Enumerator interface {
	ListRegions(ctx context.Context) ([]types.Region, error)
}

// DescribeRegionsAPI is the subset of the EC2 client used by EC2Enumerator.
type DescribeRegionsAPI interface {
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// EC2Enumerator lists every region, including opt-in regions not enabled for
// the account, so partitions exist for any region a trail may deliver from.
type EC2Enumerator struct {
	client  DescribeRegionsAPI
	timeout time.Duration
}

// NewEC2Enumerator creates an enumerator backed by ec2:DescribeRegions.
func NewEC2Enumerator(client DescribeRegionsAPI, timeout time.Duration) *EC2Enumerator {
	return &EC2Enumerator{client: client, timeout: timeout}
}

// ListRegions returns the deduplicated, sorted region list.
func (e *EC2Enumerator) ListRegions(ctx context.Context) ([]types.Region, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	out, err := e.client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
		AllRegions: aws.Bool(true),
	}, func(o *ec2.Options) {
		o.RetryMaxAttempts = 1
	})
	if err != nil {
		return nil, apperrors.Classify("describe regions", err)
	}

	names := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		names = append(names, aws.ToString(r.RegionName))
	}
	return Normalize(names), nil
}

// StaticEnumerator returns a fixed region list.
type StaticEnumerator struct {
	regions []types.Region
}

// NewStaticEnumerator creates an enumerator over a configured list.
func NewStaticEnumerator(names []string) *StaticEnumerator {
	return &StaticEnumerator{regions: Normalize(names)}
}

// ListRegions returns a copy of the configured regions.
func (s *StaticEnumerator) ListRegions(ctx context.Context) ([]types.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Classify("list regions", err)
	}
	out := make([]types.Region, len(s.regions))
	copy(out, s.regions)
	return out, nil
}

// Normalize drops empty names and duplicates and sorts the result.
func Normalize(names []string) []types.Region {
	seen := make(map[types.Region]struct{}, len(names))
	out := make([]types.Region, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		r := types.Region(name)
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
