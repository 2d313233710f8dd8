// Package storage lists object keys in log storage.
package storage

import (
	"context"
	"iter"
	"sort"
	"strings"

	"github.com/athenasync/athenasync/pkg/types"
)

// LogsDir is the directory CloudTrail writes under the configured prefix.
const LogsDir = "AWSLogs/"

// Scanner abstracts prefix listing over object storage.
// Implementations include S3 and gocloud blob buckets (S3, local files, memory).
type Scanner interface {
	// ListObjectsUnderPrefix lazily yields the keys under prefix in
	// lexicographic order. Breaking out of the loop stops paging.
	// A listing failure is yielded once as a non-nil error and ends the sequence.
	ListObjectsUnderPrefix(ctx context.Context, prefix string) iter.Seq2[string, error]

	// ListPrefixes returns the immediate "directories" under prefix, each
	// ending in "/".
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
}

// existenceChecker is implemented by scanners with a cheaper single-key probe.
type existenceChecker interface {
	Exists(ctx context.Context, prefix string) (bool, error)
}

// Exists reports whether at least one object lives under prefix.
// It stops after the first key.
func Exists(ctx context.Context, s Scanner, prefix string) (bool, error) {
	if ec, ok := s.(existenceChecker); ok {
		return ec.Exists(ctx, prefix)
	}
	for _, err := range s.ListObjectsUnderPrefix(ctx, prefix) {
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Account is a log folder under AWSLogs/.
type Account struct {
	// ID is the 12-digit account ID
	ID string
	// Org is the organization ID for organization trails ("" otherwise)
	Org string
}

// Dir is the account folder relative to AWSLogs/.
func (a Account) Dir() string {
	if a.Org != "" {
		return a.Org + "/" + a.ID
	}
	return a.ID
}

// ParseAccount parses "<account>" or "o-<org>/<account>".
func ParseAccount(dir string) (Account, bool) {
	dir = strings.Trim(dir, "/")
	if !types.IsAccountDir(dir) {
		return Account{}, false
	}
	if org, id, ok := strings.Cut(dir, "/"); ok {
		return Account{ID: id, Org: org}, true
	}
	return Account{ID: dir}, true
}

// TableRoot returns the CloudTrail table location for an account:
// s3://<bucket>/<logPrefix>AWSLogs/[<org>/]<account>/CloudTrail/.
func TableRoot(bucket, logPrefix string, a Account) string {
	return "s3://" + bucket + "/" + logPrefix + LogsDir + a.Dir() + "/CloudTrail/"
}

// DiscoverAccounts lists the account folders under <logPrefix>AWSLogs/.
// Organization folders (o-*) are descended one level. Other entries are
// ignored. The result is sorted by Dir.
func DiscoverAccounts(ctx context.Context, s Scanner, logPrefix string) ([]Account, error) {
	root := logPrefix + LogsDir
	dirs, err := s.ListPrefixes(ctx, root)
	if err != nil {
		return nil, err
	}

	var accounts []Account
	for _, dir := range dirs {
		name := strings.TrimSuffix(strings.TrimPrefix(dir, root), "/")
		if types.IsAccountID(name) {
			accounts = append(accounts, Account{ID: name})
			continue
		}
		if !strings.HasPrefix(name, "o-") {
			continue
		}
		members, err := s.ListPrefixes(ctx, dir)
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			id := strings.TrimSuffix(strings.TrimPrefix(member, dir), "/")
			if types.IsAccountID(id) {
				accounts = append(accounts, Account{ID: id, Org: name})
			}
		}
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Dir() < accounts[j].Dir() })
	return accounts, nil
}
