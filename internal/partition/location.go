// Package partition plans which (region, date) partitions hold log data.
package partition

import (
	"github.com/athenasync/athenasync/pkg/types"
)

// Location returns the storage prefix of a partition below root:
// <root><region>/<yyyy>/<mm>/<dd>/. root must end in "/" (or be empty).
func Location(root string, key types.PartitionKey) string {
	return root + string(key.Region) + "/" + key.Year() + "/" + key.Month() + "/" + key.Day() + "/"
}

// Candidates returns every region × date key of the window, sorted and
// without duplicates.
func Candidates(regions []types.Region, window types.DateWindow) []types.PartitionKey {
	dates := window.Dates()
	if len(regions) == 0 || len(dates) == 0 {
		return nil
	}
	seen := make(map[types.Region]struct{}, len(regions))
	keys := make([]types.PartitionKey, 0, len(regions)*len(dates))
	for _, region := range regions {
		if _, ok := seen[region]; ok {
			continue
		}
		seen[region] = struct{}{}
		for _, date := range dates {
			keys = append(keys, types.NewPartitionKey(region, date))
		}
	}
	types.SortPartitionKeys(keys)
	return keys
}
