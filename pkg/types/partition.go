package types

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DateLayout is the layout used when a partition date is rendered as a single value.
const DateLayout = "2006-01-02"

var regionPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$`)

// Region identifies a geographic/service region such as "us-east-1".
type Region string

// Valid reports whether the region is safe to embed in a storage path and a
// partition value.
func (r Region) Valid() bool {
	return regionPattern.MatchString(string(r))
}

// PartitionKey uniquely identifies one partition of a log table.
// It is a comparable value and is used directly as a map key.
type PartitionKey struct {
	// Region is the region the logs were produced in
	Region Region `json:"region"`

	// Date is the UTC calendar date, truncated to midnight
	Date time.Time `json:"date"`
}

// NewPartitionKey builds a key, normalizing the date to midnight UTC.
func NewPartitionKey(region Region, date time.Time) PartitionKey {
	return PartitionKey{Region: region, Date: TruncateDay(date)}
}

// Validate checks that the key can be turned into a storage location.
func (k PartitionKey) Validate() error {
	if !k.Region.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRegion, k.Region)
	}
	if k.Date.IsZero() {
		return fmt.Errorf("%w: zero date for region %s", ErrInvalidPartitionKey, k.Region)
	}
	return nil
}

// Year returns the zero-padded four digit year.
func (k PartitionKey) Year() string { return fmt.Sprintf("%04d", k.Date.Year()) }

// Month returns the zero-padded two digit month.
func (k PartitionKey) Month() string { return fmt.Sprintf("%02d", int(k.Date.Month())) }

// Day returns the zero-padded two digit day of month.
func (k PartitionKey) Day() string { return fmt.Sprintf("%02d", k.Date.Day()) }

// Values returns the Hive partition values in column order (region, year, month, day).
func (k PartitionKey) Values() []string {
	return []string{string(k.Region), k.Year(), k.Month(), k.Day()}
}

// String renders the key the way Athena prints it in SHOW PARTITIONS.
func (k PartitionKey) String() string {
	return fmt.Sprintf("region=%s/year=%s/month=%s/day=%s", k.Region, k.Year(), k.Month(), k.Day())
}

// ParsePartitionKey parses "region=<r>/year=<yyyy>/month=<mm>/day=<dd>".
func ParsePartitionKey(s string) (PartitionKey, error) {
	fields := make(map[string]string, 4)
	for _, part := range strings.Split(strings.TrimSpace(s), "/") {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return PartitionKey{}, fmt.Errorf("%w: %q", ErrInvalidPartitionKey, s)
		}
		fields[name] = value
	}
	return PartitionKeyFromValues([]string{fields["region"], fields["year"], fields["month"], fields["day"]})
}

// PartitionKeyFromValues is the inverse of Values.
func PartitionKeyFromValues(values []string) (PartitionKey, error) {
	if len(values) != 4 {
		return PartitionKey{}, fmt.Errorf("%w: expected 4 values, got %d", ErrInvalidPartitionKey, len(values))
	}
	date, err := time.Parse(DateLayout, values[1]+"-"+values[2]+"-"+values[3])
	if err != nil {
		return PartitionKey{}, fmt.Errorf("%w: %v", ErrInvalidPartitionKey, err)
	}
	key := PartitionKey{Region: Region(values[0]), Date: TruncateDay(date)}
	if err := key.Validate(); err != nil {
		return PartitionKey{}, err
	}
	return key, nil
}

// Less orders keys by region, then date.
func (k PartitionKey) Less(other PartitionKey) bool {
	if k.Region != other.Region {
		return k.Region < other.Region
	}
	return k.Date.Before(other.Date)
}

// SortPartitionKeys sorts keys in place by region, then date.
func SortPartitionKeys(keys []PartitionKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
