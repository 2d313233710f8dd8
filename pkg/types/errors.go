package types

import "errors"

// Partition key errors
var (
	// ErrInvalidPartitionKey is returned when a partition key string cannot be parsed
	ErrInvalidPartitionKey = errors.New("invalid partition key")

	// ErrInvalidRegion is returned when a region identifier contains characters
	// that cannot appear in a storage path or partition value
	ErrInvalidRegion = errors.New("invalid region")
)
