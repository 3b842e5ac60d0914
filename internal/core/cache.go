package core

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations.
// The core defines the contract and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value with the given key and TTL. A zero TTL never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns nil without error when the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete returns true if the key existed.
	Delete(ctx context.Context, key string) (bool, error)

	Health(ctx context.Context) error
}
