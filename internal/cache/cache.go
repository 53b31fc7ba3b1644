// Package cache provides invocation result caching. Identical requests from
// the pipelines (re-validating the same document section, for instance) skip
// the backend entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores serialized invocation results by key.
type Cache interface {
	// Get retrieves a cached result; nil without error means a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a result with a TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Close closes the cache connection.
	Close() error
}

// Key derives a stable cache key from the request parts that affect the
// response.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
