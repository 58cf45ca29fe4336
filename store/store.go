// Package store provides durable key-value backends for persisting the cart
// snapshot. Values are opaque bytes, encoding is the caller's concern.
package store

import (
	"context"
	"fmt"
)

// ErrNotFound is returned by Get when the key has never been written or was deleted
var ErrNotFound = fmt.Errorf("key not found")

// KV is the minimal durable key-value storage the cart persists into.
//
// Thread Safety: Implementations MUST be safe for concurrent use.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
