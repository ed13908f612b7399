// Package lockstore provides the shared TTL key/value store behind task
// locks and presentation stamps. Two implementations exist: a Redis-backed
// store for multi-process deployments and an in-memory store for tests and
// single-node setups.
//
// The store is the only cross-request synchronization primitive in the
// engine. AcquireLock must be atomic — no read-then-write race window.
package lockstore

import (
	"context"
	"time"
)

// Store is the TTL key/value contract consumed by the lock manager and
// the contributions guard.
type Store interface {
	// Get returns the value at key, with ok=false if absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes key=value with the given TTL, overwriting any prior value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes key=value with the given TTL only if key is absent.
	// Returns whether the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Expire refreshes the TTL of an existing key without touching its
	// value. Returns false if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Del removes a key. Removing an absent key is not an error.
	Del(ctx context.Context, key string) error

	// AcquireLock atomically claims key for holder with the given TTL.
	// The claim succeeds iff no other holder has an unexpired claim on
	// key; re-acquiring one's own claim refreshes its TTL. Returns
	// whether the caller now holds the lock.
	AcquireLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// ReleaseLock drops holder's claim on key. A no-op if the claim is
	// absent or owned by someone else.
	ReleaseLock(ctx context.Context, key, holder string) error

	// LockHolders enumerates unexpired claims on key as holder → expiry.
	LockHolders(ctx context.Context, key string) (map[string]time.Time, error)
}
