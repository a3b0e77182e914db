// Package kv defines the backend abstraction shared by every route store:
// atomic multi-key set/delete, a recursive prefix read, and an optional
// change-notification stream. Four concrete backends implement it: file,
// Redis, etcd and Consul.
package kv

import "context"

// Backend is the capability set every concrete KV implementation provides.
// All-or-nothing semantics on AtomicSet/AtomicDelete are a hard
// requirement: on failure, no key may be left modified.
type Backend interface {
	// AtomicSet writes every key/value pair in toSet, or none of them.
	AtomicSet(ctx context.Context, toSet map[string]string) error

	// AtomicDelete removes every key in keys. A key ending in "/" is a
	// recursive (prefix) delete. Deleting a key that doesn't exist is not
	// an error.
	AtomicDelete(ctx context.Context, keys []string) error

	// GetTree returns a recursive snapshot of every key under prefix, as
	// of some recent point in time. Implementations may be eventually
	// consistent.
	GetTree(ctx context.Context, prefix string) (map[string]string, error)

	// Close releases any held resources (connections, file handles).
	Close() error
}

// Watcher is an optional capability: a Backend that can notify on changes
// under a prefix. Callers type-assert for it and fall back to polling when
// absent.
type Watcher interface {
	// Watch returns a channel that receives a value every time something
	// under prefix changes. The channel is closed when ctx is done.
	Watch(ctx context.Context, prefix string) (<-chan struct{}, error)
}
