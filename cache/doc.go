// Package cache provides the response cache used by the request handlers.
// This package implements:
// - Thread-safe LRU eviction (hashicorp/golang-lru)
// - Request fingerprints (xxhash of the raw request payload)
// - Hit/miss statistics
package cache
