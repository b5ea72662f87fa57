package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for engine operations
var (
	// ErrNotFound indicates a cache key or item id that does not exist
	ErrNotFound = errors.New("not found")

	// ErrCancelled indicates a load aborted by cancellation
	ErrCancelled = errors.New("load cancelled")

	// ErrQueueClosed indicates the loader has been shut down
	ErrQueueClosed = errors.New("loader closed")

	// ErrStalePosition indicates a persisted scroll position past its staleness window
	ErrStalePosition = errors.New("persisted position stale")
)

// FailureKind classifies per-item load failures.
type FailureKind int

const (
	FailureNetwork FailureKind = iota // fetch rejected or timed out
	FailureDecode                     // bytes unusable as media
	FailureCancelled
)

func (k FailureKind) String() string {
	switch k {
	case FailureNetwork:
		return "network"
	case FailureDecode:
		return "decode"
	case FailureCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// LoadError is the typed failure returned by the media loader.
type LoadError struct {
	Kind FailureKind
	ID   string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s failure: %v", e.ID, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Retryable reports whether the failure may succeed on a later attempt.
// Cancellations and decode faults do not improve with retries.
func (e *LoadError) Retryable() bool { return e.Kind == FailureNetwork }

// CacheError is a durable-tier fault. It is logged and degraded around,
// never surfaced to the user.
type CacheError struct {
	Op  string // "get", "put", "evict", ...
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// CapacityError indicates the memory ceiling stayed exceeded after a
// cleanup pass. New loads above the soft limit are deferred, not failed.
type CapacityError struct {
	ResidentBytes int64
	CeilingBytes  int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("memory ceiling exceeded: resident %d > ceiling %d", e.ResidentBytes, e.CeilingBytes)
}

// CatalogError is fatal to the whole pipeline.
type CatalogError struct {
	Reason string
}

func (e *CatalogError) Error() string { return "catalog: " + e.Reason }
