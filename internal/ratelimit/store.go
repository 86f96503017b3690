package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStoreUnavailable matches every error produced by a failing store backend
	ErrStoreUnavailable = errors.New("rate limit store unavailable")

	errUpdateUnsupported = errors.New("store does not support atomic updates")
)

// Per-identifier window state. Requests holds epoch milliseconds.
type WindowRecord struct {
	Requests  []int64 `json:"requests"`
	Count     int     `json:"count"`
	ResetTime int64   `json:"resetTime"`
}

func (r *WindowRecord) clone() *WindowRecord {
	if r == nil {
		return nil
	}

	c := *r
	c.Requests = append([]int64(nil), r.Requests...)
	return &c
}

// Store persists window records with expiry. Get returns (nil, nil) for a
// missing key. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (*WindowRecord, error)
	Set(ctx context.Context, key string, record *WindowRecord, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// UpdateFunc computes the next record from the current one (nil when absent).
// Returning a nil record leaves the key untouched. It may be called more than
// once and must not have side effects.
type UpdateFunc func(current *WindowRecord) (next *WindowRecord, ttl time.Duration)

// Updater is implemented by stores that can run a read-modify-write as one
// isolated step.
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) (*WindowRecord, error)
}

// Pinner is implemented by stores that route calls between backends. The
// limiter pins once per check so the read and the write of one request go
// to the same backend.
type Pinner interface {
	Pin() Store
}

// Wraps a backend failure
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}
