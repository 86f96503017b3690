package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/ratelimit-service/internal/circuitbreaker"
)

// FallbackStore sends calls to primary through a circuit breaker. While the
// breaker is open the local store answers instead, so the limiter keeps
// enforcing per-instance quotas until the shared backend is back.
type FallbackStore struct {
	primary Store
	local   *MemoryStore
	breaker *circuitbreaker.CircuitBreaker
}

func NewFallbackStore(primary Store, local *MemoryStore, breaker *circuitbreaker.CircuitBreaker) *FallbackStore {
	return &FallbackStore{
		primary: primary,
		local:   local,
		breaker: breaker,
	}
}

func (f *FallbackStore) Get(ctx context.Context, key string) (*WindowRecord, error) {
	var rec *WindowRecord
	err := f.breaker.Call(func() error {
		var err error
		rec, err = f.primary.Get(ctx, key)
		return err
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return f.local.Get(ctx, key)
	}
	return rec, err
}

func (f *FallbackStore) Set(ctx context.Context, key string, record *WindowRecord, ttl time.Duration) error {
	err := f.breaker.Call(func() error {
		return f.primary.Set(ctx, key, record, ttl)
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return f.local.Set(ctx, key, record, ttl)
	}
	return err
}

// Delete clears both stores so nothing written during an outage survives
func (f *FallbackStore) Delete(ctx context.Context, key string) error {
	_ = f.local.Delete(ctx, key)

	err := f.breaker.Call(func() error {
		return f.primary.Delete(ctx, key)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return nil
	}
	return err
}

func (f *FallbackStore) Update(ctx context.Context, key string, fn UpdateFunc) (*WindowRecord, error) {
	up, ok := f.primary.(Updater)
	if !ok {
		return nil, &StoreError{Op: "update", Key: key, Err: errUpdateUnsupported}
	}

	var rec *WindowRecord
	err := f.breaker.Call(func() error {
		var err error
		rec, err = up.Update(ctx, key, fn)
		return err
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return f.local.Update(ctx, key, fn)
	}
	return rec, err
}

// Pin picks the backend for one read-modify-write: primary while the breaker
// lets calls through, the local store otherwise. A pinned primary does not
// fall back, so a local count is never written over the shared window.
func (f *FallbackStore) Pin() Store {
	if f.breaker.Allow() {
		return &guardedStore{f}
	}
	return f.local
}

// Degraded reports whether calls are currently served by the local store
func (f *FallbackStore) Degraded() bool {
	return f.breaker.State() != circuitbreaker.StateClosed
}

func (f *FallbackStore) BreakerMetrics() circuitbreaker.Metrics {
	return f.breaker.Metrics()
}

// Closes the breaker so the next call goes to primary again
func (f *FallbackStore) ResetBreaker() {
	f.breaker.Reset()
}

// guardedStore calls primary through the breaker without falling back
type guardedStore struct {
	f *FallbackStore
}

func (g *guardedStore) Get(ctx context.Context, key string) (*WindowRecord, error) {
	var rec *WindowRecord
	err := g.f.breaker.Call(func() error {
		var err error
		rec, err = g.f.primary.Get(ctx, key)
		return err
	})
	return rec, guardErr("get", key, err)
}

func (g *guardedStore) Set(ctx context.Context, key string, record *WindowRecord, ttl time.Duration) error {
	err := g.f.breaker.Call(func() error {
		return g.f.primary.Set(ctx, key, record, ttl)
	})
	return guardErr("set", key, err)
}

func (g *guardedStore) Delete(ctx context.Context, key string) error {
	return g.f.Delete(ctx, key)
}

func (g *guardedStore) Update(ctx context.Context, key string, fn UpdateFunc) (*WindowRecord, error) {
	up, ok := g.f.primary.(Updater)
	if !ok {
		return nil, &StoreError{Op: "update", Key: key, Err: errUpdateUnsupported}
	}

	var rec *WindowRecord
	err := g.f.breaker.Call(func() error {
		var err error
		rec, err = up.Update(ctx, key, fn)
		return err
	})
	return rec, guardErr("update", key, err)
}

// the breaker opened after the pin; the check fails open
func guardErr(op, key string, err error) error {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return &StoreError{Op: op, Key: key, Err: err}
	}
	return err
}
