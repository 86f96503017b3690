package service

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/ratelimit-service/internal/models"
	"github.com/aman-churiwal/ratelimit-service/internal/repository"
	"github.com/google/uuid"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*models.User)}
}

func (f *fakeUserStore) Create(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	f.users[user.ID.String()] = user
	return nil
}

func (f *fakeUserStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserStore) FindByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeUserStore) SetPremium(_ context.Context, id string, premium bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u, ok := f.users[id]; ok {
		u.IsPremium = premium
	}
	return nil
}

func (f *fakeUserStore) SetRole(_ context.Context, id string, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u, ok := f.users[id]; ok {
		u.Role = role
	}
	return nil
}

type fakeViolationStore struct {
	mu      sync.Mutex
	batches [][]models.RateLimitEvent
	failing bool
}

func (f *fakeViolationStore) CreateBatch(_ context.Context, events []models.RateLimitEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failing {
		return context.DeadlineExceeded
	}
	f.batches = append(f.batches, append([]models.RateLimitEvent(nil), events...))
	return nil
}

func (f *fakeViolationStore) all() []models.RateLimitEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.RateLimitEvent
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func (f *fakeViolationStore) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeViolationStore) FindByTimeRange(_ context.Context, from, to time.Time, limit, offset int) ([]models.RateLimitEvent, error) {
	var out []models.RateLimitEvent
	for _, e := range f.all() {
		if !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeViolationStore) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	events, _ := f.FindByTimeRange(ctx, from, to, 1<<30, 0)
	return int64(len(events)), nil
}

func (f *fakeViolationStore) group(from, to time.Time, key func(models.RateLimitEvent) string) []repository.GroupCount {
	counts := make(map[string]int64)
	var order []string
	for _, e := range f.all() {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		k := key(e)
		if _, ok := counts[k]; !ok {
			order = append(order, k)
		}
		counts[k]++
	}

	out := make([]repository.GroupCount, 0, len(order))
	for _, k := range order {
		out = append(out, repository.GroupCount{Key: k, Count: counts[k]})
	}
	return out
}

func (f *fakeViolationStore) CountByTier(_ context.Context, from, to time.Time) ([]repository.GroupCount, error) {
	return f.group(from, to, func(e models.RateLimitEvent) string { return string(e.Tier) }), nil
}

func (f *fakeViolationStore) TopIdentifiers(_ context.Context, from, to time.Time, _ int) ([]repository.GroupCount, error) {
	return f.group(from, to, func(e models.RateLimitEvent) string { return e.Identifier }), nil
}

func (f *fakeViolationStore) TopPaths(_ context.Context, from, to time.Time, _ int) ([]repository.GroupCount, error) {
	return f.group(from, to, func(e models.RateLimitEvent) string { return e.Path }), nil
}

func (f *fakeViolationStore) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var deleted int64
	for i, b := range f.batches {
		kept := b[:0]
		for _, e := range b {
			if e.Timestamp.Before(before) {
				deleted++
				continue
			}
			kept = append(kept, e)
		}
		f.batches[i] = kept
	}
	return deleted, nil
}
