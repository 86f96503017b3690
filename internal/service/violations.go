package service

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/ratelimit-service/internal/logger"
	"github.com/aman-churiwal/ratelimit-service/internal/models"
	"github.com/aman-churiwal/ratelimit-service/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	flushTimeout         = 5 * time.Second
	cleanupInterval      = 24 * time.Hour
)

// ViolationStore is the part of the violation repository the service needs
type ViolationStore interface {
	CreateBatch(ctx context.Context, events []models.RateLimitEvent) error
	FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.RateLimitEvent, error)
	CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error)
	CountByTier(ctx context.Context, from, to time.Time) ([]repository.GroupCount, error)
	TopIdentifiers(ctx context.Context, from, to time.Time, limit int) ([]repository.GroupCount, error)
	TopPaths(ctx context.Context, from, to time.Time, limit int) ([]repository.GroupCount, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// ViolationService queues rejected requests and writes them to the database
// in batches from a background worker, so the request path never waits on
// Postgres.
type ViolationService struct {
	repo          ViolationStore
	events        chan models.RateLimitEvent
	batchSize     int
	flushInterval time.Duration
	log           *zap.Logger

	retentionDays   int // 0 disables cleanup
	cleanupInterval time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

type ViolationOption func(*ViolationService)

// WithRetention makes the worker delete events older than days, checking
// once per interval.
func WithRetention(days int, interval time.Duration) ViolationOption {
	return func(s *ViolationService) {
		s.retentionDays = days
		if interval > 0 {
			s.cleanupInterval = interval
		}
	}
}

func NewViolationService(repo ViolationStore, bufferSize int, opts ...ViolationOption) *ViolationService {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	s := &ViolationService{
		repo:            repo,
		events:          make(chan models.RateLimitEvent, bufferSize),
		batchSize:       defaultBatchSize,
		flushInterval:   defaultFlushInterval,
		log:             logger.Named("violations"),
		cleanupInterval: cleanupInterval,
		done:            make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Holds violation summary data
type ViolationSummary struct {
	From           time.Time               `json:"from"`
	To             time.Time               `json:"to"`
	Total          int64                   `json:"total"`
	ByTier         map[models.Tier]int64   `json:"by_tier"`
	TopIdentifiers []repository.GroupCount `json:"top_identifiers"`
	TopPaths       []repository.GroupCount `json:"top_paths"`
}

// Starts the background worker
func (s *ViolationService) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Record queues an event without blocking. It reports false when the
// buffer is full and the event was dropped.
func (s *ViolationService) Record(event models.RateLimitEvent) bool {
	select {
	case s.events <- event:
		return true
	default:
		s.log.Warn("Violation buffer full, dropping event",
			zap.String("identifier", event.Identifier),
		)
		return false
	}
}

// Close stops the worker after flushing what is queued
func (s *ViolationService) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	// a worker that was never started has nothing to flush
	s.startOnce.Do(func() {
		close(s.stopped)
	})

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ViolationService) run() {
	defer close(s.stopped)

	batch := make([]models.RateLimitEvent, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	// nil channel never fires
	var cleanup <-chan time.Time
	if s.retentionDays > 0 {
		cleanupTicker := time.NewTicker(s.cleanupInterval)
		defer cleanupTicker.Stop()
		cleanup = cleanupTicker.C
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.insertBatch(batch)
		batch = make([]models.RateLimitEvent, 0, s.batchSize)
	}

	for {
		select {
		case event := <-s.events:
			batch = append(batch, event)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-cleanup:
			s.deleteExpired()
		case <-s.done:
			for {
				select {
				case event := <-s.events:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *ViolationService) insertBatch(events []models.RateLimitEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := s.repo.CreateBatch(ctx, events); err != nil {
		s.log.Error("Failed to insert violations",
			zap.Int("count", len(events)),
			zap.Error(err),
		)
		return
	}

	s.log.Debug("Inserted violations", zap.Int("count", len(events)))
}

func (s *ViolationService) deleteExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	deleted, err := s.Cleanup(ctx, s.retentionDays)
	if err != nil {
		s.log.Error("Failed to delete expired violations", zap.Error(err))
		return
	}

	s.log.Info("Deleted expired violations",
		zap.Int64("count", deleted),
		zap.Int("retention_days", s.retentionDays),
	)
}

// Retrieves a violation summary for a time range
func (s *ViolationService) GetSummary(ctx context.Context, from, to time.Time) (*ViolationSummary, error) {
	summary := &ViolationSummary{
		From:   from,
		To:     to,
		ByTier: make(map[models.Tier]int64),
	}

	total, err := s.repo.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.Total = total

	if total == 0 {
		return summary, nil
	}

	byTier, err := s.repo.CountByTier(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for _, g := range byTier {
		summary.ByTier[models.Tier(g.Key)] = g.Count
	}

	summary.TopIdentifiers, err = s.repo.TopIdentifiers(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}

	summary.TopPaths, err = s.repo.TopPaths(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}

	return summary, nil
}

// Retrieves raw events with pagination
func (s *ViolationService) GetEvents(ctx context.Context, from, to time.Time, limit, offset int) ([]models.RateLimitEvent, error) {
	return s.repo.FindByTimeRange(ctx, from, to, limit, offset)
}

// Deletes events older than the retention period
func (s *ViolationService) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutOff := time.Now().AddDate(0, 0, -retentionDays)
	return s.repo.DeleteOlderThan(ctx, cutOff)
}
