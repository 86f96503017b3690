package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/ratelimit-service/internal/models"
	"github.com/aman-churiwal/ratelimit-service/internal/storage"
)

// Persists rejected requests for later analysis
type ViolationRepository struct {
	db *storage.Postgres
}

func NewViolationRepository(db *storage.Postgres) *ViolationRepository {
	return &ViolationRepository{db: db}
}

// Counter for one group of violations
type GroupCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Inserts multiple events in one statement
func (r *ViolationRepository) CreateBatch(ctx context.Context, events []models.RateLimitEvent) error {
	if len(events) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&events).Error
}

// Retrieves events within a time range, newest first
func (r *ViolationRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]models.RateLimitEvent, error) {
	var events []models.RateLimitEvent

	err := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error

	return events, err
}

// Retrieves events of one identifier
func (r *ViolationRepository) FindByIdentifier(ctx context.Context, identifier string, from, to time.Time, limit, offset int) ([]models.RateLimitEvent, error) {
	var events []models.RateLimitEvent

	err := r.db.DB.WithContext(ctx).
		Where("identifier = ? AND timestamp BETWEEN ? AND ?", identifier, from, to).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error

	return events, err
}

func (r *ViolationRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RateLimitEvent{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

func (r *ViolationRepository) CountByTier(ctx context.Context, from, to time.Time) ([]GroupCount, error) {
	return r.groupCount(ctx, "tier", from, to, 0)
}

// Identifiers with the most rejected requests
func (r *ViolationRepository) TopIdentifiers(ctx context.Context, from, to time.Time, limit int) ([]GroupCount, error) {
	return r.groupCount(ctx, "identifier", from, to, limit)
}

// Paths with the most rejected requests
func (r *ViolationRepository) TopPaths(ctx context.Context, from, to time.Time, limit int) ([]GroupCount, error) {
	return r.groupCount(ctx, "path", from, to, limit)
}

// column is one of the fixed names above, never user input
func (r *ViolationRepository) groupCount(ctx context.Context, column string, from, to time.Time, limit int) ([]GroupCount, error) {
	var results []GroupCount

	query := r.db.DB.WithContext(ctx).
		Model(&models.RateLimitEvent{}).
		Select(column+" AS key, COUNT(*) AS count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group(column).
		Order("count DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Scan(&results).Error
	return results, err
}

// Deletes events older than the specified time
func (r *ViolationRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.RateLimitEvent{})

	return result.RowsAffected, result.Error
}
