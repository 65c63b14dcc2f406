package repository

import (
	"context"
	"fmt"

	"tradegateway/internal/microservices/http-api/models"

	"gorm.io/gorm"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	List(ctx context.Context, contextID string) ([]models.Subscription, error)
	GetByReference(ctx context.Context, referenceID string) (*models.Subscription, error)
	DeleteByReference(ctx context.Context, referenceID string) (int64, error)
	DeleteByContext(ctx context.Context, contextID, tag string) (int64, error)
	Ping(ctx context.Context) error
}

type subscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// List returns subscriptions newest first; an empty contextID lists all.
func (r *subscriptionRepository) List(ctx context.Context, contextID string) ([]models.Subscription, error) {
	var subs []models.Subscription

	q := r.db.WithContext(ctx).Order("created_at DESC")
	if contextID != "" {
		q = q.Where("context_id = ?", contextID)
	}
	if err := q.Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (r *subscriptionRepository) GetByReference(ctx context.Context, referenceID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("reference_id = ?", referenceID).
		First(&sub).Error; err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", referenceID, err)
	}
	return &sub, nil
}

func (r *subscriptionRepository) DeleteByReference(ctx context.Context, referenceID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("reference_id = ?", referenceID).
		Delete(&models.Subscription{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete subscription %s: %w", referenceID, result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteByContext removes every subscription of contextID, limited to one tag
// (algo name) when tag is set.
func (r *subscriptionRepository) DeleteByContext(ctx context.Context, contextID, tag string) (int64, error) {
	q := r.db.WithContext(ctx).Where("context_id = ?", contextID)
	if tag != "" {
		q = q.Where("algo_name = ?", tag)
	}
	result := q.Delete(&models.Subscription{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete subscriptions for context %s: %w", contextID, result.Error)
	}
	return result.RowsAffected, nil
}

func (r *subscriptionRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
