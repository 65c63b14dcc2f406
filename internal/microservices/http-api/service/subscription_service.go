package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tradegateway/internal/microservices/http-api/dto"
	"tradegateway/internal/microservices/http-api/models"
	"tradegateway/internal/microservices/http-api/repository"
	"tradegateway/internal/streaming"

	"gorm.io/gorm"
)

const (
	DefaultTimeframe   = 1000 // ms
	maxReferenceLength = 255  // the frame header stores the length in one byte
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")
	ErrInvalidSubscription  = errors.New("invalid subscription")
	ErrNoLastMessage        = errors.New("no message received for reference id")
	ErrNoStore              = errors.New("subscription store not configured")
)

type SubscriptionService interface {
	List(ctx context.Context, contextID string) ([]models.Subscription, error)
	Get(ctx context.Context, referenceID string) (*models.Subscription, error)
	Create(ctx context.Context, req dto.CreateSubscriptionRequest) (*models.Subscription, error)
	Delete(ctx context.Context, referenceID string) error
	DeleteByContext(ctx context.Context, contextID, tag string) (int64, error)
	LastMessage(referenceID string) (streaming.Message, error)
	Ping(ctx context.Context) error
}

type subscriptionService struct {
	repo      repository.SubscriptionRepository
	last      *streaming.LastMessages
	contextID string
}

// NewSubscriptionService builds the service. repo may be nil when no store is
// configured; then only LastMessage works.
func NewSubscriptionService(repo repository.SubscriptionRepository, last *streaming.LastMessages, contextID string) SubscriptionService {
	return &subscriptionService{
		repo:      repo,
		last:      last,
		contextID: contextID,
	}
}

func (s *subscriptionService) List(ctx context.Context, contextID string) ([]models.Subscription, error) {
	if s.repo == nil {
		return nil, ErrNoStore
	}
	return s.repo.List(ctx, contextID)
}

func (s *subscriptionService) Get(ctx context.Context, referenceID string) (*models.Subscription, error) {
	if s.repo == nil {
		return nil, ErrNoStore
	}
	sub, err := s.repo.GetByReference(ctx, referenceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

func (s *subscriptionService) Create(ctx context.Context, req dto.CreateSubscriptionRequest) (*models.Subscription, error) {
	if s.repo == nil {
		return nil, ErrNoStore
	}

	sub := &models.Subscription{
		ContextID:   strings.TrimSpace(req.ContextID),
		ReferenceID: strings.TrimSpace(req.ReferenceID),
		AlgoName:    req.AlgoName,
		Uic:         req.Uic,
		AssetType:   strings.TrimSpace(req.AssetType),
		Timeframe:   req.Timeframe,
	}
	if sub.ContextID == "" {
		sub.ContextID = s.contextID
	}
	if sub.Timeframe == 0 {
		sub.Timeframe = DefaultTimeframe
	}
	if sub.ReferenceID == "" && sub.AssetType != "" {
		sub.ReferenceID = fmt.Sprintf("TF%d_%s", sub.Uic, sub.AssetType)
	}
	if err := validate(sub); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrSubscriptionExists
		}
		return nil, err
	}
	return sub, nil
}

func validate(sub *models.Subscription) error {
	switch {
	case sub.ContextID == "":
		return fmt.Errorf("%w: context_id is required", ErrInvalidSubscription)
	case sub.Uic <= 0:
		return fmt.Errorf("%w: uic must be positive", ErrInvalidSubscription)
	case sub.AssetType == "":
		return fmt.Errorf("%w: asset_type is required", ErrInvalidSubscription)
	case sub.Timeframe < 0:
		return fmt.Errorf("%w: timeframe must not be negative", ErrInvalidSubscription)
	case len(sub.ReferenceID) > maxReferenceLength:
		return fmt.Errorf("%w: reference_id longer than %d bytes", ErrInvalidSubscription, maxReferenceLength)
	case strings.ContainsAny(sub.ReferenceID, "/ "):
		return fmt.Errorf("%w: reference_id must not contain '/' or spaces", ErrInvalidSubscription)
	}
	return nil
}

func (s *subscriptionService) Delete(ctx context.Context, referenceID string) error {
	if s.repo == nil {
		return ErrNoStore
	}
	n, err := s.repo.DeleteByReference(ctx, referenceID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	if s.last != nil {
		s.last.Forget(referenceID)
	}
	return nil
}

func (s *subscriptionService) DeleteByContext(ctx context.Context, contextID, tag string) (int64, error) {
	if s.repo == nil {
		return 0, ErrNoStore
	}
	if contextID == "" {
		contextID = s.contextID
	}
	return s.repo.DeleteByContext(ctx, contextID, tag)
}

func (s *subscriptionService) LastMessage(referenceID string) (streaming.Message, error) {
	if s.last == nil {
		return streaming.Message{}, ErrNoLastMessage
	}
	msg, ok := s.last.Get(referenceID)
	if !ok {
		return streaming.Message{}, ErrNoLastMessage
	}
	return msg, nil
}

// Ping reports store health; no configured store counts as healthy.
func (s *subscriptionService) Ping(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.Ping(ctx)
}
