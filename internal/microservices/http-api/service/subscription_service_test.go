package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"tradegateway/internal/microservices/http-api/dto"
	"tradegateway/internal/microservices/http-api/models"
	"tradegateway/internal/streaming"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MockSubscriptionRepository mocks the SubscriptionRepository interface
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) List(ctx context.Context, contextID string) ([]models.Subscription, error) {
	args := m.Called(ctx, contextID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) GetByReference(ctx context.Context, referenceID string) (*models.Subscription, error) {
	args := m.Called(ctx, referenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) DeleteByReference(ctx context.Context, referenceID string) (int64, error) {
	args := m.Called(ctx, referenceID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSubscriptionRepository) DeleteByContext(ctx context.Context, contextID, tag string) (int64, error) {
	args := m.Called(ctx, contextID, tag)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSubscriptionRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestCreate_AppliesDefaults(t *testing.T) {
	repo := new(MockSubscriptionRepository)
	svc := NewSubscriptionService(repo, nil, "gateway-ctx")

	repo.On("Create", mock.Anything, mock.MatchedBy(func(s *models.Subscription) bool {
		return s.ContextID == "gateway-ctx" &&
			s.ReferenceID == "TF21_FxSpot" &&
			s.Timeframe == DefaultTimeframe
	})).Return(nil)

	sub, err := svc.Create(context.Background(), dto.CreateSubscriptionRequest{Uic: 21, AssetType: "FxSpot"})
	require.NoError(t, err)
	assert.Equal(t, "TF21_FxSpot", sub.ReferenceID)
	assert.Equal(t, 1000, sub.Timeframe)

	repo.AssertExpectations(t)
}

func TestCreate_KeepsExplicitValues(t *testing.T) {
	repo := new(MockSubscriptionRepository)
	svc := NewSubscriptionService(repo, nil, "gateway-ctx")
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	sub, err := svc.Create(context.Background(), dto.CreateSubscriptionRequest{
		ContextID:   "other",
		ReferenceID: "TF_UIC21",
		AlgoName:    "mean_reversion",
		Uic:         21,
		AssetType:   "FxSpot",
		Timeframe:   250,
	})
	require.NoError(t, err)
	assert.Equal(t, "other", sub.ContextID)
	assert.Equal(t, "TF_UIC21", sub.ReferenceID)
	assert.Equal(t, 250, sub.Timeframe)
}

func TestCreate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  dto.CreateSubscriptionRequest
	}{
		{"missing uic", dto.CreateSubscriptionRequest{AssetType: "FxSpot"}},
		{"missing asset type", dto.CreateSubscriptionRequest{Uic: 21}},
		{"negative timeframe", dto.CreateSubscriptionRequest{Uic: 21, AssetType: "FxSpot", Timeframe: -1}},
		{"slash in reference", dto.CreateSubscriptionRequest{Uic: 21, AssetType: "FxSpot", ReferenceID: "a/b"}},
		{"reference too long", dto.CreateSubscriptionRequest{Uic: 21, AssetType: "FxSpot", ReferenceID: fmt.Sprintf("%0256d", 0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockSubscriptionRepository)
			svc := NewSubscriptionService(repo, nil, "ctx")

			_, err := svc.Create(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidSubscription)
			repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestCreate_Duplicate(t *testing.T) {
	repo := new(MockSubscriptionRepository)
	svc := NewSubscriptionService(repo, nil, "ctx")
	repo.On("Create", mock.Anything, mock.Anything).Return(fmt.Errorf("create subscription: %w", gorm.ErrDuplicatedKey))

	_, err := svc.Create(context.Background(), dto.CreateSubscriptionRequest{Uic: 21, AssetType: "FxSpot"})
	assert.ErrorIs(t, err, ErrSubscriptionExists)
}

func TestDelete(t *testing.T) {
	repo := new(MockSubscriptionRepository)
	svc := NewSubscriptionService(repo, nil, "ctx")
	repo.On("DeleteByReference", mock.Anything, "TF_UIC21").Return(int64(1), nil)
	repo.On("DeleteByReference", mock.Anything, "missing").Return(int64(0), nil)

	assert.NoError(t, svc.Delete(context.Background(), "TF_UIC21"))
	assert.ErrorIs(t, svc.Delete(context.Background(), "missing"), ErrSubscriptionNotFound)
	repo.AssertExpectations(t)
}

func TestGet(t *testing.T) {
	repo := new(MockSubscriptionRepository)
	svc := NewSubscriptionService(repo, nil, "ctx")
	repo.On("GetByReference", mock.Anything, "TF21_FxSpot").Return(&models.Subscription{ID: 1, ReferenceID: "TF21_FxSpot"}, nil)
	repo.On("GetByReference", mock.Anything, "missing").Return(nil, fmt.Errorf("get subscription missing: %w", gorm.ErrRecordNotFound))

	sub, err := svc.Get(context.Background(), "TF21_FxSpot")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sub.ID)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	repo.AssertExpectations(t)
}

func TestDeleteByContext_DefaultsToGatewayContext(t *testing.T) {
	repo := new(MockSubscriptionRepository)
	svc := NewSubscriptionService(repo, nil, "gateway-ctx")
	repo.On("DeleteByContext", mock.Anything, "gateway-ctx", "algo").Return(int64(3), nil)

	n, err := svc.DeleteByContext(context.Background(), "", "algo")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	repo.AssertExpectations(t)
}

func TestWithoutStore(t *testing.T) {
	svc := NewSubscriptionService(nil, nil, "ctx")

	_, err := svc.List(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoStore)
	assert.ErrorIs(t, svc.Delete(context.Background(), "x"), ErrNoStore)
	assert.NoError(t, svc.Ping(context.Background()))
}

func TestPing_PropagatesStoreError(t *testing.T) {
	repo := new(MockSubscriptionRepository)
	svc := NewSubscriptionService(repo, nil, "ctx")
	repo.On("Ping", mock.Anything).Return(errors.New("connection refused"))

	assert.Error(t, svc.Ping(context.Background()))
}

func TestLastMessage(t *testing.T) {
	last := streaming.NewLastMessages()
	svc := NewSubscriptionService(nil, last, "ctx")

	_, err := svc.LastMessage("TF_UIC21")
	assert.ErrorIs(t, err, ErrNoLastMessage)

	last.Store(streaming.Message{ID: 7, ReferenceID: "TF_UIC21", Payload: json.RawMessage(`{"Bid":1}`)})
	msg, err := svc.LastMessage("TF_UIC21")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), msg.ID)
}

func TestDelete_ForgetsLastMessage(t *testing.T) {
	repo := new(MockSubscriptionRepository)
	last := streaming.NewLastMessages()
	last.Store(streaming.Message{ID: 1, ReferenceID: "TF_UIC21", Payload: json.RawMessage(`{}`)})
	svc := NewSubscriptionService(repo, last, "ctx")
	repo.On("DeleteByReference", mock.Anything, "TF_UIC21").Return(int64(1), nil)

	require.NoError(t, svc.Delete(context.Background(), "TF_UIC21"))
	assert.Equal(t, 0, last.Len())
}
