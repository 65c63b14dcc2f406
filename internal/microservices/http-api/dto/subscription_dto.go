package dto

import (
	"encoding/json"

	"tradegateway/internal/microservices/http-api/models"
)

// CreateSubscriptionRequest: payload to record a subscription.
// ContextID defaults to the gateway's own context id, ReferenceID to
// TF<uic>_<asset_type>.
type CreateSubscriptionRequest struct {
	ContextID   string `json:"context_id"`
	ReferenceID string `json:"reference_id"`
	AlgoName    string `json:"algo_name"`
	Uic         int64  `json:"uic" binding:"required"`
	AssetType   string `json:"asset_type" binding:"required"`
	Timeframe   int    `json:"timeframe"`
}

// SubscriptionListResponse: list of subscriptions
type SubscriptionListResponse struct {
	Items []models.Subscription `json:"items"`
	Total int                   `json:"total"`
}

// LastMessageResponse: last message seen for a reference id
type LastMessageResponse struct {
	MessageID   uint64          `json:"message_id"`
	ReferenceID string          `json:"reference_id"`
	Payload     json.RawMessage `json:"payload"`
}
