package models

import "time"

// Subscription is the metadata of one broker price subscription. The stream
// itself is keyed by ReferenceID.
type Subscription struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ContextID   string    `gorm:"not null;uniqueIndex:subscriptions_context_id_reference_id_key" json:"context_id"`
	ReferenceID string    `gorm:"not null;uniqueIndex:subscriptions_context_id_reference_id_key;index" json:"reference_id"`
	AlgoName    string    `gorm:"not null;default:''" json:"algo_name"` // tag the subscription was created under
	Uic         int64     `gorm:"not null" json:"uic"`                  // broker instrument id
	AssetType   string    `gorm:"not null" json:"asset_type"`
	Timeframe   int       `gorm:"not null;default:1000" json:"timeframe"` // refresh rate in ms
	CreatedAt   time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
