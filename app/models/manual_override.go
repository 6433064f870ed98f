package models

import "time"

// ManualOverride is an admin status correction keyed by (provider,
// external_id). Overrides live next to, not inside, the raw event stream so
// they stay auditable and cannot be clobbered by late provider deliveries.
// Multiple overrides per key are allowed; the newest wins.
type ManualOverride struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(32);not null;index:idx_manual_overrides_provider_ext,priority:1" json:"provider"`
	ExternalID      string    `gorm:"type:varchar(191);not null;index:idx_manual_overrides_provider_ext,priority:2" json:"external_id"`
	CorrectedStatus string    `gorm:"type:varchar(100);not null" json:"corrected_status"`
	Reason          string    `gorm:"type:text" json:"reason"`
	CreatedBy       string    `gorm:"type:varchar(100);not null" json:"created_by"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
