package models

import "time"

const (
	SubscriptionStatusTrial      = "trial"
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusExpired    = "expired"
	SubscriptionStatusSuperseded = "superseded"
)

// Subscription tracks access granted by a paid order. Status is mutated only
// by the lifecycle service (payment outcomes and scheduler ticks), never by
// the admin UI directly. Rows are soft-terminal: kept forever for audit.
type Subscription struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	ProfileID uint    `gorm:"not null;index" json:"profile_id"`
	Profile   Profile `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`
	OrderID   uint    `gorm:"not null;uniqueIndex" json:"order_id"`
	TariffID  uint    `gorm:"not null;index" json:"tariff_id"`
	Tariff    Tariff  `gorm:"foreignKey:TariffID" json:"tariff,omitempty"`

	Status        string     `gorm:"type:varchar(16);not null;index" json:"status"`
	AutoRenew     bool       `gorm:"default:false" json:"auto_renew"`
	AccessStartAt time.Time  `json:"access_start_at"`
	AccessEndAt   *time.Time `gorm:"type:timestamp;default:null;index" json:"access_end_at,omitempty"`
	TrialEndAt    *time.Time `gorm:"type:timestamp;default:null;index" json:"trial_end_at,omitempty"`
	NextChargeAt  *time.Time `gorm:"type:timestamp;default:null;index" json:"next_charge_at,omitempty"`

	GracePeriodStartedAt *time.Time `gorm:"type:timestamp;default:null" json:"grace_period_started_at,omitempty"`
	GracePeriodEndsAt    *time.Time `gorm:"type:timestamp;default:null;index" json:"grace_period_ends_at,omitempty"`
	ChargeAttempts       int        `gorm:"default:0" json:"charge_attempts"`

	// Card used for recurring charges.
	CardLinkID *uint `gorm:"index" json:"card_link_id,omitempty"`

	SupersededByID *uint `gorm:"index" json:"superseded_by_id,omitempty"`

	// Optimistic concurrency control for read-modify-write updates.
	LockVersion int `gorm:"not null;default:0" json:"lock_version"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether no further lifecycle transitions are allowed.
func (s *Subscription) IsTerminal() bool {
	switch s.Status {
	case SubscriptionStatusCanceled, SubscriptionStatusExpired, SubscriptionStatusSuperseded:
		return true
	default:
		return false
	}
}

// HasAccess reports whether the subscription currently grants access.
func (s *Subscription) HasAccess(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusTrial, SubscriptionStatusActive, SubscriptionStatusPastDue:
		return true
	case SubscriptionStatusCanceled:
		// Access is kept until the already-paid period ends.
		return s.AccessEndAt != nil && now.Before(*s.AccessEndAt)
	default:
		return false
	}
}
