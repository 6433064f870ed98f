package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusDraft    = "draft"
	OrderStatusPending  = "pending"
	OrderStatusPaid     = "paid"
	OrderStatusPartial  = "partial"
	OrderStatusFailed   = "failed"
	OrderStatusRefunded = "refunded"
	OrderStatusCanceled = "canceled"
)

// Order is created at checkout (outside this core) and mutated only by the
// reconciler when a matching payment event resolves, or by cancellation flows.
type Order struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	PublicToken string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"public_token"`
	ProfileID   uint            `gorm:"not null;index" json:"profile_id"`
	Profile     Profile         `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`
	TariffID    uint            `gorm:"not null;index" json:"tariff_id"`
	Tariff      Tariff          `gorm:"foreignKey:TariffID" json:"tariff,omitempty"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	PaidAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"paid_amount"`
	Currency    string          `gorm:"type:varchar(8);not null;default:'RUB'" json:"currency"`
	Status      string          `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	CreatedAt   time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the order may no longer change status. Paid
// orders are terminal except for subsequent refunds.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusRefunded, OrderStatusCanceled:
		return true
	default:
		return false
	}
}
