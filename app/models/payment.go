package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is a ledger record: one row per canonical outcome applied to an
// order. Refund/cancel rows point back at the payment they reverse via
// ReferencePaymentID; their aggregate amount must never exceed the original.
type Payment struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	OrderID            uint            `gorm:"not null;index" json:"order_id"`
	ProfileID          uint            `gorm:"not null;index" json:"profile_id"`
	Provider           string          `gorm:"type:varchar(32);not null;index:ux_payments_provider_pid,unique,priority:1" json:"provider"`
	ProviderPaymentID  string          `gorm:"type:varchar(191);not null;index:ux_payments_provider_pid,unique,priority:2" json:"provider_payment_id"`
	Amount             decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency           string          `gorm:"type:varchar(8);not null;default:'RUB'" json:"currency"`
	Status             string          `gorm:"type:varchar(16);not null;index" json:"status"`
	ReferencePaymentID *uint           `gorm:"index" json:"reference_payment_id,omitempty"`
	PaidAt             *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsReversal reports whether the ledger row reverses an earlier payment.
func (p *Payment) IsReversal() bool {
	return p.ReferencePaymentID != nil
}
