package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InstallmentStatusScheduled = "scheduled"
	InstallmentStatusPaid      = "paid"
	InstallmentStatusFailed    = "failed"
	InstallmentStatusCanceled  = "canceled"
)

// InstallmentPayment is one part of a split payment plan. PaymentNumber is
// 1-based and unique per subscription.
type InstallmentPayment struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	SubscriptionID uint            `gorm:"not null;index:ux_installments_sub_number,unique,priority:1" json:"subscription_id"`
	OrderID        uint            `gorm:"not null;index" json:"order_id"`
	PaymentNumber  int             `gorm:"not null;index:ux_installments_sub_number,unique,priority:2" json:"payment_number"`
	TotalPayments  int             `gorm:"not null" json:"total_payments"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	DueDate        time.Time       `gorm:"not null;index" json:"due_date"`
	Status         string          `gorm:"type:varchar(16);not null;default:'scheduled';index" json:"status"`
	ChargeAttempts int             `gorm:"default:0" json:"charge_attempts"`
	PaidAt         *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
