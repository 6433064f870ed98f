package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tariff describes a purchasable offer: one-off, trial or installment plan.
type Tariff struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Name          string          `gorm:"type:varchar(200);not null" json:"name"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency      string          `gorm:"type:varchar(8);not null;default:'RUB'" json:"currency"`
	IsTrial       bool            `gorm:"default:false" json:"is_trial"`
	TrialDays     int             `gorm:"default:0" json:"trial_days"`
	PeriodDays    int             `gorm:"default:30" json:"period_days"`
	TotalPayments int             `gorm:"default:1" json:"total_payments"`
	AutoRenew     bool            `gorm:"default:false" json:"auto_renew"`
	GrantsAccess  bool            `gorm:"default:true" json:"grants_access"`
	IsActive      bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasInstallments reports whether the tariff is paid in more than one part.
func (t *Tariff) HasInstallments() bool {
	return t.TotalPayments > 1
}
