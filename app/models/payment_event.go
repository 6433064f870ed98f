package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Event sources.
const (
	EventSourceWebhook  = "webhook"
	EventSourceImport   = "import"
	EventSourceOverride = "override"
)

// Processing states of a queue row. Every ingested event stays visible in one
// of these states until resolved; rows are never deleted.
const (
	EventStatePending      = "pending"
	EventStateResolved     = "resolved"
	EventStateManualReview = "needs_manual_review"
)

// PaymentEvent is a raw provider event staged for reconciliation. The
// (provider, external_id) pair is unique so webhook re-deliveries collapse
// into a single row.
type PaymentEvent struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	Provider   string          `gorm:"type:varchar(32);not null;index:ux_payment_events_provider_ext,unique,priority:1;index" json:"provider"`
	ExternalID string          `gorm:"type:varchar(191);not null;index:ux_payment_events_provider_ext,unique,priority:2" json:"external_id"`
	RawStatus  string          `gorm:"type:varchar(100);not null" json:"raw_status"`
	RawType    string          `gorm:"type:varchar(100)" json:"raw_type"`
	Amount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency   string          `gorm:"type:varchar(8);not null;default:'RUB'" json:"currency"`
	OccurredAt *time.Time      `gorm:"type:timestamp;default:null" json:"occurred_at,omitempty"`

	// Free-form customer fields as reported by the provider.
	Email        string `gorm:"type:varchar(200)" json:"email"`
	Phone        string `gorm:"type:varchar(32)" json:"phone"`
	CustomerName string `gorm:"type:varchar(200)" json:"customer_name"`
	CardBrand    string `gorm:"type:varchar(32)" json:"card_brand"`
	CardLast4    string `gorm:"type:varchar(4)" json:"card_last4"`
	CardHolder   string `gorm:"type:varchar(200)" json:"card_holder"`
	OrderToken   string `gorm:"type:varchar(64);index" json:"order_token"`
	Recurring    bool   `gorm:"default:false" json:"recurring"`

	Source     string `gorm:"type:varchar(16);not null;default:'webhook'" json:"source"`
	RawPayload string `gorm:"type:longtext" json:"raw_payload"`

	// Processing fields.
	State       string     `gorm:"type:varchar(24);not null;default:'pending';index:idx_payment_events_state_retry,priority:1" json:"state"`
	Attempts    int        `gorm:"default:0" json:"attempts"`
	LastError   string     `gorm:"type:text" json:"last_error"`
	NextRetryAt time.Time  `gorm:"index:idx_payment_events_state_retry,priority:2" json:"next_retry_at"`
	ClaimedBy   string     `gorm:"type:varchar(64);default:'';index" json:"claimed_by"`
	ClaimedAt   *time.Time `gorm:"type:timestamp;default:null" json:"claimed_at,omitempty"`
	ProcessedAt *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`

	// Set once the matcher resolves the event.
	MatchedOrderID   *uint `gorm:"index" json:"matched_order_id,omitempty"`
	MatchedProfileID *uint `json:"matched_profile_id,omitempty"`
	MatchedTariffID  *uint `json:"matched_tariff_id,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnsureExternalID fills ExternalID with a stable hash of business fields when
// the provider did not supply a transaction id, so dedup still works.
func (e *PaymentEvent) EnsureExternalID() {
	if strings.TrimSpace(e.ExternalID) != "" {
		return
	}
	occurred := ""
	if e.OccurredAt != nil {
		occurred = e.OccurredAt.UTC().Format(time.RFC3339)
	}
	raw := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		strings.ToLower(strings.TrimSpace(e.Provider)),
		e.Amount.String(),
		strings.ToUpper(strings.TrimSpace(e.Currency)),
		strings.ToLower(strings.TrimSpace(e.RawStatus)),
		occurred,
		NormalizeEmail(e.Email),
		strings.TrimSpace(e.OrderToken),
	)
	sum := sha256.Sum256([]byte(raw))
	e.ExternalID = "hash:" + hex.EncodeToString(sum[:])
}

// IsDue reports whether the row is eligible for claiming at the given time.
func (e *PaymentEvent) IsDue(now time.Time) bool {
	return e.State == EventStatePending && !e.NextRetryAt.After(now)
}
