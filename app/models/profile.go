package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Profile is a CRM customer record. Payment events reference profiles through
// identity attributes (email, phone, card fingerprint), never through direct
// foreign keys, so identity fields are stored normalized for lookups.
type Profile struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	FirstName       string         `gorm:"type:varchar(100)" json:"first_name"`
	LastName        string         `gorm:"type:varchar(100)" json:"last_name"`
	Email           string         `gorm:"type:varchar(200);index" json:"email"`
	Phone           string         `gorm:"type:varchar(32)" json:"phone"`
	NormalizedPhone string         `gorm:"type:varchar(32);index" json:"normalized_phone"`
	TelegramID      string         `gorm:"type:varchar(64);default:''" json:"telegram_id"`
	IsActive        bool           `gorm:"default:true;index" json:"is_active"`
	MergedIntoID    *uint          `gorm:"index" json:"merged_into_id,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// CardLink binds a stored card fingerprint to a profile. Used by the matcher
// for recurring charges that carry no order token.
type CardLink struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ProfileID   uint      `gorm:"not null;index:ux_card_links_profile_fp,unique,priority:1" json:"profile_id"`
	Brand       string    `gorm:"type:varchar(32)" json:"brand"`
	Last4       string    `gorm:"type:varchar(4)" json:"last4"`
	HolderName  string    `gorm:"type:varchar(200)" json:"holder_name"`
	Fingerprint string    `gorm:"type:varchar(64);not null;index;index:ux_card_links_profile_fp,unique,priority:2" json:"fingerprint"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// NormalizeEmail lowercases and trims an email for identity comparison.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizePhone strips an input phone down to digits. A leading "8" on an
// 11-digit number is rewritten to "7" (common RU dialing variant) so both
// notations compare equal.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '8' {
		digits = "7" + digits[1:]
	}
	return digits
}

// CardFingerprint derives a stable fingerprint from brand + last4 + holder.
func CardFingerprint(brand, last4, holder string) string {
	if strings.TrimSpace(last4) == "" {
		return ""
	}
	raw := strings.ToLower(strings.TrimSpace(brand)) + "|" +
		strings.TrimSpace(last4) + "|" +
		strings.ToLower(strings.TrimSpace(holder))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
