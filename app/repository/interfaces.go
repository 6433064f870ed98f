package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
)

// EventRepository defines the durable reconciliation queue operations.
type EventRepository interface {
	// Enqueue inserts a raw event keyed by (provider, external_id). When the
	// key already exists the call is a no-op and returns the stored row with
	// created=false.
	Enqueue(event *models.PaymentEvent) (*models.PaymentEvent, bool, error)
	// Claim atomically selects up to limit due rows and marks them claimed by
	// workerID. Two workers can never claim the same row.
	Claim(limit int, workerID string) ([]models.PaymentEvent, error)
	Complete(id uint) error
	// Fail records the error, bumps the attempt count and schedules the next
	// retry; rows that exhausted their budget are parked instead.
	Fail(id uint, reason string, nextRetryAt time.Time, maxAttempts int) (parked bool, err error)
	Park(id uint, reason string) error
	// Reschedule frees a claimed row for a later drain without bumping the
	// attempt count; used when the row lost a lock race, not when it failed.
	Reschedule(id uint, nextRetryAt time.Time, reason string) error
	Requeue(id uint) error
	GetByID(id uint) (*models.PaymentEvent, error)
	// GetByKey returns the event for (provider, external_id), nil when absent.
	GetByKey(provider, externalID string) (*models.PaymentEvent, error)
	// ReleaseStaleClaims frees rows whose worker died mid-flight.
	ReleaseStaleClaims(olderThan time.Duration) (int64, error)
	BacklogStats() (*QueueBacklog, error)
	ListManualReview(offset, limit int) ([]models.PaymentEvent, error)

	CreateOverride(o *models.ManualOverride) error
	LatestOverride(provider, externalID string) (*models.ManualOverride, error)
}

// OrderRepository defines order lookups used by the matcher and reconciler.
type OrderRepository interface {
	GetByID(id uint) (*models.Order, error)
	// GetByPublicToken returns the order carrying the token, nil when unknown.
	GetByPublicToken(token string) (*models.Order, error)
	// FindPayableByProfiles returns orders for the given profiles matching
	// amount and currency, created within the window. Only orders still
	// awaiting money are considered unless includePaid is set; reversals need
	// the paid order they undo.
	FindPayableByProfiles(profileIDs []uint, amount decimal.Decimal, currency string, createdAfter time.Time, includePaid bool) ([]models.Order, error)
}

// PaymentRepository defines ledger lookups.
type PaymentRepository interface {
	GetByProviderPaymentID(provider, providerPaymentID string) (*models.Payment, error)
	ListByOrder(orderID uint) ([]models.Payment, error)
	// SumReversals returns the aggregate refunded/canceled amount referencing
	// the given payment.
	SumReversals(paymentID uint) (decimal.Decimal, error)
}

// ProfileRepository defines CRM identity lookups.
type ProfileRepository interface {
	GetByID(id uint) (*models.Profile, error)
	FindActiveByEmail(normalizedEmail string) ([]models.Profile, error)
	FindActiveByPhone(normalizedPhone string) ([]models.Profile, error)
	FindCardLinks(fingerprint string) ([]models.CardLink, error)
	Create(profile *models.Profile) error
	Update(profile *models.Profile) error
}

// SubscriptionRepository defines subscription lookups; mutations go through
// the lifecycle service.
type SubscriptionRepository interface {
	GetByID(id uint) (*models.Subscription, error)
	GetByOrderID(orderID uint) (*models.Subscription, error)
	FindCurrentByProfileAndTariff(profileID, tariffID uint) (*models.Subscription, error)
	FindActiveByCardLink(cardLinkID uint) ([]models.Subscription, error)
	ListByProfile(profileID uint) ([]models.Subscription, error)
}

// DuplicateRepository defines duplicate-case storage.
type DuplicateRepository interface {
	FindOpenByAttribute(attributeType, attributeValue string) (*models.DuplicateCase, error)
	Create(dupCase *models.DuplicateCase) error
	AddMember(caseID, profileID uint) error
	// HasOpenCaseForProfiles reports whether any of the profiles is part of an
	// open, unresolved duplicate case.
	HasOpenCaseForProfiles(profileIDs []uint) (bool, error)
	GetByID(id uint) (*models.DuplicateCase, error)
	ListOpen(offset, limit int) ([]models.DuplicateCase, error)
	CountOpen() (int64, error)
}

// QueueBacklog summarizes the reconciliation queue for the admin surface.
type QueueBacklog struct {
	Pending      int64      `json:"pending"`
	ManualReview int64      `json:"manual_review"`
	Resolved     int64      `json:"resolved"`
	OldestDue    *time.Time `json:"oldest_due,omitempty"`
}

// Repositories struct holds all repository instances
type Repositories struct {
	Event        EventRepository
	Order        OrderRepository
	Payment      PaymentRepository
	Profile      ProfileRepository
	Subscription SubscriptionRepository
	Duplicate    DuplicateRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Event:        NewEventRepository(db),
		Order:        NewOrderRepository(db),
		Payment:      NewPaymentRepository(db),
		Profile:      NewProfileRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Duplicate:    NewDuplicateRepository(db),
	}
}
