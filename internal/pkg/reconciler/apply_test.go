package reconciler

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
	"github.com/kassaflow/kassaflow/app/repository"
	"github.com/kassaflow/kassaflow/internal/pkg/lifecycle"
)

type recordingNotifier struct {
	transitions []string
}

func (n *recordingNotifier) SubscriptionTransition(tx *gorm.DB, subscriptionID uint, fromState, toState, reason string) error {
	n.transitions = append(n.transitions, fromState+">"+toState)
	return nil
}

func (n *recordingNotifier) QueueParked(tx *gorm.DB, queueRowID uint, reason string) error {
	return nil
}

func (n *recordingNotifier) ChargeDue(tx *gorm.DB, subscriptionID uint, reason string) error {
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	dsn := os.Getenv("KASSAFLOW_TEST_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test that requires a MySQL database (set KASSAFLOW_TEST_DSN)")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Profile{}, &models.Tariff{}, &models.Order{}, &models.Payment{},
		&models.Subscription{}, &models.InstallmentPayment{},
	))
	for _, table := range []string{"payments", "installment_payments", "subscriptions", "orders", "tariffs", "profiles"} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
	return db
}

// paidOrderFixture writes a paid order with one succeeded charge and an
// active subscription on it.
func paidOrderFixture(t *testing.T, db *gorm.DB, amount string) (*models.Order, *models.Payment) {
	now := time.Now()
	profile := models.Profile{Email: "anna@example.com", IsActive: true}
	require.NoError(t, db.Create(&profile).Error)
	tariff := models.Tariff{Name: "Course", Amount: decimal.RequireFromString(amount), PeriodDays: 30, GrantsAccess: true, IsActive: true}
	require.NoError(t, db.Create(&tariff).Error)
	order := models.Order{
		PublicToken: "ord-rev-1",
		ProfileID:   profile.ID,
		TariffID:    tariff.ID,
		Amount:      decimal.RequireFromString(amount),
		PaidAmount:  decimal.RequireFromString(amount),
		Currency:    "RUB",
		Status:      models.OrderStatusPaid,
	}
	require.NoError(t, db.Create(&order).Error)
	payment := models.Payment{
		OrderID:           order.ID,
		ProfileID:         profile.ID,
		Provider:          "cloudpay",
		ProviderPaymentID: "tx-orig-1",
		Amount:            decimal.RequireFromString(amount),
		Currency:          "RUB",
		Status:            "succeeded",
		PaidAt:            &now,
	}
	require.NoError(t, db.Create(&payment).Error)
	sub := models.Subscription{
		ProfileID:     profile.ID,
		OrderID:       order.ID,
		TariffID:      tariff.ID,
		Status:        models.SubscriptionStatusActive,
		AccessStartAt: now,
	}
	require.NoError(t, db.Create(&sub).Error)
	order.Tariff = tariff
	return &order, &payment
}

func refundEvent(externalID, amount string) *models.PaymentEvent {
	return &models.PaymentEvent{
		Provider:   "cloudpay",
		ExternalID: externalID,
		RawStatus:  "refunded",
		Amount:     decimal.RequireFromString(amount),
		Currency:   "RUB",
	}
}

func (r *Reconciler) reverseInTx(event *models.PaymentEvent, order *models.Order, at time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return r.applyReversal(tx, event, order, models.OrderStatusRefunded, at)
	})
}

func TestApplyReversalNeverExceedsOriginal(t *testing.T) {
	db := openTestDB(t)
	notifier := &recordingNotifier{}
	r := New(db, repository.NewRepositories(db), lifecycle.NewService(notifier), notifier)

	order, payment := paidOrderFixture(t, db, "990.00")
	at := time.Now()

	// A partial refund goes through and leaves the order paid.
	require.NoError(t, r.reverseInTx(refundEvent("ref-1", "600.00"), order, at))

	var reloaded models.Order
	require.NoError(t, db.First(&reloaded, order.ID).Error)
	assert.Equal(t, models.OrderStatusPaid, reloaded.Status)

	var reversal models.Payment
	require.NoError(t, db.Where("provider_payment_id = ?", "ref-1").First(&reversal).Error)
	require.NotNil(t, reversal.ReferencePaymentID)
	assert.Equal(t, payment.ID, *reversal.ReferencePaymentID)

	// 600 + 600 would overshoot the 990 charge; the row must park, not apply.
	err := r.reverseInTx(refundEvent("ref-2", "600.00"), order, at)
	var pErr *parkError
	require.True(t, errors.As(err, &pErr), "got %v, want park", err)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Where("reference_payment_id = ?", payment.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// The exact remainder still fits; the full reversal flips the order and
	// cancels the subscription.
	require.NoError(t, r.reverseInTx(refundEvent("ref-3", "390.00"), order, at))

	require.NoError(t, db.First(&reloaded, order.ID).Error)
	assert.Equal(t, models.OrderStatusRefunded, reloaded.Status)

	var sub models.Subscription
	require.NoError(t, db.Where("order_id = ?", order.ID).First(&sub).Error)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Contains(t, notifier.transitions, "active>canceled")
}

func TestApplyReversalWithoutOriginalParks(t *testing.T) {
	db := openTestDB(t)
	notifier := &recordingNotifier{}
	r := New(db, repository.NewRepositories(db), lifecycle.NewService(notifier), notifier)

	profile := models.Profile{Email: "boris@example.com", IsActive: true}
	require.NoError(t, db.Create(&profile).Error)
	tariff := models.Tariff{Name: "Course", Amount: decimal.RequireFromString("990.00"), PeriodDays: 30, IsActive: true}
	require.NoError(t, db.Create(&tariff).Error)
	order := models.Order{
		PublicToken: "ord-rev-2",
		ProfileID:   profile.ID,
		TariffID:    tariff.ID,
		Amount:      decimal.RequireFromString("990.00"),
		Currency:    "RUB",
		Status:      models.OrderStatusPending,
	}
	require.NoError(t, db.Create(&order).Error)

	err := r.reverseInTx(refundEvent("ref-4", "990.00"), &order, time.Now())
	var pErr *parkError
	require.True(t, errors.As(err, &pErr), "got %v, want park", err)
}
