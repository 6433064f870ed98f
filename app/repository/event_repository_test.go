package repository

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	dsn := os.Getenv("KASSAFLOW_TEST_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test that requires a MySQL database (set KASSAFLOW_TEST_DSN)")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.PaymentEvent{}))
	require.NoError(t, db.Exec("DELETE FROM payment_events").Error)
	return db
}

func TestEnqueueIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	repo := NewEventRepository(db)

	event := &models.PaymentEvent{
		Provider:   "cloudpay",
		ExternalID: "tx-100",
		RawStatus:  "succeeded",
		Amount:     decimal.RequireFromString("990.00"),
		Currency:   "RUB",
		Source:     models.EventSourceWebhook,
		State:      models.EventStatePending,
	}
	first, created, err := repo.Enqueue(event)
	require.NoError(t, err)
	require.True(t, created)

	redelivery := &models.PaymentEvent{
		Provider:   "cloudpay",
		ExternalID: "tx-100",
		RawStatus:  "succeeded",
		Amount:     decimal.RequireFromString("990.00"),
		Currency:   "RUB",
		Source:     models.EventSourceWebhook,
		State:      models.EventStatePending,
	}
	second, created, err := repo.Enqueue(redelivery)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.PaymentEvent{}).
		Where("provider = ? AND external_id = ?", "cloudpay", "tx-100").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRescheduleKeepsAttemptBudget(t *testing.T) {
	repo := NewEventRepository(openTestDB(t))

	event := &models.PaymentEvent{
		Provider:   "cloudpay",
		ExternalID: "tx-101",
		RawStatus:  "succeeded",
		Amount:     decimal.RequireFromString("500.00"),
		Currency:   "RUB",
		Source:     models.EventSourceWebhook,
		State:      models.EventStatePending,
	}
	stored, _, err := repo.Enqueue(event)
	require.NoError(t, err)

	claimed, err := repo.Claim(1, "worker-t1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Losing a lock race frees the row but never consumes an attempt.
	require.NoError(t, repo.Reschedule(stored.ID, time.Now(), "order busy"))

	row, err := repo.GetByID(stored.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, row.Attempts)
	assert.Equal(t, "", row.ClaimedBy)
	assert.Equal(t, "order busy", row.LastError)
	assert.Equal(t, models.EventStatePending, row.State)

	// A real failure does consume one.
	parked, err := repo.Fail(stored.ID, "match: boom", time.Now().Add(time.Minute), 8)
	require.NoError(t, err)
	assert.False(t, parked)

	row, err = repo.GetByID(stored.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, row.Attempts)
}
