package dedup

import (
	"encoding/json"
	"os"
	"testing"

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
	require.NoError(t, db.AutoMigrate(
		&models.Profile{}, &models.CardLink{}, &models.Tariff{}, &models.Order{},
		&models.Payment{}, &models.PaymentEvent{}, &models.Subscription{},
		&models.DuplicateCase{}, &models.DuplicateCaseMember{}, &models.MergeHistory{},
	))
	for _, table := range []string{
		"merge_histories", "duplicate_case_members", "duplicate_cases",
		"payments", "payment_events", "subscriptions", "orders", "card_links", "profiles",
	} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
	return db
}

func TestMergeReassignsWholeLedger(t *testing.T) {
	db := openTestDB(t)

	master := models.Profile{Email: "anna@example.com", IsActive: true}
	victim := models.Profile{Email: "anna@example.com", IsActive: true}
	require.NoError(t, db.Create(&master).Error)
	require.NoError(t, db.Create(&victim).Error)

	order := models.Order{
		PublicToken: "ord-merge-1",
		ProfileID:   victim.ID,
		TariffID:    1,
		Amount:      decimal.RequireFromString("990.00"),
		Currency:    "RUB",
		Status:      models.OrderStatusPaid,
	}
	require.NoError(t, db.Create(&order).Error)
	payment := models.Payment{
		OrderID:           order.ID,
		ProfileID:         victim.ID,
		Provider:          "cloudpay",
		ProviderPaymentID: "tx-merge-1",
		Amount:            decimal.RequireFromString("990.00"),
		Currency:          "RUB",
		Status:            "succeeded",
	}
	require.NoError(t, db.Create(&payment).Error)

	dupCase := models.DuplicateCase{
		AttributeType:  models.DuplicateAttributeEmail,
		AttributeValue: "anna@example.com",
		Status:         models.DuplicateCaseStatusOpen,
	}
	require.NoError(t, db.Create(&dupCase).Error)
	require.NoError(t, db.Create(&models.DuplicateCaseMember{CaseID: dupCase.ID, ProfileID: master.ID}).Error)
	require.NoError(t, db.Create(&models.DuplicateCaseMember{CaseID: dupCase.ID, ProfileID: victim.ID}).Error)

	require.NoError(t, NewMerger(db).Merge(dupCase.ID, master.ID, "ops@kassaflow"))

	// The whole ledger of the victim now points at the master.
	var movedOrder models.Order
	require.NoError(t, db.First(&movedOrder, order.ID).Error)
	assert.Equal(t, master.ID, movedOrder.ProfileID)

	var movedPayment models.Payment
	require.NoError(t, db.First(&movedPayment, payment.ID).Error)
	assert.Equal(t, master.ID, movedPayment.ProfileID)

	var tombstone models.Profile
	require.NoError(t, db.First(&tombstone, victim.ID).Error)
	assert.False(t, tombstone.IsActive)
	require.NotNil(t, tombstone.MergedIntoID)
	assert.Equal(t, master.ID, *tombstone.MergedIntoID)

	// The audit snapshot records the moved payment.
	var history models.MergeHistory
	require.NoError(t, db.Where("case_id = ?", dupCase.ID).First(&history).Error)
	var snapshot mergeSnapshot
	require.NoError(t, json.Unmarshal([]byte(history.SnapshotJSON), &snapshot))
	assert.Contains(t, snapshot.Payments, payment.ID)
	assert.Contains(t, snapshot.Orders, order.ID)

	var resolved models.DuplicateCase
	require.NoError(t, db.First(&resolved, dupCase.ID).Error)
	assert.Equal(t, models.DuplicateCaseStatusResolved, resolved.Status)
}
