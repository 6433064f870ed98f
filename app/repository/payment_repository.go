package repository

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a PaymentRepository backed by GORM.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) GetByProviderPaymentID(provider, providerPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) ListByOrder(orderID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.Where("order_id = ?", orderID).Order("id").Find(&payments).Error
	return payments, err
}

func (r *paymentRepository) SumReversals(paymentID uint) (decimal.Decimal, error) {
	var raw *string
	err := r.db.Model(&models.Payment{}).
		Select("CAST(SUM(amount) AS CHAR)").
		Where("reference_payment_id = ?", paymentID).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}
