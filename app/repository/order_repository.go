package repository

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
)

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an OrderRepository backed by GORM.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.Preload("Tariff").First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetByPublicToken(token string) (*models.Order, error) {
	var order models.Order
	err := r.db.Preload("Tariff").Where("public_token = ?", token).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) FindPayableByProfiles(profileIDs []uint, amount decimal.Decimal, currency string, createdAfter time.Time, includePaid bool) ([]models.Order, error) {
	if len(profileIDs) == 0 {
		return nil, nil
	}
	statuses := []string{models.OrderStatusPending, models.OrderStatusPartial, models.OrderStatusFailed}
	if includePaid {
		statuses = append(statuses, models.OrderStatusPaid)
	}
	var orders []models.Order
	err := r.db.Preload("Tariff").
		Where("profile_id IN ?", profileIDs).
		Where("status IN ?", statuses).
		Where("amount = ?", amount).
		Where("currency = ?", currency).
		Where("created_at >= ?", createdAfter).
		Order("created_at desc").
		Find(&orders).Error
	return orders, err
}
