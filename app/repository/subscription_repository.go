package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
)

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a SubscriptionRepository backed by GORM.
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

var nonTerminalStatuses = []string{
	models.SubscriptionStatusTrial,
	models.SubscriptionStatusActive,
	models.SubscriptionStatusPastDue,
}

func (r *subscriptionRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Preload("Tariff").First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByOrderID(orderID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("Tariff").Where("order_id = ?", orderID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) FindCurrentByProfileAndTariff(profileID, tariffID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("profile_id = ? AND tariff_id = ? AND status IN ?", profileID, tariffID, nonTerminalStatuses).
		Order("id desc").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) FindActiveByCardLink(cardLinkID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Preload("Tariff").
		Where("card_link_id = ? AND status IN ?", cardLinkID, nonTerminalStatuses).
		Find(&subs).Error
	return subs, err
}

func (r *subscriptionRepository) ListByProfile(profileID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Preload("Tariff").
		Where("profile_id = ?", profileID).
		Order("id desc").
		Find(&subs).Error
	return subs, err
}
