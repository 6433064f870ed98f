package repository

import (
	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
)

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a ProfileRepository backed by GORM.
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) GetByID(id uint) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.First(&profile, id).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *profileRepository) FindActiveByEmail(normalizedEmail string) ([]models.Profile, error) {
	if normalizedEmail == "" {
		return nil, nil
	}
	var profiles []models.Profile
	err := r.db.Where("email = ? AND is_active = ?", normalizedEmail, true).
		Find(&profiles).Error
	return profiles, err
}

func (r *profileRepository) FindActiveByPhone(normalizedPhone string) ([]models.Profile, error) {
	if normalizedPhone == "" {
		return nil, nil
	}
	var profiles []models.Profile
	err := r.db.Where("normalized_phone = ? AND is_active = ?", normalizedPhone, true).
		Find(&profiles).Error
	return profiles, err
}

func (r *profileRepository) FindCardLinks(fingerprint string) ([]models.CardLink, error) {
	if fingerprint == "" {
		return nil, nil
	}
	var links []models.CardLink
	err := r.db.Where("fingerprint = ?", fingerprint).Find(&links).Error
	return links, err
}

func (r *profileRepository) Create(profile *models.Profile) error {
	profile.Email = models.NormalizeEmail(profile.Email)
	profile.NormalizedPhone = models.NormalizePhone(profile.Phone)
	return r.db.Create(profile).Error
}

func (r *profileRepository) Update(profile *models.Profile) error {
	profile.Email = models.NormalizeEmail(profile.Email)
	profile.NormalizedPhone = models.NormalizePhone(profile.Phone)
	return r.db.Save(profile).Error
}
