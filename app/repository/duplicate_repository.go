package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kassaflow/kassaflow/app/models"
)

type duplicateRepository struct {
	db *gorm.DB
}

// NewDuplicateRepository creates a DuplicateRepository backed by GORM.
func NewDuplicateRepository(db *gorm.DB) DuplicateRepository {
	return &duplicateRepository{db: db}
}

func (r *duplicateRepository) FindOpenByAttribute(attributeType, attributeValue string) (*models.DuplicateCase, error) {
	var dupCase models.DuplicateCase
	err := r.db.Preload("Members").
		Where("attribute_type = ? AND attribute_value = ? AND status = ?",
			attributeType, attributeValue, models.DuplicateCaseStatusOpen).
		First(&dupCase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &dupCase, nil
}

func (r *duplicateRepository) Create(dupCase *models.DuplicateCase) error {
	return r.db.Create(dupCase).Error
}

func (r *duplicateRepository) AddMember(caseID, profileID uint) error {
	member := models.DuplicateCaseMember{CaseID: caseID, ProfileID: profileID}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "case_id"},
			{Name: "profile_id"},
		},
		DoNothing: true,
	}).Create(&member).Error
}

func (r *duplicateRepository) HasOpenCaseForProfiles(profileIDs []uint) (bool, error) {
	if len(profileIDs) == 0 {
		return false, nil
	}
	var count int64
	err := r.db.Model(&models.DuplicateCaseMember{}).
		Joins("JOIN duplicate_cases ON duplicate_cases.id = duplicate_case_members.case_id").
		Where("duplicate_case_members.profile_id IN ?", profileIDs).
		Where("duplicate_cases.status = ?", models.DuplicateCaseStatusOpen).
		Count(&count).Error
	return count > 0, err
}

func (r *duplicateRepository) GetByID(id uint) (*models.DuplicateCase, error) {
	var dupCase models.DuplicateCase
	if err := r.db.Preload("Members").First(&dupCase, id).Error; err != nil {
		return nil, err
	}
	return &dupCase, nil
}

func (r *duplicateRepository) ListOpen(offset, limit int) ([]models.DuplicateCase, error) {
	var cases []models.DuplicateCase
	err := r.db.Preload("Members").
		Where("status = ?", models.DuplicateCaseStatusOpen).
		Order("id desc").
		Offset(offset).
		Limit(limit).
		Find(&cases).Error
	return cases, err
}

func (r *duplicateRepository) CountOpen() (int64, error) {
	var count int64
	err := r.db.Model(&models.DuplicateCase{}).
		Where("status = ?", models.DuplicateCaseStatusOpen).
		Count(&count).Error
	return count, err
}
