package dedup

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
)

var (
	ErrCaseNotOpen      = errors.New("duplicate case is not open")
	ErrMasterNotMember  = errors.New("master profile is not a member of the case")
	ErrMasterNotActive  = errors.New("master profile is not active")
	ErrNothingToMerge   = errors.New("case has no other active members to merge")
)

// Merger folds duplicate profiles into a chosen master. Merging reassigns all
// business records, keeps the merged profiles as inactive tombstones and
// writes an immutable audit trail. It is invoked only by a privileged
// operator, never automatically.
type Merger struct {
	db *gorm.DB
}

// NewMerger creates a merger over the given DB.
func NewMerger(db *gorm.DB) *Merger {
	return &Merger{db: db}
}

// mergeSnapshot is the audit payload stored per merged profile.
type mergeSnapshot struct {
	Profile       models.Profile `json:"profile"`
	Orders        []uint         `json:"order_ids"`
	Subscriptions []uint         `json:"subscription_ids"`
	Payments      []uint         `json:"payment_ids"`
	CardLinks     []uint         `json:"card_link_ids"`
}

// Merge resolves the case by folding every member except the master into the
// master profile. The whole operation is a single transaction.
func (m *Merger) Merge(caseID, masterProfileID uint, performedBy string) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		var dupCase models.DuplicateCase
		if err := tx.Preload("Members").First(&dupCase, caseID).Error; err != nil {
			return fmt.Errorf("duplicate case %d: %w", caseID, err)
		}
		if dupCase.Status != models.DuplicateCaseStatusOpen {
			return fmt.Errorf("%w: case %d is %s", ErrCaseNotOpen, caseID, dupCase.Status)
		}

		isMember := false
		for _, member := range dupCase.Members {
			if member.ProfileID == masterProfileID {
				isMember = true
				break
			}
		}
		if !isMember {
			return fmt.Errorf("%w: profile %d, case %d", ErrMasterNotMember, masterProfileID, caseID)
		}

		var master models.Profile
		if err := tx.First(&master, masterProfileID).Error; err != nil {
			return fmt.Errorf("master profile %d: %w", masterProfileID, err)
		}
		if !master.IsActive {
			return fmt.Errorf("%w: profile %d", ErrMasterNotActive, masterProfileID)
		}

		merged := 0
		for _, member := range dupCase.Members {
			if member.ProfileID == masterProfileID {
				continue
			}
			var victim models.Profile
			if err := tx.First(&victim, member.ProfileID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				return err
			}
			if !victim.IsActive {
				continue
			}
			if err := m.mergeOne(tx, &dupCase, &master, &victim, performedBy); err != nil {
				return err
			}
			merged++
		}
		if merged == 0 {
			return fmt.Errorf("%w: case %d", ErrNothingToMerge, caseID)
		}

		now := time.Now()
		if err := tx.Model(&models.DuplicateCase{}).Where("id = ?", dupCase.ID).
			Updates(map[string]interface{}{
				"status":            models.DuplicateCaseStatusResolved,
				"master_profile_id": masterProfileID,
				"resolved_at":       now,
			}).Error; err != nil {
			return err
		}

		log.Infof("[Dedup] Case %d resolved: %d profiles merged into %d by %s",
			dupCase.ID, merged, masterProfileID, performedBy)
		return nil
	})
}

// Ignore closes a case without merging. Matching on the member profiles
// resumes normally afterwards.
func (m *Merger) Ignore(caseID uint) error {
	res := m.db.Model(&models.DuplicateCase{}).
		Where("id = ? AND status = ?", caseID, models.DuplicateCaseStatusOpen).
		Updates(map[string]interface{}{
			"status":      models.DuplicateCaseStatusIgnored,
			"resolved_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: case %d", ErrCaseNotOpen, caseID)
	}
	return nil
}

func (m *Merger) mergeOne(tx *gorm.DB, dupCase *models.DuplicateCase, master, victim *models.Profile, performedBy string) error {
	snapshot := mergeSnapshot{Profile: *victim}

	if err := tx.Model(&models.Order{}).Where("profile_id = ?", victim.ID).
		Pluck("id", &snapshot.Orders).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Subscription{}).Where("profile_id = ?", victim.ID).
		Pluck("id", &snapshot.Subscriptions).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Payment{}).Where("profile_id = ?", victim.ID).
		Pluck("id", &snapshot.Payments).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.CardLink{}).Where("profile_id = ?", victim.ID).
		Pluck("id", &snapshot.CardLinks).Error; err != nil {
		return err
	}

	// Reassign business records to the master.
	if err := tx.Model(&models.Order{}).Where("profile_id = ?", victim.ID).
		Update("profile_id", master.ID).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Subscription{}).Where("profile_id = ?", victim.ID).
		Update("profile_id", master.ID).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Payment{}).Where("profile_id = ?", victim.ID).
		Update("profile_id", master.ID).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.PaymentEvent{}).Where("matched_profile_id = ?", victim.ID).
		Update("matched_profile_id", master.ID).Error; err != nil {
		return err
	}

	// Card links move too, except where the master already holds the same
	// fingerprint; those would violate the unique link and are dropped.
	var victimLinks []models.CardLink
	if err := tx.Where("profile_id = ?", victim.ID).Find(&victimLinks).Error; err != nil {
		return err
	}
	for _, link := range victimLinks {
		var count int64
		if err := tx.Model(&models.CardLink{}).
			Where("profile_id = ? AND fingerprint = ?", master.ID, link.Fingerprint).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			if err := tx.Delete(&models.CardLink{}, link.ID).Error; err != nil {
				return err
			}
			continue
		}
		if err := tx.Model(&models.CardLink{}).Where("id = ?", link.ID).
			Update("profile_id", master.ID).Error; err != nil {
			return err
		}
	}

	// Tombstone the merged profile. History stays queryable through the
	// merge audit, not through the profile itself.
	if err := tx.Model(&models.Profile{}).Where("id = ?", victim.ID).
		Updates(map[string]interface{}{
			"is_active":      false,
			"merged_into_id": master.ID,
		}).Error; err != nil {
		return err
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("snapshot profile %d: %w", victim.ID, err)
	}
	history := models.MergeHistory{
		CaseID:          dupCase.ID,
		MasterProfileID: master.ID,
		MergedProfileID: victim.ID,
		SnapshotJSON:    string(payload),
		PerformedBy:     performedBy,
	}
	return tx.Create(&history).Error
}
