package dedup

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
	"github.com/kassaflow/kassaflow/app/repository"
)

// Detector proposes duplicate-profile cases. It never merges anything on its
// own: a case stays open until an operator resolves or ignores it, and open
// cases block automatic matching on the affected profiles.
type Detector struct {
	db   *gorm.DB
	dups repository.DuplicateRepository
}

// NewDetector creates a detector over the given DB and repository.
func NewDetector(db *gorm.DB, dups repository.DuplicateRepository) *Detector {
	return &Detector{db: db, dups: dups}
}

// EnsureCase opens a duplicate case for the given shared attribute, or
// extends the existing open one with any missing member profiles. Returns
// the case and whether it was newly created.
func (d *Detector) EnsureCase(attributeType, attributeValue string, profileIDs []uint) (*models.DuplicateCase, bool, error) {
	if attributeValue == "" || len(profileIDs) < 2 {
		return nil, false, fmt.Errorf("duplicate case needs an attribute and at least two profiles")
	}

	dupCase, err := d.dups.FindOpenByAttribute(attributeType, attributeValue)
	if err != nil {
		return nil, false, err
	}

	created := false
	if dupCase == nil {
		dupCase = &models.DuplicateCase{
			AttributeType:  attributeType,
			AttributeValue: attributeValue,
			Status:         models.DuplicateCaseStatusOpen,
		}
		if err := d.dups.Create(dupCase); err != nil {
			return nil, false, err
		}
		created = true
		log.Infof("[Dedup] Opened duplicate case %d (%s=%s)", dupCase.ID, attributeType, attributeValue)
	}

	for _, profileID := range profileIDs {
		if err := d.dups.AddMember(dupCase.ID, profileID); err != nil {
			return nil, false, err
		}
	}
	return dupCase, created, nil
}

// sharedAttribute is one attribute value observed on more than one active
// profile.
type sharedAttribute struct {
	Value string
	IDs   []uint
}

// Scan sweeps active profiles for shared identity attributes and opens cases
// for every collision found. Returns the number of newly opened cases.
func (d *Detector) Scan() (int, error) {
	opened := 0

	emailDupes, err := d.collidingProfiles(
		"SELECT email AS value, GROUP_CONCAT(id) AS ids FROM profiles " +
			"WHERE is_active = 1 AND deleted_at IS NULL AND email <> '' " +
			"GROUP BY email HAVING COUNT(*) > 1")
	if err != nil {
		return opened, fmt.Errorf("email collision scan: %w", err)
	}
	for _, dup := range emailDupes {
		if _, created, err := d.EnsureCase(models.DuplicateAttributeEmail, dup.Value, dup.IDs); err != nil {
			return opened, err
		} else if created {
			opened++
		}
	}

	phoneDupes, err := d.collidingProfiles(
		"SELECT normalized_phone AS value, GROUP_CONCAT(id) AS ids FROM profiles " +
			"WHERE is_active = 1 AND deleted_at IS NULL AND normalized_phone <> '' " +
			"GROUP BY normalized_phone HAVING COUNT(*) > 1")
	if err != nil {
		return opened, fmt.Errorf("phone collision scan: %w", err)
	}
	for _, dup := range phoneDupes {
		if _, created, err := d.EnsureCase(models.DuplicateAttributePhone, dup.Value, dup.IDs); err != nil {
			return opened, err
		} else if created {
			opened++
		}
	}

	cardDupes, err := d.collidingProfiles(
		"SELECT cl.fingerprint AS value, GROUP_CONCAT(DISTINCT cl.profile_id) AS ids " +
			"FROM card_links cl " +
			"JOIN profiles p ON p.id = cl.profile_id AND p.is_active = 1 AND p.deleted_at IS NULL " +
			"GROUP BY cl.fingerprint HAVING COUNT(DISTINCT cl.profile_id) > 1")
	if err != nil {
		return opened, fmt.Errorf("card collision scan: %w", err)
	}
	for _, dup := range cardDupes {
		if _, created, err := d.EnsureCase(models.DuplicateAttributeCard, dup.Value, dup.IDs); err != nil {
			return opened, err
		} else if created {
			opened++
		}
	}

	if opened > 0 {
		log.Infof("[Dedup] Scan opened %d new duplicate cases", opened)
	}
	return opened, nil
}

func (d *Detector) collidingProfiles(query string) ([]sharedAttribute, error) {
	var rows []struct {
		Value string
		IDs   string
	}
	if err := d.db.Raw(query).Scan(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]sharedAttribute, 0, len(rows))
	for _, row := range rows {
		attr := sharedAttribute{Value: row.Value, IDs: splitIDs(row.IDs)}
		if len(attr.IDs) > 1 {
			result = append(result, attr)
		}
	}
	return result, nil
}

func splitIDs(csv string) []uint {
	var ids []uint
	var current uint
	var have bool
	for _, r := range csv {
		switch {
		case r >= '0' && r <= '9':
			current = current*10 + uint(r-'0')
			have = true
		case r == ',':
			if have {
				ids = append(ids, current)
			}
			current, have = 0, false
		}
	}
	if have {
		ids = append(ids, current)
	}
	return ids
}
