package models

import "time"

const (
	DuplicateAttributePhone = "phone"
	DuplicateAttributeEmail = "email"
	DuplicateAttributeCard  = "card"
)

const (
	DuplicateCaseStatusOpen     = "open"
	DuplicateCaseStatusResolved = "resolved"
	DuplicateCaseStatusIgnored  = "ignored"
)

// DuplicateCase groups profiles that share an identifying attribute and are
// believed to be the same customer. The detector only proposes cases; merging
// them is an explicit privileged action.
type DuplicateCase struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	AttributeType   string     `gorm:"type:varchar(16);not null;index:idx_duplicate_cases_attr,priority:1" json:"attribute_type"`
	AttributeValue  string     `gorm:"type:varchar(191);not null;index:idx_duplicate_cases_attr,priority:2" json:"attribute_value"`
	Status          string     `gorm:"type:varchar(16);not null;default:'open';index" json:"status"`
	MasterProfileID *uint      `gorm:"index" json:"master_profile_id,omitempty"`
	ResolvedAt      *time.Time `gorm:"type:timestamp;default:null" json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Members []DuplicateCaseMember `gorm:"foreignKey:CaseID" json:"members,omitempty"`
}

// DuplicateCaseMember links a candidate profile into a case.
type DuplicateCaseMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CaseID    uint      `gorm:"not null;index:ux_duplicate_members_case_profile,unique,priority:1" json:"case_id"`
	ProfileID uint      `gorm:"not null;index;index:ux_duplicate_members_case_profile,unique,priority:2" json:"profile_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// MergeHistory is the immutable audit row written by a merge: which profile
// was folded into which master, with a snapshot of the pre-merge data.
type MergeHistory struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CaseID          uint      `gorm:"not null;index" json:"case_id"`
	MasterProfileID uint      `gorm:"not null;index" json:"master_profile_id"`
	MergedProfileID uint      `gorm:"not null;index" json:"merged_profile_id"`
	SnapshotJSON    string    `gorm:"type:longtext;not null" json:"snapshot_json"`
	PerformedBy     string    `gorm:"type:varchar(100);not null" json:"performed_by"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
