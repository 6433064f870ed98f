package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	NotificationKindSubscriptionTransition = "subscription_transition"
	NotificationKindQueueParked            = "queue_parked"
	NotificationKindChargeDue              = "charge_due"
)

// NotificationEvent is an outbox row consumed by the external notification
// and document-generation collaborators. This core never sends messages
// itself; it only records what happened.
type NotificationEvent struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Kind           string     `gorm:"type:varchar(32);not null;index" json:"kind"`
	SubscriptionID *uint      `gorm:"index" json:"subscription_id,omitempty"`
	QueueRowID     *uint      `gorm:"index" json:"queue_row_id,omitempty"`
	FromState      string     `gorm:"type:varchar(24)" json:"from_state"`
	ToState        string     `gorm:"type:varchar(24)" json:"to_state"`
	Reason         string     `gorm:"type:varchar(191)" json:"reason"`
	DispatchedAt   *time.Time `gorm:"type:timestamp;default:null;index" json:"dispatched_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// CreateSubscriptionTransitionEvent records a lifecycle transition for
// downstream consumers.
func CreateSubscriptionTransitionEvent(db *gorm.DB, subscriptionID uint, fromState, toState, reason string) error {
	event := NotificationEvent{
		Kind:           NotificationKindSubscriptionTransition,
		SubscriptionID: &subscriptionID,
		FromState:      fromState,
		ToState:        toState,
		Reason:         reason,
	}
	return db.Create(&event).Error
}

// CreateQueueParkedEvent records that a queue row was parked for manual review.
func CreateQueueParkedEvent(db *gorm.DB, queueRowID uint, reason string) error {
	event := NotificationEvent{
		Kind:       NotificationKindQueueParked,
		QueueRowID: &queueRowID,
		FromState:  EventStatePending,
		ToState:    EventStateManualReview,
		Reason:     reason,
	}
	return db.Create(&event).Error
}
