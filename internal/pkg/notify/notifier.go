package notify

import (
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
)

// Notifier records events for the external notification/document collaborators.
// Implementations receive the caller's transaction handle so the record is
// committed atomically with the state change it describes.
type Notifier interface {
	SubscriptionTransition(tx *gorm.DB, subscriptionID uint, fromState, toState, reason string) error
	QueueParked(tx *gorm.DB, queueRowID uint, reason string) error
	ChargeDue(tx *gorm.DB, subscriptionID uint, reason string) error
}

type outboxNotifier struct{}

// NewOutboxNotifier returns a Notifier that writes notification_events rows.
func NewOutboxNotifier() Notifier {
	return &outboxNotifier{}
}

func (n *outboxNotifier) SubscriptionTransition(tx *gorm.DB, subscriptionID uint, fromState, toState, reason string) error {
	log.Infof("[Notify] subscription %d: %s -> %s (%s)", subscriptionID, fromState, toState, reason)
	return models.CreateSubscriptionTransitionEvent(tx, subscriptionID, fromState, toState, reason)
}

func (n *outboxNotifier) QueueParked(tx *gorm.DB, queueRowID uint, reason string) error {
	log.Warnf("[Notify] queue row %d parked for manual review: %s", queueRowID, reason)
	return models.CreateQueueParkedEvent(tx, queueRowID, reason)
}

func (n *outboxNotifier) ChargeDue(tx *gorm.DB, subscriptionID uint, reason string) error {
	log.Infof("[Notify] subscription %d charge due: %s", subscriptionID, reason)
	event := models.NotificationEvent{
		Kind:           models.NotificationKindChargeDue,
		SubscriptionID: &subscriptionID,
		Reason:         reason,
	}
	return tx.Create(&event).Error
}
