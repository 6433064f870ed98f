package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kassaflow/kassaflow/app/models"
	"github.com/kassaflow/kassaflow/internal/pkg/notify"
)

// ErrConcurrencyConflict is returned when the optimistic lock on a
// subscription row could not be won after immediate retries.
var ErrConcurrencyConflict = errors.New("subscription concurrently modified")

// Number of immediate retries for optimistic-lock conflicts. Conflicts are
// retried right away and do not count against any backoff budget.
const lockRetries = 3

// Service owns every subscription mutation. The reconciler and the scheduler
// are its only callers; nothing else may write subscription status.
type Service struct {
	notifier notify.Notifier
}

// NewService creates a lifecycle service emitting to the given notifier.
func NewService(notifier notify.Notifier) *Service {
	return &Service{notifier: notifier}
}

func (s *Service) policy() Policy {
	settings := models.GetAppSettings()
	return Policy{
		TrialKeepsAccess:  settings.GetTrialKeepsAccess(),
		MaxChargeAttempts: settings.GetMaxChargeAttempts(),
	}
}

// EnsureForPaidOrder creates the subscription granted by a freshly paid
// order, superseding any current subscription on the same profile+tariff.
// Idempotent: a subscription already created for the order is returned as is.
func (s *Service) EnsureForPaidOrder(tx *gorm.DB, order *models.Order, cardLinkID *uint, at time.Time) (*models.Subscription, error) {
	tariff := order.Tariff
	if tariff.ID == 0 {
		if err := tx.First(&tariff, order.TariffID).Error; err != nil {
			return nil, fmt.Errorf("tariff %d: %w", order.TariffID, err)
		}
	}
	if !tariff.GrantsAccess {
		return nil, nil
	}

	var existing models.Subscription
	err := tx.Where("order_id = ?", order.ID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	sub := &models.Subscription{
		ProfileID:     order.ProfileID,
		OrderID:       order.ID,
		TariffID:      tariff.ID,
		AutoRenew:     tariff.AutoRenew,
		AccessStartAt: at,
		CardLinkID:    cardLinkID,
	}

	periodEnd := at.Add(time.Duration(tariff.PeriodDays) * 24 * time.Hour)
	if tariff.IsTrial {
		trialEnd := at.Add(time.Duration(tariff.TrialDays) * 24 * time.Hour)
		sub.Status = models.SubscriptionStatusTrial
		sub.TrialEndAt = &trialEnd
	} else {
		sub.Status = models.SubscriptionStatusActive
		sub.AccessEndAt = &periodEnd
		if tariff.AutoRenew {
			sub.NextChargeAt = &periodEnd
		}
	}

	if err := tx.Create(sub).Error; err != nil {
		return nil, fmt.Errorf("create subscription for order %d: %w", order.ID, err)
	}

	if tariff.HasInstallments() {
		if err := s.createInstallmentPlan(tx, sub, &tariff, at); err != nil {
			return nil, err
		}
	}

	// A re-purchase supersedes the previous subscription on the same offer.
	if err := s.supersedePrevious(tx, sub); err != nil {
		return nil, err
	}

	if err := s.notifier.SubscriptionTransition(tx, sub.ID, "none", sub.Status, "order_paid"); err != nil {
		return nil, err
	}
	return sub, nil
}

// createInstallmentPlan records the split-payment schedule. The first
// installment is covered by the payment that created the subscription.
func (s *Service) createInstallmentPlan(tx *gorm.DB, sub *models.Subscription, tariff *models.Tariff, at time.Time) error {
	per := tariff.Amount.Div(decimal.NewFromInt(int64(tariff.TotalPayments))).Round(2)
	interval := time.Duration(tariff.PeriodDays) * 24 * time.Hour

	for i := 1; i <= tariff.TotalPayments; i++ {
		inst := models.InstallmentPayment{
			SubscriptionID: sub.ID,
			OrderID:        sub.OrderID,
			PaymentNumber:  i,
			TotalPayments:  tariff.TotalPayments,
			Amount:         per,
			DueDate:        at.Add(time.Duration(i-1) * interval),
			Status:         models.InstallmentStatusScheduled,
		}
		if i == 1 {
			paidAt := at
			inst.Status = models.InstallmentStatusPaid
			inst.PaidAt = &paidAt
		}
		if err := tx.Create(&inst).Error; err != nil {
			return fmt.Errorf("create installment %d/%d: %w", i, tariff.TotalPayments, err)
		}
	}

	if tariff.TotalPayments > 1 {
		next := at.Add(interval)
		return tx.Model(&models.Subscription{}).Where("id = ?", sub.ID).
			Update("next_charge_at", next).Error
	}
	return nil
}

func (s *Service) supersedePrevious(tx *gorm.DB, newSub *models.Subscription) error {
	var previous []models.Subscription
	err := tx.Where("profile_id = ? AND tariff_id = ? AND id <> ? AND status IN ?",
		newSub.ProfileID, newSub.TariffID, newSub.ID,
		[]string{models.SubscriptionStatusTrial, models.SubscriptionStatusActive, models.SubscriptionStatusPastDue}).
		Find(&previous).Error
	if err != nil {
		return err
	}

	for i := range previous {
		old := &previous[i]
		from := old.Status
		if err := tx.Model(&models.Subscription{}).
			Where("id = ?", old.ID).
			Updates(map[string]interface{}{
				"status":            models.SubscriptionStatusSuperseded,
				"superseded_by_id":  newSub.ID,
				"next_charge_at":    nil,
				"grace_period_ends_at": nil,
				"lock_version":      gorm.Expr("lock_version + 1"),
			}).Error; err != nil {
			return err
		}
		// Pending installments of the superseded plan are canceled; flagged
		// in DESIGN.md pending product sign-off.
		if err := cancelScheduledInstallments(tx, old.ID); err != nil {
			return err
		}
		if err := s.notifier.SubscriptionTransition(tx, old.ID, from, models.SubscriptionStatusSuperseded, "superseded_by_repurchase"); err != nil {
			return err
		}
	}
	return nil
}

// ApplyChargeOutcome feeds a reconciled recurring-charge result into the
// state machine.
func (s *Service) ApplyChargeOutcome(tx *gorm.DB, sub *models.Subscription, succeeded bool, at time.Time) error {
	trigger := TriggerChargeFailed
	reason := "charge_failed"
	if succeeded {
		trigger = TriggerChargeSucceeded
		reason = "charge_succeeded"
	}
	return s.transition(tx, sub, trigger, at, reason)
}

// Cancel performs an explicit user/admin cancellation. Access survives until
// the end of the paid period unless policy revokes immediately.
func (s *Service) Cancel(tx *gorm.DB, sub *models.Subscription, at time.Time, reason string) error {
	return s.transition(tx, sub, TriggerCancel, at, reason)
}

// transition performs the optimistic-lock read-modify-write for one trigger.
// Lock conflicts reload the row and retry immediately.
func (s *Service) transition(tx *gorm.DB, sub *models.Subscription, trigger Trigger, at time.Time, reason string) error {
	settings := models.GetAppSettings()

	for attempt := 0; attempt < lockRetries; attempt++ {
		attempts := sub.ChargeAttempts
		if trigger == TriggerChargeFailed {
			attempts++
		}

		next, err := Next(sub.Status, trigger, s.policy(), attempts)
		if err != nil {
			return err
		}

		updates := transitionEffects(sub, trigger, next, at, attempts, settings)
		updates["lock_version"] = gorm.Expr("lock_version + 1")

		res := tx.Model(&models.Subscription{}).
			Where("id = ? AND lock_version = ?", sub.ID, sub.LockVersion).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			from := sub.Status
			sub.Status = next
			sub.ChargeAttempts = attempts
			sub.LockVersion++

			if err := s.applyInstallmentEffects(tx, sub, trigger, next, at); err != nil {
				return err
			}
			if from != next {
				if err := s.notifier.SubscriptionTransition(tx, sub.ID, from, next, reason); err != nil {
					return err
				}
			}
			return nil
		}

		// A plain re-read would come from the transaction's snapshot under
		// REPEATABLE READ; the locking read sees the committed winner.
		log.Debugf("[Lifecycle] lock conflict on subscription %d, retrying", sub.ID)
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(sub, sub.ID).Error; err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: subscription %d", ErrConcurrencyConflict, sub.ID)
}

// transitionEffects computes the column updates associated with a transition.
func transitionEffects(sub *models.Subscription, trigger Trigger, next string, at time.Time, attempts int, settings *models.AppSettings) map[string]interface{} {
	updates := map[string]interface{}{"status": next}

	switch next {
	case models.SubscriptionStatusActive:
		periodEnd := at.Add(periodOf(sub))
		updates["charge_attempts"] = 0
		updates["grace_period_started_at"] = nil
		updates["grace_period_ends_at"] = nil
		if trigger == TriggerChargeSucceeded || trigger == TriggerTrialEnded {
			updates["access_end_at"] = periodEnd
			if sub.AutoRenew {
				updates["next_charge_at"] = periodEnd
			} else {
				updates["next_charge_at"] = nil
			}
		}
		if sub.TrialEndAt != nil && trigger == TriggerTrialEnded {
			updates["trial_end_at"] = nil
		}

	case models.SubscriptionStatusPastDue:
		updates["charge_attempts"] = attempts
		if sub.Status != models.SubscriptionStatusPastDue {
			graceEnd := at.Add(settings.GetGracePeriod())
			updates["grace_period_started_at"] = at
			updates["grace_period_ends_at"] = graceEnd
		}

	case models.SubscriptionStatusExpired:
		updates["charge_attempts"] = attempts
		updates["next_charge_at"] = nil
		updates["access_end_at"] = at

	case models.SubscriptionStatusCanceled:
		updates["next_charge_at"] = nil
		if settings.GetImmediateRevoke() || sub.AccessEndAt == nil {
			updates["access_end_at"] = at
		}
	}

	return updates
}

func (s *Service) applyInstallmentEffects(tx *gorm.DB, sub *models.Subscription, trigger Trigger, next string, at time.Time) error {
	switch {
	case trigger == TriggerChargeSucceeded:
		var inst models.InstallmentPayment
		err := tx.Where("subscription_id = ? AND status = ?", sub.ID, models.InstallmentStatusScheduled).
			Order("payment_number").
			First(&inst).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&models.InstallmentPayment{}).
			Where("id = ?", inst.ID).
			Updates(map[string]interface{}{
				"status":  models.InstallmentStatusPaid,
				"paid_at": at,
			}).Error; err != nil {
			return err
		}
		// Point the next charge at the following scheduled part, if any.
		var following models.InstallmentPayment
		err = tx.Where("subscription_id = ? AND status = ?", sub.ID, models.InstallmentStatusScheduled).
			Order("payment_number").
			First(&following).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.Model(&models.Subscription{}).Where("id = ?", sub.ID).
			Update("next_charge_at", following.DueDate).Error

	case trigger == TriggerChargeFailed:
		return tx.Model(&models.InstallmentPayment{}).
			Where("subscription_id = ? AND status = ? AND due_date <= ?",
				sub.ID, models.InstallmentStatusScheduled, at).
			Update("charge_attempts", gorm.Expr("charge_attempts + 1")).Error

	case next == models.SubscriptionStatusCanceled ||
		next == models.SubscriptionStatusExpired ||
		next == models.SubscriptionStatusSuperseded:
		// No installment may stay scheduled under a terminal subscription.
		return cancelScheduledInstallments(tx, sub.ID)
	}
	return nil
}

func cancelScheduledInstallments(tx *gorm.DB, subscriptionID uint) error {
	return tx.Model(&models.InstallmentPayment{}).
		Where("subscription_id = ? AND status = ?", subscriptionID, models.InstallmentStatusScheduled).
		Update("status", models.InstallmentStatusCanceled).Error
}

func periodOf(sub *models.Subscription) time.Duration {
	days := sub.Tariff.PeriodDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}
