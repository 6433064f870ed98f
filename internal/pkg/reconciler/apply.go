package reconciler

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kassaflow/kassaflow/app/models"
	"github.com/kassaflow/kassaflow/app/repository"
	"github.com/kassaflow/kassaflow/internal/pkg/cache"
	"github.com/kassaflow/kassaflow/internal/pkg/lifecycle"
	"github.com/kassaflow/kassaflow/internal/pkg/matcher"
	"github.com/kassaflow/kassaflow/internal/pkg/metrics/counter"
	"github.com/kassaflow/kassaflow/internal/pkg/normalizer"
)

// orderLockTTL bounds how long a worker may hold the per-order Redis lock.
const orderLockTTL = 30 * time.Second

// parkError aborts the transaction and sends the row straight to manual
// review instead of the retry path.
type parkError struct {
	reason string
}

func (e *parkError) Error() string { return e.reason }

// processEvent runs one claimed queue row through the full pipeline:
// override check, normalization, matching, then transactional application.
func (r *Reconciler) processEvent(event *models.PaymentEvent, workerID string) error {
	settings := models.GetAppSettings()

	// A manual override replaces the provider status for this event key;
	// the newest override wins.
	rawStatus := event.RawStatus
	override, err := r.repos.Event.LatestOverride(event.Provider, event.ExternalID)
	if err != nil {
		return r.retry(event, fmt.Sprintf("override lookup: %v", err))
	}
	if override != nil {
		rawStatus = override.CorrectedStatus
	}

	status, err := r.norm.MustNormalize(rawStatus, fmt.Sprintf("provider=%s event=%d", event.Provider, event.ID))
	if err != nil {
		return r.park(event, err.Error())
	}

	// A pending status carries no final outcome. The row resolves with no
	// business effect; the provider's final status arrives as its own event.
	if status == normalizer.StatusPending {
		if err := r.repos.Event.Complete(event.ID); err != nil {
			return err
		}
		countProvider(counter.AddProcessed, event.Provider)
		return nil
	}

	// Reversal events must be able to find the paid order they undo.
	reversal := status == normalizer.StatusRefunded || status == normalizer.StatusCanceled ||
		r.norm.IsRefundType(event.RawType) || r.norm.IsCancelType(event.RawType)

	result, err := r.match.Match(event, settings.GetMatchWindow(), reversal)
	if err != nil {
		return r.retry(event, fmt.Sprintf("match: %v", err))
	}

	switch result.Outcome {
	case matcher.OutcomeNoMatch:
		countProvider(counter.AddMatchFailure, event.Provider)
		return r.retry(event, "no match: "+result.Reason)

	case matcher.OutcomeAmbiguous:
		countProvider(counter.AddMatchFailure, event.Provider)
		r.flagDuplicates(result)
		return r.park(event, ambiguityReason(result))
	}

	// Per-order serialization: concurrent events for the same order apply
	// one at a time across all workers.
	lockKey := fmt.Sprintf("reconcile:order:%d", result.OrderID)
	acquired, err := cache.AcquireLock(lockKey, workerID, orderLockTTL)
	if err != nil {
		return r.retry(event, fmt.Sprintf("order lock: %v", err))
	}
	if !acquired {
		return r.reschedule(event, "order busy")
	}
	defer func() {
		if err := cache.ReleaseLock(lockKey, workerID); err != nil {
			log.Errorf("[Reconciler] Release lock %s: %v", lockKey, err)
		}
	}()

	err = r.db.Transaction(func(tx *gorm.DB) error {
		return r.applyMatched(tx, event, status, result)
	})
	if err != nil {
		var pErr *parkError
		if errors.As(err, &pErr) {
			return r.park(event, pErr.reason)
		}
		if errors.Is(err, lifecycle.ErrConcurrencyConflict) {
			return r.reschedule(event, err.Error())
		}
		return r.retry(event, err.Error())
	}

	countProvider(counter.AddProcessed, event.Provider)
	countProvider(counter.AddMatched, event.Provider)
	return nil
}

// applyMatched applies one normalized, matched event to the order it belongs
// to. Runs inside a transaction; the order row is locked for the duration.
func (r *Reconciler) applyMatched(tx *gorm.DB, event *models.PaymentEvent, status normalizer.Status, result matcher.Result) error {
	var order models.Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&order, result.OrderID).Error; err != nil {
		return fmt.Errorf("order %d: %w", result.OrderID, err)
	}
	if err := tx.First(&order.Tariff, order.TariffID).Error; err != nil {
		return fmt.Errorf("tariff %d: %w", order.TariffID, err)
	}

	at := time.Now()
	if event.OccurredAt != nil {
		at = *event.OccurredAt
	}

	// Re-delivery of an already-applied event resolves without touching
	// the ledger again.
	var existing models.Payment
	err := tx.Where("provider = ? AND provider_payment_id = ?", event.Provider, event.ExternalID).
		First(&existing).Error
	if err == nil {
		return r.resolveEvent(tx, event, result)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	// The transaction type can turn a "successful" status into a reversal:
	// providers report a completed refund as a successful operation of type
	// refund.
	action := status
	if status == normalizer.StatusSucceeded {
		if r.norm.IsRefundType(event.RawType) {
			action = normalizer.StatusRefunded
		} else if r.norm.IsCancelType(event.RawType) {
			action = normalizer.StatusCanceled
		}
	}

	switch action {
	case normalizer.StatusSucceeded:
		if err := r.applyCharge(tx, event, &order, at); err != nil {
			return err
		}
	case normalizer.StatusFailed:
		if err := r.applyFailure(tx, event, &order, at); err != nil {
			return err
		}
	case normalizer.StatusRefunded:
		if err := r.applyReversal(tx, event, &order, models.OrderStatusRefunded, at); err != nil {
			return err
		}
	case normalizer.StatusCanceled:
		if err := r.applyCancel(tx, event, &order, at); err != nil {
			return err
		}
	default:
		return &parkError{reason: fmt.Sprintf("unsupported outcome %q", action)}
	}

	return r.resolveEvent(tx, event, result)
}

func (r *Reconciler) applyCharge(tx *gorm.DB, event *models.PaymentEvent, order *models.Order, at time.Time) error {
	if order.IsTerminal() {
		return &parkError{reason: fmt.Sprintf("charge on %s order %d", order.Status, order.ID)}
	}

	payment := models.Payment{
		OrderID:           order.ID,
		ProfileID:         order.ProfileID,
		Provider:          event.Provider,
		ProviderPaymentID: event.ExternalID,
		Amount:            event.Amount,
		Currency:          event.Currency,
		Status:            string(normalizer.StatusSucceeded),
		PaidAt:            &at,
	}
	if err := tx.Create(&payment).Error; err != nil {
		return err
	}

	order.PaidAmount = order.PaidAmount.Add(event.Amount)
	newStatus := models.OrderStatusPartial
	if order.PaidAmount.GreaterThanOrEqual(order.Amount) {
		newStatus = models.OrderStatusPaid
	}
	if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"paid_amount": order.PaidAmount,
			"status":      newStatus,
		}).Error; err != nil {
		return err
	}
	order.Status = newStatus

	cardLinkID, err := r.ensureCardLink(tx, order.ProfileID, event)
	if err != nil {
		return err
	}

	// An existing subscription on the order means this charge is a renewal
	// or the next installment part.
	var sub models.Subscription
	err = tx.Where("order_id = ?", order.ID).First(&sub).Error
	if err == nil {
		if sub.IsTerminal() {
			return &parkError{reason: fmt.Sprintf("charge for %s subscription %d", sub.Status, sub.ID)}
		}
		sub.Tariff = order.Tariff
		return r.life.ApplyChargeOutcome(tx, &sub, true, at)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if newStatus == models.OrderStatusPaid {
		_, err := r.life.EnsureForPaidOrder(tx, order, cardLinkID, at)
		return err
	}
	return nil
}

func (r *Reconciler) applyFailure(tx *gorm.DB, event *models.PaymentEvent, order *models.Order, at time.Time) error {
	payment := models.Payment{
		OrderID:           order.ID,
		ProfileID:         order.ProfileID,
		Provider:          event.Provider,
		ProviderPaymentID: event.ExternalID,
		Amount:            event.Amount,
		Currency:          event.Currency,
		Status:            string(normalizer.StatusFailed),
	}
	if err := tx.Create(&payment).Error; err != nil {
		return err
	}

	if order.Status == models.OrderStatusPending || order.Status == models.OrderStatusDraft {
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
			Update("status", models.OrderStatusFailed).Error; err != nil {
			return err
		}
	}

	var sub models.Subscription
	err := tx.Where("order_id = ?", order.ID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sub.IsTerminal() {
		return nil
	}
	sub.Tariff = order.Tariff
	return r.life.ApplyChargeOutcome(tx, &sub, false, at)
}

// applyReversal records a refund against the original succeeded payment.
// The aggregate reversed amount must never exceed the original charge.
func (r *Reconciler) applyReversal(tx *gorm.DB, event *models.PaymentEvent, order *models.Order, orderStatus string, at time.Time) error {
	settings := models.GetAppSettings()
	refundWindow := settings.GetRefundWindow()

	var originals []models.Payment
	if err := tx.Where("order_id = ? AND status = ? AND reference_payment_id IS NULL",
		order.ID, string(normalizer.StatusSucceeded)).
		Order("id desc").
		Find(&originals).Error; err != nil {
		return err
	}
	if len(originals) == 0 {
		return &parkError{reason: fmt.Sprintf("reversal without original payment on order %d", order.ID)}
	}

	var original *models.Payment
	outsideWindow := false
	for i := range originals {
		candidate := &originals[i]
		if candidate.PaidAt != nil && at.Sub(*candidate.PaidAt) > refundWindow {
			outsideWindow = true
			continue
		}
		reversed, err := sumReversals(tx, candidate.ID)
		if err != nil {
			return err
		}
		if reversed.Add(event.Amount).LessThanOrEqual(candidate.Amount) {
			original = candidate
			break
		}
	}
	if original == nil {
		if outsideWindow {
			return &parkError{reason: fmt.Sprintf("reversal outside refund window on order %d", order.ID)}
		}
		return &parkError{reason: fmt.Sprintf("reversal exceeds original amount on order %d", order.ID)}
	}

	reversal := models.Payment{
		OrderID:            order.ID,
		ProfileID:          order.ProfileID,
		Provider:           event.Provider,
		ProviderPaymentID:  event.ExternalID,
		Amount:             event.Amount,
		Currency:           event.Currency,
		Status:             orderStatus,
		ReferencePaymentID: &original.ID,
		PaidAt:             &at,
	}
	if err := tx.Create(&reversal).Error; err != nil {
		return err
	}

	// Full reversal flips the order; a partial refund leaves it as is.
	totalReversed, err := sumOrderReversals(tx, order.ID)
	if err != nil {
		return err
	}
	fullyReversed := totalReversed.GreaterThanOrEqual(order.PaidAmount) && order.PaidAmount.IsPositive()
	if fullyReversed {
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
			Update("status", orderStatus).Error; err != nil {
			return err
		}

		var sub models.Subscription
		err := tx.Where("order_id = ?", order.ID).First(&sub).Error
		if err == nil && !sub.IsTerminal() {
			sub.Tariff = order.Tariff
			if err := r.life.Cancel(tx, &sub, at, "payment_reversed"); err != nil {
				return err
			}
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	return nil
}

// applyCancel handles a canceled outcome: a reversal when money already
// moved, a plain order cancellation when it never did.
func (r *Reconciler) applyCancel(tx *gorm.DB, event *models.PaymentEvent, order *models.Order, at time.Time) error {
	var count int64
	if err := tx.Model(&models.Payment{}).
		Where("order_id = ? AND status = ? AND reference_payment_id IS NULL",
			order.ID, string(normalizer.StatusSucceeded)).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return r.applyReversal(tx, event, order, models.OrderStatusCanceled, at)
	}

	if order.IsTerminal() {
		return nil
	}
	return tx.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("status", models.OrderStatusCanceled).Error
}

// ensureCardLink stores the card fingerprint carried by a successful charge
// so future recurring events can be matched without an order token.
func (r *Reconciler) ensureCardLink(tx *gorm.DB, profileID uint, event *models.PaymentEvent) (*uint, error) {
	fingerprint := models.CardFingerprint(event.CardBrand, event.CardLast4, event.CardHolder)
	if fingerprint == "" {
		return nil, nil
	}

	link := models.CardLink{
		ProfileID:   profileID,
		Brand:       event.CardBrand,
		Last4:       event.CardLast4,
		HolderName:  event.CardHolder,
		Fingerprint: fingerprint,
	}
	if err := tx.Where("profile_id = ? AND fingerprint = ?", profileID, fingerprint).
		FirstOrCreate(&link).Error; err != nil {
		return nil, err
	}
	return &link.ID, nil
}

func (r *Reconciler) resolveEvent(tx *gorm.DB, event *models.PaymentEvent, result matcher.Result) error {
	now := time.Now()
	updates := map[string]interface{}{
		"state":        models.EventStateResolved,
		"claimed_by":   "",
		"claimed_at":   nil,
		"processed_at": now,
		"last_error":   "",
	}
	if result.OrderID != 0 {
		updates["matched_order_id"] = result.OrderID
	}
	if result.ProfileID != 0 {
		updates["matched_profile_id"] = result.ProfileID
	}
	if result.TariffID != 0 {
		updates["matched_tariff_id"] = result.TariffID
	}
	return tx.Model(&models.PaymentEvent{}).Where("id = ?", event.ID).Updates(updates).Error
}

// retry reschedules the row with exponential backoff; a row out of attempts
// is parked for manual review instead. The park and its notification commit
// together.
func (r *Reconciler) retry(event *models.PaymentEvent, reason string) error {
	settings := models.GetAppSettings()
	delay := Backoff(event.Attempts+1, settings.GetBackoffBase(), settings.GetBackoffCap())

	parked := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var err error
		parked, err = repository.NewEventRepository(tx).
			Fail(event.ID, reason, time.Now().Add(delay), settings.GetQueueMaxAttempts())
		if err != nil {
			return err
		}
		if parked {
			return r.notifier.QueueParked(tx, event.ID, reason)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if parked {
		countProvider(counter.AddParked, event.Provider)
		log.Warnf("[Reconciler] Event %d parked after %d attempts: %s", event.ID, event.Attempts+1, reason)
	}
	return nil
}

// reschedule frees the row for a later drain without consuming the attempt
// budget. Lock contention is not a failure of the event.
func (r *Reconciler) reschedule(event *models.PaymentEvent, reason string) error {
	return r.repos.Event.Reschedule(event.ID, time.Now(), reason)
}

// park sends the row straight to manual review, bypassing retries.
func (r *Reconciler) park(event *models.PaymentEvent, reason string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := repository.NewEventRepository(tx).Park(event.ID, reason); err != nil {
			return err
		}
		return r.notifier.QueueParked(tx, event.ID, reason)
	})
	if err != nil {
		return err
	}
	countProvider(counter.AddParked, event.Provider)
	return nil
}

// flagDuplicates opens or extends a duplicate case when an ambiguous match
// exposed several profiles sharing one identity attribute.
func (r *Reconciler) flagDuplicates(result matcher.Result) {
	if result.AttributeType == "" {
		return
	}
	seen := make(map[uint]struct{})
	var profileIDs []uint
	for _, c := range result.Candidates {
		if c.ProfileID == 0 {
			continue
		}
		if _, ok := seen[c.ProfileID]; !ok {
			seen[c.ProfileID] = struct{}{}
			profileIDs = append(profileIDs, c.ProfileID)
		}
	}
	if len(profileIDs) < 2 {
		return
	}
	if _, _, err := r.detector.EnsureCase(result.AttributeType, result.AttributeValue, profileIDs); err != nil {
		log.Errorf("[Reconciler] Duplicate case for %s=%s: %v", result.AttributeType, result.AttributeValue, err)
	}
}

func ambiguityReason(result matcher.Result) string {
	return fmt.Sprintf("ambiguous match: %d candidates via %s", len(result.Candidates), result.AttributeType)
}

func sumReversals(tx *gorm.DB, paymentID uint) (decimal.Decimal, error) {
	var raw *string
	err := tx.Model(&models.Payment{}).
		Select("CAST(SUM(amount) AS CHAR)").
		Where("reference_payment_id = ?", paymentID).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}

func sumOrderReversals(tx *gorm.DB, orderID uint) (decimal.Decimal, error) {
	var raw *string
	err := tx.Model(&models.Payment{}).
		Select("CAST(SUM(amount) AS CHAR)").
		Where("order_id = ? AND reference_payment_id IS NOT NULL", orderID).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}

func countProvider(fn func(string) error, provider string) {
	if err := fn(provider); err != nil {
		log.Debugf("[Reconciler] Counter update failed: %v", err)
	}
}
