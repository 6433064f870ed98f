package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kassaflow/kassaflow/app/models"
)

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates an EventRepository backed by GORM.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Enqueue(event *models.PaymentEvent) (*models.PaymentEvent, bool, error) {
	event.EnsureExternalID()
	if event.NextRetryAt.IsZero() {
		event.NextRetryAt = time.Now()
	}

	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "external_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return nil, false, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentEvent
	if err := r.db.Where("provider = ? AND external_id = ?", event.Provider, event.ExternalID).
		First(&stored).Error; err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

func (r *eventRepository) Claim(limit int, workerID string) ([]models.PaymentEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []models.PaymentEvent
	now := time.Now()

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var rows []models.PaymentEvent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("state = ? AND claimed_by = '' AND next_retry_at <= ?", models.EventStatePending, now).
			Order("id").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		if err := tx.Model(&models.PaymentEvent{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"claimed_by": workerID,
				"claimed_at": now,
			}).Error; err != nil {
			return err
		}

		for i := range rows {
			rows[i].ClaimedBy = workerID
			at := now
			rows[i].ClaimedAt = &at
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *eventRepository) Complete(id uint) error {
	now := time.Now()
	return r.db.Model(&models.PaymentEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":        models.EventStateResolved,
			"claimed_by":   "",
			"claimed_at":   nil,
			"processed_at": now,
			"last_error":   "",
		}).Error
}

func (r *eventRepository) Fail(id uint, reason string, nextRetryAt time.Time, maxAttempts int) (bool, error) {
	parked := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var event models.PaymentEvent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&event, id).Error; err != nil {
			return err
		}

		attempts := event.Attempts + 1
		updates := map[string]interface{}{
			"attempts":   attempts,
			"last_error": reason,
			"claimed_by": "",
			"claimed_at": nil,
		}
		if attempts >= maxAttempts {
			parked = true
			updates["state"] = models.EventStateManualReview
		} else {
			updates["next_retry_at"] = nextRetryAt
		}

		return tx.Model(&models.PaymentEvent{}).Where("id = ?", id).Updates(updates).Error
	})
	return parked, err
}

func (r *eventRepository) Park(id uint, reason string) error {
	return r.db.Model(&models.PaymentEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":      models.EventStateManualReview,
			"last_error": reason,
			"claimed_by": "",
			"claimed_at": nil,
		}).Error
}

func (r *eventRepository) Reschedule(id uint, nextRetryAt time.Time, reason string) error {
	return r.db.Model(&models.PaymentEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"next_retry_at": nextRetryAt,
			"last_error":    reason,
			"claimed_by":    "",
			"claimed_at":    nil,
		}).Error
}

func (r *eventRepository) Requeue(id uint) error {
	return r.db.Model(&models.PaymentEvent{}).
		Where("id = ? AND state = ?", id, models.EventStateManualReview).
		Updates(map[string]interface{}{
			"state":         models.EventStatePending,
			"attempts":      0,
			"last_error":    "",
			"next_retry_at": time.Now(),
			"claimed_by":    "",
			"claimed_at":    nil,
		}).Error
}

func (r *eventRepository) GetByID(id uint) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	if err := r.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *eventRepository) GetByKey(provider, externalID string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	err := r.db.Where("provider = ? AND external_id = ?", provider, externalID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *eventRepository) ReleaseStaleClaims(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tx := r.db.Model(&models.PaymentEvent{}).
		Where("state = ? AND claimed_by <> '' AND claimed_at < ?", models.EventStatePending, cutoff).
		Updates(map[string]interface{}{
			"claimed_by": "",
			"claimed_at": nil,
		})
	return tx.RowsAffected, tx.Error
}

func (r *eventRepository) BacklogStats() (*QueueBacklog, error) {
	stats := &QueueBacklog{}

	type stateCount struct {
		State string
		Count int64
	}
	var counts []stateCount
	if err := r.db.Model(&models.PaymentEvent{}).
		Select("state, count(*) as count").
		Group("state").
		Find(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		switch c.State {
		case models.EventStatePending:
			stats.Pending = c.Count
		case models.EventStateManualReview:
			stats.ManualReview = c.Count
		case models.EventStateResolved:
			stats.Resolved = c.Count
		}
	}

	var oldest models.PaymentEvent
	err := r.db.Where("state = ?", models.EventStatePending).
		Order("next_retry_at").
		First(&oldest).Error
	if err == nil {
		stats.OldestDue = &oldest.NextRetryAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return stats, nil
}

func (r *eventRepository) ListManualReview(offset, limit int) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.Where("state = ?", models.EventStateManualReview).
		Order("updated_at desc").
		Offset(offset).
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *eventRepository) CreateOverride(o *models.ManualOverride) error {
	return r.db.Create(o).Error
}

func (r *eventRepository) LatestOverride(provider, externalID string) (*models.ManualOverride, error) {
	var override models.ManualOverride
	err := r.db.Where("provider = ? AND external_id = ?", provider, externalID).
		Order("id desc").
		First(&override).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &override, nil
}
