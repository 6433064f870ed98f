package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/kassaflow/kassaflow/app/models"
	"github.com/kassaflow/kassaflow/app/repository"
	"github.com/kassaflow/kassaflow/internal/pkg/normalizer"
)

// ErrAlreadyApplied is returned when an override targets an event that was
// already applied to the ledger. Corrections to applied money need a
// compensating provider event, not an override.
var ErrAlreadyApplied = errors.New("event already applied; override would be ignored")

var validate = validator.New()

// EventInput is one raw payment event as submitted by a webhook or an import
// file, before any normalization.
type EventInput struct {
	Provider     string     `json:"provider" validate:"required,max=32"`
	ExternalID   string     `json:"external_id" validate:"max=191"`
	Status       string     `json:"status" validate:"required,max=100"`
	Type         string     `json:"type" validate:"max=100"`
	Amount       string     `json:"amount" validate:"required"`
	Currency     string     `json:"currency" validate:"omitempty,len=3"`
	OccurredAt   *time.Time `json:"occurred_at"`
	Email        string     `json:"email" validate:"omitempty,email,max=200"`
	Phone        string     `json:"phone" validate:"max=32"`
	CustomerName string     `json:"customer_name" validate:"max=200"`
	CardBrand    string     `json:"card_brand" validate:"max=32"`
	CardLast4    string     `json:"card_last4" validate:"omitempty,len=4,numeric"`
	CardHolder   string     `json:"card_holder" validate:"max=200"`
	OrderToken   string     `json:"order_token" validate:"max=64"`
	Recurring    bool       `json:"recurring"`
}

// ImportResult summarizes a bulk import: every row is accounted for.
type ImportResult struct {
	Accepted   int           `json:"accepted"`
	Duplicates int           `json:"duplicates"`
	Rejected   []RejectedRow `json:"rejected,omitempty"`
}

// RejectedRow carries the reason a bulk-import row was not accepted.
type RejectedRow struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Service accepts raw events from all three sources and stages them on the
// reconciliation queue. It never applies business effects itself.
type Service struct {
	events repository.EventRepository
}

// NewService creates an ingest service over the event repository.
func NewService(events repository.EventRepository) *Service {
	return &Service{events: events}
}

// IngestEvent validates and enqueues one raw event. Returns the stored queue
// row and whether it was newly created (false on re-delivery).
func (s *Service) IngestEvent(input EventInput, source, rawPayload string) (*models.PaymentEvent, bool, error) {
	if err := validate.Struct(input); err != nil {
		return nil, false, fmt.Errorf("invalid event: %w", err)
	}
	amount, err := decimal.NewFromString(input.Amount)
	if err != nil {
		return nil, false, fmt.Errorf("invalid amount %q: %w", input.Amount, err)
	}
	if amount.IsNegative() {
		return nil, false, fmt.Errorf("invalid amount %q: negative", input.Amount)
	}

	currency := input.Currency
	if currency == "" {
		currency = "RUB"
	}

	event := &models.PaymentEvent{
		Provider:     input.Provider,
		ExternalID:   input.ExternalID,
		RawStatus:    input.Status,
		RawType:      input.Type,
		Amount:       amount,
		Currency:     currency,
		OccurredAt:   input.OccurredAt,
		Email:        input.Email,
		Phone:        input.Phone,
		CustomerName: input.CustomerName,
		CardBrand:    input.CardBrand,
		CardLast4:    input.CardLast4,
		CardHolder:   input.CardHolder,
		OrderToken:   input.OrderToken,
		Recurring:    input.Recurring,
		Source:       source,
		RawPayload:   rawPayload,
	}

	stored, created, err := s.events.Enqueue(event)
	if err != nil {
		return nil, false, err
	}
	if !created {
		log.Debugf("[Ingest] Duplicate delivery %s/%s dropped", stored.Provider, stored.ExternalID)
	}
	return stored, created, nil
}

// ImportBatch stages a manually uploaded statement. Invalid rows are
// reported, valid rows are enqueued, re-deliveries count as duplicates.
func (s *Service) ImportBatch(inputs []EventInput) (*ImportResult, error) {
	result := &ImportResult{}
	for i, input := range inputs {
		_, created, err := s.IngestEvent(input, models.EventSourceImport, "")
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedRow{Index: i, Reason: err.Error()})
			continue
		}
		if created {
			result.Accepted++
		} else {
			result.Duplicates++
		}
	}
	log.Infof("[Ingest] Import: %d accepted, %d duplicates, %d rejected",
		result.Accepted, result.Duplicates, len(result.Rejected))
	return result, nil
}

// OverrideInput is an admin status correction for one event key.
type OverrideInput struct {
	Provider        string `json:"provider" validate:"required,max=32"`
	ExternalID      string `json:"external_id" validate:"required,max=191"`
	CorrectedStatus string `json:"corrected_status" validate:"required,max=100"`
	Reason          string `json:"reason" validate:"required"`
	CreatedBy       string `json:"created_by" validate:"required,max=100"`
}

// ApplyOverride records the correction and requeues the affected event so the
// reconciler reprocesses it with the corrected status. The corrected status
// must normalize to a known outcome up front.
func (s *Service) ApplyOverride(input OverrideInput, norm *normalizer.Normalizer) error {
	if err := validate.Struct(input); err != nil {
		return fmt.Errorf("invalid override: %w", err)
	}
	if _, err := norm.MustNormalize(input.CorrectedStatus, "manual override"); err != nil {
		return err
	}

	// The override may precede the event itself (statement not yet
	// imported); it then takes effect on first processing.
	target, err := s.events.GetByKey(input.Provider, input.ExternalID)
	if err != nil {
		return err
	}
	if target != nil && target.State == models.EventStateResolved {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyApplied, input.Provider, input.ExternalID)
	}

	override := &models.ManualOverride{
		Provider:        input.Provider,
		ExternalID:      input.ExternalID,
		CorrectedStatus: input.CorrectedStatus,
		Reason:          input.Reason,
		CreatedBy:       input.CreatedBy,
	}
	if err := s.events.CreateOverride(override); err != nil {
		return err
	}

	if target != nil && target.State == models.EventStateManualReview {
		if err := s.events.Requeue(target.ID); err != nil {
			return err
		}
	}
	log.Infof("[Ingest] Override recorded for %s/%s by %s", input.Provider, input.ExternalID, input.CreatedBy)
	return nil
}
