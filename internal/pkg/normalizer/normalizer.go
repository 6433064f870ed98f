package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the canonical payment outcome used internally regardless of
// provider vocabulary.
type Status string

const (
	StatusSucceeded    Status = "succeeded"
	StatusRefunded     Status = "refunded"
	StatusCanceled     Status = "canceled"
	StatusFailed       Status = "failed"
	StatusPending      Status = "pending"
	StatusUnrecognized Status = "unrecognized"
)

// UnrecognizedError is returned when a raw status maps to no canonical bucket.
type UnrecognizedError struct {
	Raw     string
	Context string
}

func (e *UnrecognizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("unrecognized payment status %q (%s)", e.Raw, e.Context)
	}
	return fmt.Sprintf("unrecognized payment status %q", e.Raw)
}

// SynonymTable maps provider/locale vocabulary to canonical buckets. Passed
// in explicitly so there is no hidden process-wide mutable state.
type SynonymTable struct {
	Succeeded []string `json:"succeeded"`
	Refunded  []string `json:"refunded"`
	Canceled  []string `json:"canceled"`
	Failed    []string `json:"failed"`
	Pending   []string `json:"pending"`

	// Transaction-type vocabulary, separate from status vocabulary.
	RefundTypes  []string `json:"refund_types"`
	CancelTypes  []string `json:"cancel_types"`
	PaymentTypes []string `json:"payment_types"`
}

// DefaultSynonyms returns the built-in vocabulary: English provider terms plus
// the Russian phrasing our statement imports arrive with.
func DefaultSynonyms() SynonymTable {
	return SynonymTable{
		Succeeded: []string{
			"successful", "succeeded", "success", "completed", "processed",
			"captured", "paid", "успешно", "оплачено",
		},
		Refunded: []string{
			"refund", "refunded", "partially_refunded", "partial refund",
			"возврат", "частичный возврат",
		},
		Canceled: []string{
			"cancel", "cancelled", "canceled", "void", "voided",
			"authorization_void", "отмена", "отменен",
		},
		Failed: []string{
			"failed", "declined", "expired", "incomplete", "error",
			"отклонено", "ошибка", "истек",
		},
		Pending: []string{
			"pending", "processing", "waiting", "в обработке", "ожидание",
		},
		RefundTypes:  []string{"refund", "возврат"},
		CancelTypes:  []string{"cancel", "void", "reversal", "отмена"},
		PaymentTypes: []string{"payment", "charge", "sale", "purchase", "оплата", "покупка"},
	}
}

// MergeOverridesJSON overlays a JSON-encoded SynonymTable on top of the
// receiver. Non-empty lists in the override replace the defaults wholesale so
// operators can retire stale vocabulary, not just append.
func (t SynonymTable) MergeOverridesJSON(raw string) (SynonymTable, error) {
	if strings.TrimSpace(raw) == "" {
		return t, nil
	}
	var override SynonymTable
	if err := json.Unmarshal([]byte(raw), &override); err != nil {
		return t, fmt.Errorf("invalid synonym override: %w", err)
	}
	merged := t
	if len(override.Succeeded) > 0 {
		merged.Succeeded = override.Succeeded
	}
	if len(override.Refunded) > 0 {
		merged.Refunded = override.Refunded
	}
	if len(override.Canceled) > 0 {
		merged.Canceled = override.Canceled
	}
	if len(override.Failed) > 0 {
		merged.Failed = override.Failed
	}
	if len(override.Pending) > 0 {
		merged.Pending = override.Pending
	}
	if len(override.RefundTypes) > 0 {
		merged.RefundTypes = override.RefundTypes
	}
	if len(override.CancelTypes) > 0 {
		merged.CancelTypes = override.CancelTypes
	}
	if len(override.PaymentTypes) > 0 {
		merged.PaymentTypes = override.PaymentTypes
	}
	return merged, nil
}

type bucket struct {
	status   Status
	synonyms []string
}

// Normalizer classifies raw provider statuses and transaction types. Pure:
// no I/O, construction freezes the synonym tables.
type Normalizer struct {
	exact   map[string]Status
	buckets []bucket

	refundTypes  []string
	cancelTypes  []string
	paymentTypes []string
}

// New builds a Normalizer from a synonym table.
func New(table SynonymTable) *Normalizer {
	// Substring matching walks buckets in a fixed order so mixed phrasings
	// resolve deterministically: "successful refund" is a refund, not a
	// success.
	buckets := []bucket{
		{StatusRefunded, fold(table.Refunded)},
		{StatusCanceled, fold(table.Canceled)},
		{StatusFailed, fold(table.Failed)},
		{StatusPending, fold(table.Pending)},
		{StatusSucceeded, fold(table.Succeeded)},
	}

	exact := make(map[string]Status)
	for _, b := range buckets {
		for _, s := range b.synonyms {
			if _, ok := exact[s]; !ok {
				exact[s] = b.status
			}
		}
	}

	return &Normalizer{
		exact:        exact,
		buckets:      buckets,
		refundTypes:  fold(table.RefundTypes),
		cancelTypes:  fold(table.CancelTypes),
		paymentTypes: fold(table.PaymentTypes),
	}
}

// Normalize maps a raw status string to a canonical status. The second value
// is false when no bucket matched; the returned status is then
// StatusUnrecognized, never a silently wrong bucket.
func (n *Normalizer) Normalize(raw string) (Status, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return StatusUnrecognized, false
	}

	if status, ok := n.exact[s]; ok {
		return status, true
	}

	for _, b := range n.buckets {
		for _, syn := range b.synonyms {
			if strings.Contains(s, syn) {
				return b.status, true
			}
		}
	}

	return StatusUnrecognized, false
}

// MustNormalize is the required variant: it returns an *UnrecognizedError
// carrying the raw string and a context label when no match is found.
func (n *Normalizer) MustNormalize(raw, context string) (Status, error) {
	status, ok := n.Normalize(raw)
	if !ok {
		return StatusUnrecognized, &UnrecognizedError{Raw: raw, Context: context}
	}
	return status, nil
}

// IsRefundType classifies the transaction-type field (not the status field).
func (n *Normalizer) IsRefundType(rawType string) bool {
	return containsAny(rawType, n.refundTypes)
}

// IsCancelType classifies the transaction-type field (not the status field).
func (n *Normalizer) IsCancelType(rawType string) bool {
	return containsAny(rawType, n.cancelTypes)
}

// IsPaymentType treats a nil or empty transaction type as a payment: payment
// is the default transaction type when the provider does not specify one.
func (n *Normalizer) IsPaymentType(rawType *string) bool {
	if rawType == nil || strings.TrimSpace(*rawType) == "" {
		return true
	}
	if containsAny(*rawType, n.refundTypes) || containsAny(*rawType, n.cancelTypes) {
		return false
	}
	return true
}

func containsAny(raw string, synonyms []string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return false
	}
	for _, syn := range synonyms {
		if s == syn || strings.Contains(s, syn) {
			return true
		}
	}
	return false
}

func fold(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
