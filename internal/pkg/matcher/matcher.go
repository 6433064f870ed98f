package matcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/kassaflow/kassaflow/app/models"
	"github.com/kassaflow/kassaflow/app/repository"
)

// Outcome classifies a match attempt.
type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeNoMatch   Outcome = "no_match"
)

// NoMatch reason codes consumed by monitoring.
const (
	ReasonNoIdentity     = "no_identity"
	ReasonNoOrderToken   = "no_order_token"
	ReasonAmountMismatch = "amount_mismatch"
	ReasonCardUnlinked   = "card_unlinked"
)

// Candidate is one possible resolution of an ambiguous event.
type Candidate struct {
	OrderID   uint `json:"order_id,omitempty"`
	ProfileID uint `json:"profile_id"`
	TariffID  uint `json:"tariff_id,omitempty"`
}

// Result is the outcome of matching one event against internal records.
type Result struct {
	Outcome   Outcome
	OrderID   uint
	ProfileID uint
	TariffID  uint

	// Set on OutcomeAmbiguous: the tied candidates plus the identity
	// attribute they share, used to open or extend a duplicate case.
	Candidates     []Candidate
	AttributeType  string
	AttributeValue string

	// Set on OutcomeNoMatch.
	Reason string
}

// Matcher resolves raw payment events to orders, profiles and tariffs using
// a prioritized strategy chain. It never picks arbitrarily among ties.
type Matcher struct {
	orders   repository.OrderRepository
	payments repository.PaymentRepository
	profiles repository.ProfileRepository
	subs     repository.SubscriptionRepository
	dups     repository.DuplicateRepository
}

// New creates a Matcher over the given repositories.
func New(repos *repository.Repositories) *Matcher {
	return &Matcher{
		orders:   repos.Order,
		payments: repos.Payment,
		profiles: repos.Profile,
		subs:     repos.Subscription,
		dups:     repos.Duplicate,
	}
}

// Match runs the strategy chain, first success wins:
//  1. provider payment id already on the ledger (recurring confirmation,
//     or re-delivery of an applied event)
//  2. order token carried through the payment flow
//  3. customer identity (email/phone) + amount + creation-time window
//  4. card fingerprint against a known card link (recurring only)
//
// reversal marks an event that undoes money already taken; identity
// matching then also considers paid orders, which a charge never targets.
func (m *Matcher) Match(event *models.PaymentEvent, matchWindow time.Duration, reversal bool) (Result, error) {
	// Strategy 1: known provider payment id.
	if res, ok, err := m.matchByProviderPaymentID(event); err != nil || ok {
		return res, err
	}

	// Strategy 2: order token.
	if res, ok, err := m.matchByOrderToken(event); err != nil || ok {
		return res, err
	}

	// Strategy 3: customer identity + amount + window.
	res, ok, err := m.matchByIdentity(event, matchWindow, reversal)
	if err != nil || ok {
		return res, err
	}
	identityReason := res.Reason

	// Strategy 4: card fingerprint, recurring events only.
	if event.Recurring && event.OrderToken == "" {
		if res, ok, err := m.matchByCard(event); err != nil || ok {
			return res, err
		}
		if models.CardFingerprint(event.CardBrand, event.CardLast4, event.CardHolder) != "" {
			return noMatch(ReasonCardUnlinked), nil
		}
	}

	if identityReason != "" {
		return noMatch(identityReason), nil
	}
	return noMatch(ReasonNoOrderToken), nil
}

func (m *Matcher) matchByProviderPaymentID(event *models.PaymentEvent) (Result, bool, error) {
	payment, err := m.payments.GetByProviderPaymentID(event.Provider, event.ExternalID)
	if err != nil {
		return Result{}, false, fmt.Errorf("provider payment lookup: %w", err)
	}
	if payment == nil {
		return Result{}, false, nil
	}
	order, err := m.orders.GetByID(payment.OrderID)
	if err != nil {
		return Result{}, false, fmt.Errorf("order %d for payment %d: %w", payment.OrderID, payment.ID, err)
	}
	return matched(order), true, nil
}

func (m *Matcher) matchByOrderToken(event *models.PaymentEvent) (Result, bool, error) {
	token := strings.TrimSpace(event.OrderToken)
	if token == "" {
		return Result{}, false, nil
	}
	order, err := m.orders.GetByPublicToken(token)
	if err != nil {
		return Result{}, false, fmt.Errorf("order lookup by token: %w", err)
	}
	if order == nil {
		// An unknown token falls through to the weaker strategies.
		return Result{}, false, nil
	}
	return matched(order), true, nil
}

func (m *Matcher) matchByIdentity(event *models.PaymentEvent, matchWindow time.Duration, reversal bool) (Result, bool, error) {
	email := models.NormalizeEmail(event.Email)
	phone := models.NormalizePhone(event.Phone)

	seen := make(map[uint]struct{})
	var profileIDs []uint
	var attrType, attrValue string

	if email != "" {
		byEmail, err := m.profiles.FindActiveByEmail(email)
		if err != nil {
			return Result{}, false, fmt.Errorf("profile lookup by email: %w", err)
		}
		for _, p := range byEmail {
			if _, ok := seen[p.ID]; !ok {
				seen[p.ID] = struct{}{}
				profileIDs = append(profileIDs, p.ID)
			}
		}
		attrType, attrValue = models.DuplicateAttributeEmail, email
	}
	if phone != "" {
		byPhone, err := m.profiles.FindActiveByPhone(phone)
		if err != nil {
			return Result{}, false, fmt.Errorf("profile lookup by phone: %w", err)
		}
		for _, p := range byPhone {
			if _, ok := seen[p.ID]; !ok {
				seen[p.ID] = struct{}{}
				profileIDs = append(profileIDs, p.ID)
			}
		}
		if attrType == "" {
			attrType, attrValue = models.DuplicateAttributePhone, phone
		}
	}

	if len(profileIDs) == 0 {
		if email == "" && phone == "" {
			return Result{Reason: ReasonNoIdentity}, false, nil
		}
		return Result{Reason: ReasonNoIdentity}, false, nil
	}

	// Several distinct profiles sharing the identity, or one already flagged
	// in an open duplicate case, means we must not guess.
	if len(profileIDs) > 1 {
		return ambiguousProfiles(profileIDs, attrType, attrValue), true, nil
	}
	open, err := m.dups.HasOpenCaseForProfiles(profileIDs)
	if err != nil {
		return Result{}, false, fmt.Errorf("duplicate case lookup: %w", err)
	}
	if open {
		return ambiguousProfiles(profileIDs, attrType, attrValue), true, nil
	}

	createdAfter := time.Now().Add(-matchWindow)
	if event.OccurredAt != nil {
		createdAfter = event.OccurredAt.Add(-matchWindow)
	}
	orders, err := m.orders.FindPayableByProfiles(profileIDs, event.Amount, event.Currency, createdAfter, reversal)
	if err != nil {
		return Result{}, false, fmt.Errorf("order lookup by identity: %w", err)
	}

	switch len(orders) {
	case 0:
		return Result{Reason: ReasonAmountMismatch}, false, nil
	case 1:
		return matched(&orders[0]), true, nil
	default:
		// Equally-ranked candidate orders: park for a human, never guess.
		res := Result{
			Outcome:        OutcomeAmbiguous,
			AttributeType:  attrType,
			AttributeValue: attrValue,
		}
		for i := range orders {
			res.Candidates = append(res.Candidates, Candidate{
				OrderID:   orders[i].ID,
				ProfileID: orders[i].ProfileID,
				TariffID:  orders[i].TariffID,
			})
		}
		return res, true, nil
	}
}

func (m *Matcher) matchByCard(event *models.PaymentEvent) (Result, bool, error) {
	fingerprint := models.CardFingerprint(event.CardBrand, event.CardLast4, event.CardHolder)
	if fingerprint == "" {
		return Result{}, false, nil
	}
	links, err := m.profiles.FindCardLinks(fingerprint)
	if err != nil {
		return Result{}, false, fmt.Errorf("card link lookup: %w", err)
	}
	if len(links) == 0 {
		return Result{}, false, nil
	}

	profileIDs := make([]uint, 0, len(links))
	seen := make(map[uint]struct{})
	for _, link := range links {
		if _, ok := seen[link.ProfileID]; !ok {
			seen[link.ProfileID] = struct{}{}
			profileIDs = append(profileIDs, link.ProfileID)
		}
	}
	if len(profileIDs) > 1 {
		return ambiguousProfiles(profileIDs, models.DuplicateAttributeCard, fingerprint), true, nil
	}
	open, err := m.dups.HasOpenCaseForProfiles(profileIDs)
	if err != nil {
		return Result{}, false, fmt.Errorf("duplicate case lookup: %w", err)
	}
	if open {
		return ambiguousProfiles(profileIDs, models.DuplicateAttributeCard, fingerprint), true, nil
	}

	subs, err := m.subs.FindActiveByCardLink(links[0].ID)
	if err != nil {
		return Result{}, false, fmt.Errorf("subscription lookup by card link: %w", err)
	}
	if len(subs) == 0 {
		return Result{}, false, nil
	}
	if len(subs) > 1 {
		res := Result{
			Outcome:        OutcomeAmbiguous,
			AttributeType:  models.DuplicateAttributeCard,
			AttributeValue: fingerprint,
		}
		for i := range subs {
			res.Candidates = append(res.Candidates, Candidate{
				OrderID:   subs[i].OrderID,
				ProfileID: subs[i].ProfileID,
				TariffID:  subs[i].TariffID,
			})
		}
		return res, true, nil
	}

	return Result{
		Outcome:   OutcomeMatched,
		OrderID:   subs[0].OrderID,
		ProfileID: subs[0].ProfileID,
		TariffID:  subs[0].TariffID,
	}, true, nil
}

func matched(order *models.Order) Result {
	return Result{
		Outcome:   OutcomeMatched,
		OrderID:   order.ID,
		ProfileID: order.ProfileID,
		TariffID:  order.TariffID,
	}
}

func ambiguousProfiles(profileIDs []uint, attrType, attrValue string) Result {
	res := Result{
		Outcome:        OutcomeAmbiguous,
		AttributeType:  attrType,
		AttributeValue: attrValue,
	}
	for _, id := range profileIDs {
		res.Candidates = append(res.Candidates, Candidate{ProfileID: id})
	}
	return res
}

func noMatch(reason string) Result {
	return Result{Outcome: OutcomeNoMatch, Reason: reason}
}
