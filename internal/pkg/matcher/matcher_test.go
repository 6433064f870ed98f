package matcher

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kassaflow/kassaflow/app/models"
	"github.com/kassaflow/kassaflow/app/repository"
)

type fakeOrderRepo struct {
	byID     map[uint]*models.Order
	byToken  map[string]*models.Order
	payable  []models.Order
	tokenErr error
}

func (f *fakeOrderRepo) GetByID(id uint) (*models.Order, error) {
	if o, ok := f.byID[id]; ok {
		return o, nil
	}
	return nil, errNotFound
}

func (f *fakeOrderRepo) GetByPublicToken(token string) (*models.Order, error) {
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return f.byToken[token], nil
}

func (f *fakeOrderRepo) FindPayableByProfiles(profileIDs []uint, amount decimal.Decimal, currency string, createdAfter time.Time, includePaid bool) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.payable {
		if o.Status == models.OrderStatusPaid && !includePaid {
			continue
		}
		for _, pid := range profileIDs {
			if o.ProfileID == pid && o.Amount.Equal(amount) && o.Currency == currency {
				out = append(out, o)
			}
		}
	}
	return out, nil
}

type fakePaymentRepo struct {
	byProviderID map[string]*models.Payment
}

func (f *fakePaymentRepo) GetByProviderPaymentID(provider, providerPaymentID string) (*models.Payment, error) {
	return f.byProviderID[provider+"|"+providerPaymentID], nil
}

func (f *fakePaymentRepo) ListByOrder(orderID uint) ([]models.Payment, error) { return nil, nil }

func (f *fakePaymentRepo) SumReversals(paymentID uint) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeProfileRepo struct {
	byEmail map[string][]models.Profile
	byPhone map[string][]models.Profile
	links   map[string][]models.CardLink
}

func (f *fakeProfileRepo) GetByID(id uint) (*models.Profile, error) { return nil, errNotFound }

func (f *fakeProfileRepo) FindActiveByEmail(email string) ([]models.Profile, error) {
	return f.byEmail[email], nil
}

func (f *fakeProfileRepo) FindActiveByPhone(phone string) ([]models.Profile, error) {
	return f.byPhone[phone], nil
}

func (f *fakeProfileRepo) FindCardLinks(fingerprint string) ([]models.CardLink, error) {
	return f.links[fingerprint], nil
}

func (f *fakeProfileRepo) Create(p *models.Profile) error { return nil }
func (f *fakeProfileRepo) Update(p *models.Profile) error { return nil }

type fakeSubscriptionRepo struct {
	byCardLink map[uint][]models.Subscription
}

func (f *fakeSubscriptionRepo) GetByID(id uint) (*models.Subscription, error) { return nil, errNotFound }
func (f *fakeSubscriptionRepo) GetByOrderID(orderID uint) (*models.Subscription, error) {
	return nil, errNotFound
}
func (f *fakeSubscriptionRepo) FindCurrentByProfileAndTariff(profileID, tariffID uint) (*models.Subscription, error) {
	return nil, errNotFound
}
func (f *fakeSubscriptionRepo) FindActiveByCardLink(cardLinkID uint) ([]models.Subscription, error) {
	return f.byCardLink[cardLinkID], nil
}
func (f *fakeSubscriptionRepo) ListByProfile(profileID uint) ([]models.Subscription, error) {
	return nil, nil
}

type fakeDuplicateRepo struct {
	openProfiles map[uint]bool
}

func (f *fakeDuplicateRepo) FindOpenByAttribute(attributeType, attributeValue string) (*models.DuplicateCase, error) {
	return nil, nil
}
func (f *fakeDuplicateRepo) Create(dupCase *models.DuplicateCase) error { return nil }
func (f *fakeDuplicateRepo) AddMember(caseID, profileID uint) error     { return nil }
func (f *fakeDuplicateRepo) HasOpenCaseForProfiles(profileIDs []uint) (bool, error) {
	for _, id := range profileIDs {
		if f.openProfiles[id] {
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeDuplicateRepo) GetByID(id uint) (*models.DuplicateCase, error) { return nil, errNotFound }
func (f *fakeDuplicateRepo) ListOpen(offset, limit int) ([]models.DuplicateCase, error) {
	return nil, nil
}
func (f *fakeDuplicateRepo) CountOpen() (int64, error) { return 0, nil }

type notFoundError struct{}

func (notFoundError) Error() string { return "record not found" }

var errNotFound = notFoundError{}

func newTestMatcher() (*Matcher, *fakeOrderRepo, *fakePaymentRepo, *fakeProfileRepo, *fakeSubscriptionRepo, *fakeDuplicateRepo) {
	orders := &fakeOrderRepo{byID: map[uint]*models.Order{}, byToken: map[string]*models.Order{}}
	payments := &fakePaymentRepo{byProviderID: map[string]*models.Payment{}}
	profiles := &fakeProfileRepo{byEmail: map[string][]models.Profile{}, byPhone: map[string][]models.Profile{}, links: map[string][]models.CardLink{}}
	subs := &fakeSubscriptionRepo{byCardLink: map[uint][]models.Subscription{}}
	dups := &fakeDuplicateRepo{openProfiles: map[uint]bool{}}

	m := New(&repository.Repositories{
		Event:        nil,
		Order:        orders,
		Payment:      payments,
		Profile:      profiles,
		Subscription: subs,
		Duplicate:    dups,
	})
	return m, orders, payments, profiles, subs, dups
}

func amount(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestMatchByProviderPaymentID(t *testing.T) {
	m, orders, payments, _, _, _ := newTestMatcher()
	orders.byID[7] = &models.Order{ID: 7, ProfileID: 3, TariffID: 2}
	payments.byProviderID["cloudpay|tx-1"] = &models.Payment{ID: 1, OrderID: 7}

	res, err := m.Match(&models.PaymentEvent{Provider: "cloudpay", ExternalID: "tx-1", Amount: amount("990")}, 48*time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeMatched || res.OrderID != 7 || res.ProfileID != 3 {
		t.Errorf("got %+v, want matched order 7 profile 3", res)
	}
}

func TestMatchByOrderToken(t *testing.T) {
	m, orders, _, _, _, _ := newTestMatcher()
	orders.byToken["ord-abc"] = &models.Order{ID: 12, ProfileID: 5, TariffID: 1}

	res, err := m.Match(&models.PaymentEvent{Provider: "cloudpay", ExternalID: "tx-2", OrderToken: "ord-abc", Amount: amount("990")}, 48*time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeMatched || res.OrderID != 12 {
		t.Errorf("got %+v, want matched order 12", res)
	}
}

func TestMatchByIdentitySingleCandidate(t *testing.T) {
	m, orders, _, profiles, _, _ := newTestMatcher()
	profiles.byEmail["anna@example.com"] = []models.Profile{{ID: 5}}
	orders.payable = []models.Order{{ID: 31, ProfileID: 5, TariffID: 2, Amount: amount("990.00"), Currency: "RUB"}}

	event := &models.PaymentEvent{
		Provider: "cloudpay", ExternalID: "tx-3",
		Email: "Anna@Example.com", Amount: amount("990.00"), Currency: "RUB",
	}
	res, err := m.Match(event, 48*time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeMatched || res.OrderID != 31 {
		t.Errorf("got %+v, want matched order 31", res)
	}
}

func TestMatchAmbiguousProfilesNeverGuesses(t *testing.T) {
	m, _, _, profiles, _, _ := newTestMatcher()
	profiles.byEmail["anna@example.com"] = []models.Profile{{ID: 5}, {ID: 9}}

	event := &models.PaymentEvent{
		Provider: "cloudpay", ExternalID: "tx-4",
		Email: "anna@example.com", Amount: amount("990.00"), Currency: "RUB",
	}
	res, err := m.Match(event, 48*time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAmbiguous {
		t.Fatalf("got %s, want ambiguous", res.Outcome)
	}
	if len(res.Candidates) != 2 || res.AttributeType != models.DuplicateAttributeEmail {
		t.Errorf("got candidates %+v attr %s, want 2 email candidates", res.Candidates, res.AttributeType)
	}
}

func TestMatchOpenDuplicateCaseBlocksMatching(t *testing.T) {
	m, orders, _, profiles, _, dups := newTestMatcher()
	profiles.byEmail["anna@example.com"] = []models.Profile{{ID: 5}}
	orders.payable = []models.Order{{ID: 31, ProfileID: 5, TariffID: 2, Amount: amount("990.00"), Currency: "RUB"}}
	dups.openProfiles[5] = true

	event := &models.PaymentEvent{
		Provider: "cloudpay", ExternalID: "tx-5",
		Email: "anna@example.com", Amount: amount("990.00"), Currency: "RUB",
	}
	res, err := m.Match(event, 48*time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAmbiguous {
		t.Errorf("got %s, want ambiguous while duplicate case is open", res.Outcome)
	}
}

func TestMatchAmbiguousOrders(t *testing.T) {
	m, orders, _, profiles, _, _ := newTestMatcher()
	profiles.byEmail["anna@example.com"] = []models.Profile{{ID: 5}}
	orders.payable = []models.Order{
		{ID: 31, ProfileID: 5, TariffID: 2, Amount: amount("990.00"), Currency: "RUB"},
		{ID: 32, ProfileID: 5, TariffID: 3, Amount: amount("990.00"), Currency: "RUB"},
	}

	event := &models.PaymentEvent{
		Provider: "cloudpay", ExternalID: "tx-6",
		Email: "anna@example.com", Amount: amount("990.00"), Currency: "RUB",
	}
	res, err := m.Match(event, 48*time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeAmbiguous || len(res.Candidates) != 2 {
		t.Errorf("got %+v, want 2 ambiguous order candidates", res)
	}
}

func TestMatchByCardFingerprint(t *testing.T) {
	m, _, _, profiles, subs, _ := newTestMatcher()
	fp := models.CardFingerprint("visa", "4242", "ANNA K")
	profiles.links[fp] = []models.CardLink{{ID: 2, ProfileID: 5, Fingerprint: fp}}
	subs.byCardLink[2] = []models.Subscription{{ID: 11, OrderID: 40, ProfileID: 5, TariffID: 2}}

	event := &models.PaymentEvent{
		Provider: "cloudpay", ExternalID: "tx-7", Recurring: true,
		CardBrand: "visa", CardLast4: "4242", CardHolder: "ANNA K",
		Amount: amount("990.00"), Currency: "RUB",
	}
	res, err := m.Match(event, 48*time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeMatched || res.OrderID != 40 {
		t.Errorf("got %+v, want matched order 40 via card", res)
	}
}

func TestMatchCardIgnoredForNonRecurring(t *testing.T) {
	m, _, _, profiles, subs, _ := newTestMatcher()
	fp := models.CardFingerprint("visa", "4242", "ANNA K")
	profiles.links[fp] = []models.CardLink{{ID: 2, ProfileID: 5, Fingerprint: fp}}
	subs.byCardLink[2] = []models.Subscription{{ID: 11, OrderID: 40, ProfileID: 5, TariffID: 2}}

	event := &models.PaymentEvent{
		Provider: "cloudpay", ExternalID: "tx-8", Recurring: false,
		CardBrand: "visa", CardLast4: "4242", CardHolder: "ANNA K",
		Amount: amount("990.00"), Currency: "RUB",
	}
	res, err := m.Match(event, 48*time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeNoMatch {
		t.Errorf("got %s, want no_match for one-off card event", res.Outcome)
	}
}

func TestMatchReversalByIdentityFindsPaidOrder(t *testing.T) {
	m, orders, _, profiles, _, _ := newTestMatcher()
	profiles.byEmail["anna@example.com"] = []models.Profile{{ID: 5}}
	orders.payable = []models.Order{
		{ID: 31, ProfileID: 5, TariffID: 2, Status: models.OrderStatusPaid, Amount: amount("990.00"), Currency: "RUB"},
	}

	event := &models.PaymentEvent{
		Provider: "cloudpay", ExternalID: "ref-1",
		Email: "anna@example.com", Amount: amount("990.00"), Currency: "RUB",
	}

	// A charge never targets a paid order.
	res, err := m.Match(event, 48*time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeNoMatch || res.Reason != ReasonAmountMismatch {
		t.Errorf("got %+v, want no_match/%s for a charge", res, ReasonAmountMismatch)
	}

	// A statement-import refund carries its own transaction id and no order
	// token; it must still reach the paid order it undoes.
	res, err = m.Match(event, 48*time.Hour, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeMatched || res.OrderID != 31 {
		t.Errorf("got %+v, want matched order 31 for a reversal", res)
	}
}

func TestMatchTokenLookupErrorPropagates(t *testing.T) {
	m, orders, _, _, _, _ := newTestMatcher()
	orders.tokenErr = errors.New("connection refused")

	_, err := m.Match(&models.PaymentEvent{
		Provider: "cloudpay", ExternalID: "tx-10", OrderToken: "ord-abc", Amount: amount("990"),
	}, 48*time.Hour, false)
	if err == nil {
		t.Fatal("want a transient lookup failure to surface, got nil")
	}
}

func TestMatchNoIdentity(t *testing.T) {
	m, _, _, _, _, _ := newTestMatcher()

	res, err := m.Match(&models.PaymentEvent{Provider: "cloudpay", ExternalID: "tx-9", Amount: amount("990.00")}, 48*time.Hour, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeNoMatch || res.Reason != ReasonNoIdentity {
		t.Errorf("got %+v, want no_match/%s", res, ReasonNoIdentity)
	}
}
