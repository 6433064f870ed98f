package lifecycle

import (
	"errors"
	"fmt"

	"github.com/kassaflow/kassaflow/app/models"
)

// Trigger is an external cause of a subscription transition. Triggers come
// only from the reconciler (payment outcomes) or the scheduler (time), never
// from direct status edits.
type Trigger string

const (
	TriggerChargeSucceeded Trigger = "charge_succeeded"
	TriggerChargeFailed    Trigger = "charge_failed"
	TriggerTrialEnded      Trigger = "trial_ended"
	TriggerGraceExpired    Trigger = "grace_expired"
	TriggerCancel          Trigger = "cancel"
	TriggerSupersede       Trigger = "supersede"
)

// ErrInvalidTransition is returned for a (state, trigger) pair outside the
// allowed edge set.
var ErrInvalidTransition = errors.New("invalid subscription transition")

// Policy carries the configured knobs the transition table depends on.
type Policy struct {
	// TrialKeepsAccess keeps access after trial end without a successful
	// charge (offers that require no auto-charge).
	TrialKeepsAccess bool
	// MaxChargeAttempts bounds retries: once reached, a failing subscription
	// expires regardless of grace timing.
	MaxChargeAttempts int
}

// Next computes the state that follows current under trigger. chargeAttempts
// is the count including the triggering failure. Pure: the caller applies
// field effects (grace window, access dates) itself.
func Next(current string, trigger Trigger, p Policy, chargeAttempts int) (string, error) {
	if trigger == TriggerSupersede {
		if current == models.SubscriptionStatusSuperseded {
			return "", invalid(current, trigger)
		}
		return models.SubscriptionStatusSuperseded, nil
	}

	switch current {
	case models.SubscriptionStatusTrial:
		switch trigger {
		case TriggerChargeSucceeded:
			return models.SubscriptionStatusActive, nil
		case TriggerChargeFailed:
			return models.SubscriptionStatusExpired, nil
		case TriggerTrialEnded:
			if p.TrialKeepsAccess {
				return models.SubscriptionStatusActive, nil
			}
			return models.SubscriptionStatusExpired, nil
		case TriggerCancel:
			return models.SubscriptionStatusCanceled, nil
		}

	case models.SubscriptionStatusActive:
		switch trigger {
		case TriggerChargeSucceeded:
			return models.SubscriptionStatusActive, nil
		case TriggerChargeFailed:
			if p.MaxChargeAttempts > 0 && chargeAttempts >= p.MaxChargeAttempts {
				return models.SubscriptionStatusExpired, nil
			}
			return models.SubscriptionStatusPastDue, nil
		case TriggerCancel:
			return models.SubscriptionStatusCanceled, nil
		case TriggerGraceExpired:
			// Time-based expiry of a non-renewing paid period.
			return models.SubscriptionStatusExpired, nil
		}

	case models.SubscriptionStatusPastDue:
		switch trigger {
		case TriggerChargeSucceeded:
			return models.SubscriptionStatusActive, nil
		case TriggerChargeFailed:
			if p.MaxChargeAttempts > 0 && chargeAttempts >= p.MaxChargeAttempts {
				return models.SubscriptionStatusExpired, nil
			}
			return models.SubscriptionStatusPastDue, nil
		case TriggerGraceExpired:
			return models.SubscriptionStatusExpired, nil
		case TriggerCancel:
			return models.SubscriptionStatusCanceled, nil
		}
	}

	return "", invalid(current, trigger)
}

func invalid(current string, trigger Trigger) error {
	return fmt.Errorf("%w: %s + %s", ErrInvalidTransition, current, trigger)
}
