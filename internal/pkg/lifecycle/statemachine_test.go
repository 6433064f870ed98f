package lifecycle

import (
	"errors"
	"testing"

	"github.com/kassaflow/kassaflow/app/models"
)

func TestNextAllowedEdges(t *testing.T) {
	defaultPolicy := Policy{TrialKeepsAccess: false, MaxChargeAttempts: 4}

	tests := []struct {
		name     string
		current  string
		trigger  Trigger
		policy   Policy
		attempts int
		want     string
	}{
		{"trial charge success activates", models.SubscriptionStatusTrial, TriggerChargeSucceeded, defaultPolicy, 0, models.SubscriptionStatusActive},
		{"trial charge failure expires", models.SubscriptionStatusTrial, TriggerChargeFailed, defaultPolicy, 1, models.SubscriptionStatusExpired},
		{"trial end expires by default", models.SubscriptionStatusTrial, TriggerTrialEnded, defaultPolicy, 0, models.SubscriptionStatusExpired},
		{"trial end keeps access when configured", models.SubscriptionStatusTrial, TriggerTrialEnded, Policy{TrialKeepsAccess: true, MaxChargeAttempts: 4}, 0, models.SubscriptionStatusActive},
		{"trial cancel", models.SubscriptionStatusTrial, TriggerCancel, defaultPolicy, 0, models.SubscriptionStatusCanceled},

		{"active renewal stays active", models.SubscriptionStatusActive, TriggerChargeSucceeded, defaultPolicy, 0, models.SubscriptionStatusActive},
		{"active first failure enters grace", models.SubscriptionStatusActive, TriggerChargeFailed, defaultPolicy, 1, models.SubscriptionStatusPastDue},
		{"active failure at attempt cap expires", models.SubscriptionStatusActive, TriggerChargeFailed, defaultPolicy, 4, models.SubscriptionStatusExpired},
		{"active cancel", models.SubscriptionStatusActive, TriggerCancel, defaultPolicy, 0, models.SubscriptionStatusCanceled},
		{"active period end expires", models.SubscriptionStatusActive, TriggerGraceExpired, defaultPolicy, 0, models.SubscriptionStatusExpired},

		{"past due recovery activates", models.SubscriptionStatusPastDue, TriggerChargeSucceeded, defaultPolicy, 2, models.SubscriptionStatusActive},
		{"past due repeated failure stays past due", models.SubscriptionStatusPastDue, TriggerChargeFailed, defaultPolicy, 2, models.SubscriptionStatusPastDue},
		{"past due failure at attempt cap expires", models.SubscriptionStatusPastDue, TriggerChargeFailed, defaultPolicy, 4, models.SubscriptionStatusExpired},
		{"past due grace expiry expires", models.SubscriptionStatusPastDue, TriggerGraceExpired, defaultPolicy, 2, models.SubscriptionStatusExpired},
		{"past due cancel", models.SubscriptionStatusPastDue, TriggerCancel, defaultPolicy, 2, models.SubscriptionStatusCanceled},

		{"trial supersede", models.SubscriptionStatusTrial, TriggerSupersede, defaultPolicy, 0, models.SubscriptionStatusSuperseded},
		{"active supersede", models.SubscriptionStatusActive, TriggerSupersede, defaultPolicy, 0, models.SubscriptionStatusSuperseded},
		{"past due supersede", models.SubscriptionStatusPastDue, TriggerSupersede, defaultPolicy, 0, models.SubscriptionStatusSuperseded},
		{"canceled supersede", models.SubscriptionStatusCanceled, TriggerSupersede, defaultPolicy, 0, models.SubscriptionStatusSuperseded},
		{"expired supersede", models.SubscriptionStatusExpired, TriggerSupersede, defaultPolicy, 0, models.SubscriptionStatusSuperseded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.current, tt.trigger, tt.policy, tt.attempts)
			if err != nil {
				t.Fatalf("Next(%s, %s) returned error: %v", tt.current, tt.trigger, err)
			}
			if got != tt.want {
				t.Errorf("Next(%s, %s) = %s, want %s", tt.current, tt.trigger, got, tt.want)
			}
		})
	}
}

func TestNextRejectsInvalidEdges(t *testing.T) {
	p := Policy{MaxChargeAttempts: 4}

	terminal := []string{
		models.SubscriptionStatusCanceled,
		models.SubscriptionStatusExpired,
		models.SubscriptionStatusSuperseded,
	}
	triggers := []Trigger{TriggerChargeSucceeded, TriggerChargeFailed, TriggerTrialEnded, TriggerGraceExpired, TriggerCancel}

	for _, state := range terminal {
		for _, trigger := range triggers {
			if _, err := Next(state, trigger, p, 0); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Next(%s, %s) = %v, want ErrInvalidTransition", state, trigger, err)
			}
		}
	}

	// A superseded subscription cannot be superseded again.
	if _, err := Next(models.SubscriptionStatusSuperseded, TriggerSupersede, p, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("supersede of superseded = %v, want ErrInvalidTransition", err)
	}

	// Grace expiry without a trial or grace context is rejected.
	if _, err := Next(models.SubscriptionStatusTrial, TriggerGraceExpired, p, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Next(trial, grace_expired) = %v, want ErrInvalidTransition", err)
	}
	if _, err := Next(models.SubscriptionStatusActive, TriggerTrialEnded, p, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Next(active, trial_ended) = %v, want ErrInvalidTransition", err)
	}
}

func TestNextAttemptCapDisabledWhenZero(t *testing.T) {
	p := Policy{MaxChargeAttempts: 0}
	got, err := Next(models.SubscriptionStatusPastDue, TriggerChargeFailed, p, 99)
	if err != nil {
		t.Fatal(err)
	}
	if got != models.SubscriptionStatusPastDue {
		t.Errorf("with cap disabled, repeated failure = %s, want past_due", got)
	}
}
