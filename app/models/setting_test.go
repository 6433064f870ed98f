package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppSettingsDefaults(t *testing.T) {
	s := defaultAppSettings()

	assert.Equal(t, 72, s.GracePeriodHours)
	assert.Equal(t, 4, s.MaxChargeAttempts)
	assert.Equal(t, 8, s.QueueMaxAttempts)
	assert.Equal(t, 72*time.Hour, s.GetGracePeriod())
	assert.Equal(t, 60*time.Second, s.GetBackoffBase())
	assert.Equal(t, 24*time.Hour, s.GetBackoffCap())
	assert.Equal(t, 48*time.Hour, s.GetMatchWindow())
	assert.Equal(t, 180*24*time.Hour, s.GetRefundWindow())
	assert.False(t, s.TrialKeepsAccess)
	assert.False(t, s.ImmediateRevoke)
}

// Getters must serve sane values even before LoadSettings ran.
func TestAppSettingsNilSafety(t *testing.T) {
	var s *AppSettings

	assert.Equal(t, 72*time.Hour, s.GetGracePeriod())
	assert.Equal(t, 4, s.GetMaxChargeAttempts())
	assert.Equal(t, 8, s.GetQueueMaxAttempts())
	assert.Equal(t, 3, s.GetReconcileWorkerCount())
	assert.False(t, s.GetTrialKeepsAccess())
	assert.False(t, s.GetImmediateRevoke())
	assert.Equal(t, "", s.GetStatusSynonymsJSON())
}

func TestApplyIntSetting(t *testing.T) {
	v := 10
	applyIntSetting(&v, "25")
	assert.Equal(t, 25, v)

	applyIntSetting(&v, "not-a-number")
	assert.Equal(t, 25, v)

	applyIntSetting(&v, "-3")
	assert.Equal(t, 25, v)
}
