package models

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer, float
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppSettings holds the runtime-tunable reconciliation parameters. Provider
// vocabularies and retry curves evolve, so everything here is editable
// without a deploy.
type AppSettings struct {
	GracePeriodHours         int    `json:"grace_period_hours" validate:"min=1,max=720"`
	MaxChargeAttempts        int    `json:"max_charge_attempts" validate:"min=1,max=20"`
	QueueMaxAttempts         int    `json:"queue_max_attempts" validate:"min=1,max=50"`
	BackoffBaseSeconds       int    `json:"backoff_base_seconds" validate:"min=1"`
	BackoffCapSeconds        int    `json:"backoff_cap_seconds" validate:"min=60"`
	ReconcileWorkerCount     int    `json:"reconcile_worker_count" validate:"min=1,max=64"`
	DrainIntervalSeconds     int    `json:"drain_interval_seconds" validate:"min=1"`
	SchedulerIntervalSeconds int    `json:"scheduler_interval_seconds" validate:"min=1"`
	MatchWindowHours         int    `json:"match_window_hours" validate:"min=1"`
	RefundWindowDays         int    `json:"refund_window_days" validate:"min=1"`
	TrialKeepsAccess         bool   `json:"trial_keeps_access"`
	ImmediateRevoke          bool   `json:"immediate_revoke"`
	StatusSynonymsJSON       string `json:"status_synonyms_json"`
	mu                       sync.RWMutex
}

// Global settings instance
var (
	appSettings *AppSettings
	settingsMu  sync.RWMutex
)

// GetAppSettings returns the current application settings
func GetAppSettings() *AppSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return appSettings
}

func defaultAppSettings() *AppSettings {
	return &AppSettings{
		GracePeriodHours:         72,
		MaxChargeAttempts:        4,
		QueueMaxAttempts:         8,
		BackoffBaseSeconds:       60,
		BackoffCapSeconds:        86400,
		ReconcileWorkerCount:     3,
		DrainIntervalSeconds:     30,
		SchedulerIntervalSeconds: 60,
		MatchWindowHours:         48,
		RefundWindowDays:         180,
		TrialKeepsAccess:         false,
		ImmediateRevoke:          false,
	}
}

// LoadSettings loads settings from database into memory
func LoadSettings(db *gorm.DB) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	appSettings = defaultAppSettings()

	var settings []Setting
	if err := db.Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	for _, setting := range settings {
		switch setting.Key {
		case "grace_period_hours":
			applyIntSetting(&appSettings.GracePeriodHours, setting.Value)
		case "max_charge_attempts":
			applyIntSetting(&appSettings.MaxChargeAttempts, setting.Value)
		case "queue_max_attempts":
			applyIntSetting(&appSettings.QueueMaxAttempts, setting.Value)
		case "backoff_base_seconds":
			applyIntSetting(&appSettings.BackoffBaseSeconds, setting.Value)
		case "backoff_cap_seconds":
			applyIntSetting(&appSettings.BackoffCapSeconds, setting.Value)
		case "reconcile_worker_count":
			applyIntSetting(&appSettings.ReconcileWorkerCount, setting.Value)
		case "drain_interval_seconds":
			applyIntSetting(&appSettings.DrainIntervalSeconds, setting.Value)
		case "scheduler_interval_seconds":
			applyIntSetting(&appSettings.SchedulerIntervalSeconds, setting.Value)
		case "match_window_hours":
			applyIntSetting(&appSettings.MatchWindowHours, setting.Value)
		case "refund_window_days":
			applyIntSetting(&appSettings.RefundWindowDays, setting.Value)
		case "trial_keeps_access":
			appSettings.TrialKeepsAccess = setting.Value == "true"
		case "immediate_revoke":
			appSettings.ImmediateRevoke = setting.Value == "true"
		case "status_synonyms_json":
			appSettings.StatusSynonymsJSON = setting.Value
		}
	}

	return nil
}

// SaveSettings validates and persists current settings to database
func SaveSettings(db *gorm.DB, settings *AppSettings) error {
	if err := validator.New().Struct(settings); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	settingsMu.Lock()
	defer settingsMu.Unlock()

	pairs := map[string]string{
		"grace_period_hours":         fmt.Sprintf("%d", settings.GracePeriodHours),
		"max_charge_attempts":        fmt.Sprintf("%d", settings.MaxChargeAttempts),
		"queue_max_attempts":         fmt.Sprintf("%d", settings.QueueMaxAttempts),
		"backoff_base_seconds":       fmt.Sprintf("%d", settings.BackoffBaseSeconds),
		"backoff_cap_seconds":        fmt.Sprintf("%d", settings.BackoffCapSeconds),
		"reconcile_worker_count":     fmt.Sprintf("%d", settings.ReconcileWorkerCount),
		"drain_interval_seconds":     fmt.Sprintf("%d", settings.DrainIntervalSeconds),
		"scheduler_interval_seconds": fmt.Sprintf("%d", settings.SchedulerIntervalSeconds),
		"match_window_hours":         fmt.Sprintf("%d", settings.MatchWindowHours),
		"refund_window_days":         fmt.Sprintf("%d", settings.RefundWindowDays),
		"trial_keeps_access":         fmt.Sprintf("%t", settings.TrialKeepsAccess),
		"immediate_revoke":           fmt.Sprintf("%t", settings.ImmediateRevoke),
		"status_synonyms_json":       settings.StatusSynonymsJSON,
	}

	for key, value := range pairs {
		row := Setting{Key: key, Value: value, Type: "string"}
		if err := db.Where("setting_key = ?", key).
			Assign(map[string]interface{}{"value": value, "type": "string"}).
			FirstOrCreate(&row).Error; err != nil {
			return fmt.Errorf("failed to save setting %s: %w", key, err)
		}
	}

	appSettings = settings
	return nil
}

func applyIntSetting(target *int, value string) {
	var parsed int
	if _, err := fmt.Sscanf(value, "%d", &parsed); err == nil && parsed > 0 {
		*target = parsed
	}
}

// Typed getters with safe defaults when settings have not been loaded.

func (s *AppSettings) GetGracePeriod() time.Duration {
	if s == nil {
		return 72 * time.Hour
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.GracePeriodHours) * time.Hour
}

func (s *AppSettings) GetMaxChargeAttempts() int {
	if s == nil {
		return 4
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxChargeAttempts
}

func (s *AppSettings) GetQueueMaxAttempts() int {
	if s == nil {
		return 8
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.QueueMaxAttempts
}

func (s *AppSettings) GetBackoffBase() time.Duration {
	if s == nil {
		return time.Minute
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.BackoffBaseSeconds) * time.Second
}

func (s *AppSettings) GetBackoffCap() time.Duration {
	if s == nil {
		return 24 * time.Hour
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.BackoffCapSeconds) * time.Second
}

func (s *AppSettings) GetReconcileWorkerCount() int {
	if s == nil {
		return 3
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ReconcileWorkerCount
}

func (s *AppSettings) GetDrainInterval() time.Duration {
	if s == nil {
		return 30 * time.Second
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.DrainIntervalSeconds) * time.Second
}

func (s *AppSettings) GetSchedulerInterval() time.Duration {
	if s == nil {
		return time.Minute
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.SchedulerIntervalSeconds) * time.Second
}

func (s *AppSettings) GetMatchWindow() time.Duration {
	if s == nil {
		return 48 * time.Hour
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.MatchWindowHours) * time.Hour
}

func (s *AppSettings) GetRefundWindow() time.Duration {
	if s == nil {
		return 180 * 24 * time.Hour
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.RefundWindowDays) * 24 * time.Hour
}

func (s *AppSettings) GetTrialKeepsAccess() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TrialKeepsAccess
}

func (s *AppSettings) GetImmediateRevoke() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ImmediateRevoke
}

func (s *AppSettings) GetStatusSynonymsJSON() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.StatusSynonymsJSON
}
