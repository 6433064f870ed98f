package lifecycle

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
)

// Scheduler drives the time-based subscription transitions: trial endings,
// grace-period expiry, period ends of non-renewing plans and upcoming-charge
// notifications.
type Scheduler struct {
	db      *gorm.DB
	service *Service
	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// High-water mark for the charge-due sweep so every due charge is
	// announced exactly once per due date.
	lastChargeSweep time.Time
}

// NewScheduler creates a scheduler over the given DB and lifecycle service.
func NewScheduler(db *gorm.DB, service *Service) *Scheduler {
	return &Scheduler{
		db:              db,
		service:         service,
		stopCh:          make(chan struct{}),
		lastChargeSweep: time.Now(),
	}
}

// Start launches the background sweep loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.stopCh = make(chan struct{})
	s.running = true

	interval := models.GetAppSettings().GetSchedulerInterval()
	s.ticker = time.NewTicker(interval)
	s.wg.Add(1)
	go s.loop()

	log.Infof("[Lifecycle Scheduler] Started (interval: %s)", interval)
}

// Stop signals the sweep loop and waits for it to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.running = false
	s.wg.Wait()

	log.Info("[Lifecycle Scheduler] Stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			log.Info("[Lifecycle Scheduler] Sweep loop stopping")
			return
		case <-s.ticker.C:
			s.TickOnce(time.Now())
		}
	}
}

// TickOnce runs a single sweep at the given instant. Exported for tests and
// for the manual admin trigger.
func (s *Scheduler) TickOnce(now time.Time) {
	s.sweepTrials(now)
	s.sweepGrace(now)
	s.sweepPeriodEnds(now)
	s.sweepDueCharges(now)
}

func (s *Scheduler) sweepTrials(now time.Time) {
	var due []models.Subscription
	err := s.db.Preload("Tariff").
		Where("status = ? AND trial_end_at IS NOT NULL AND trial_end_at <= ?",
			models.SubscriptionStatusTrial, now).
		Find(&due).Error
	if err != nil {
		log.Errorf("[Lifecycle Scheduler] Trial sweep query failed: %v", err)
		return
	}

	for i := range due {
		sub := &due[i]
		err := s.db.Transaction(func(tx *gorm.DB) error {
			return s.service.transition(tx, sub, TriggerTrialEnded, now, "trial_ended")
		})
		if err != nil {
			log.Errorf("[Lifecycle Scheduler] Trial end for subscription %d failed: %v", sub.ID, err)
		}
	}
	if len(due) > 0 {
		log.Infof("[Lifecycle Scheduler] Processed %d ended trials", len(due))
	}
}

func (s *Scheduler) sweepGrace(now time.Time) {
	var due []models.Subscription
	err := s.db.Preload("Tariff").
		Where("status = ? AND grace_period_ends_at IS NOT NULL AND grace_period_ends_at <= ?",
			models.SubscriptionStatusPastDue, now).
		Find(&due).Error
	if err != nil {
		log.Errorf("[Lifecycle Scheduler] Grace sweep query failed: %v", err)
		return
	}

	for i := range due {
		sub := &due[i]
		err := s.db.Transaction(func(tx *gorm.DB) error {
			return s.service.transition(tx, sub, TriggerGraceExpired, now, "grace_period_expired")
		})
		if err != nil {
			log.Errorf("[Lifecycle Scheduler] Grace expiry for subscription %d failed: %v", sub.ID, err)
		}
	}
}

// sweepPeriodEnds expires active subscriptions whose paid period ran out
// with no renewal charge scheduled.
func (s *Scheduler) sweepPeriodEnds(now time.Time) {
	var due []models.Subscription
	err := s.db.Preload("Tariff").
		Where("status = ? AND next_charge_at IS NULL AND access_end_at IS NOT NULL AND access_end_at <= ?",
			models.SubscriptionStatusActive, now).
		Find(&due).Error
	if err != nil {
		log.Errorf("[Lifecycle Scheduler] Period end sweep query failed: %v", err)
		return
	}

	for i := range due {
		sub := &due[i]
		err := s.db.Transaction(func(tx *gorm.DB) error {
			return s.service.transition(tx, sub, TriggerGraceExpired, now, "period_ended")
		})
		if err != nil {
			log.Errorf("[Lifecycle Scheduler] Period end for subscription %d failed: %v", sub.ID, err)
		}
	}
}

func (s *Scheduler) sweepDueCharges(now time.Time) {
	since := s.lastChargeSweep
	s.lastChargeSweep = now

	var due []models.Subscription
	err := s.db.
		Where("status IN ? AND next_charge_at IS NOT NULL AND next_charge_at > ? AND next_charge_at <= ?",
			[]string{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue}, since, now).
		Find(&due).Error
	if err != nil {
		log.Errorf("[Lifecycle Scheduler] Due charge sweep query failed: %v", err)
		return
	}

	for i := range due {
		sub := &due[i]
		if err := s.service.notifier.ChargeDue(s.db, sub.ID, "due_at="+sub.NextChargeAt.Format(time.RFC3339)); err != nil {
			log.Errorf("[Lifecycle Scheduler] Charge due notification for subscription %d failed: %v", sub.ID, err)
		}
	}
}
