package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
	"github.com/kassaflow/kassaflow/app/repository"
	"github.com/kassaflow/kassaflow/internal/pkg/dedup"
	"github.com/kassaflow/kassaflow/internal/pkg/lifecycle"
	"github.com/kassaflow/kassaflow/internal/pkg/matcher"
	"github.com/kassaflow/kassaflow/internal/pkg/normalizer"
	"github.com/kassaflow/kassaflow/internal/pkg/notify"
)

const (
	claimBatchSize = 25
	// Claims older than this belong to a dead worker and are swept back.
	staleClaimAge      = 10 * time.Minute
	staleSweepInterval = 5 * time.Minute
)

// Reconciler drains the payment event queue with a pool of workers. Each
// worker claims a batch, applies every row in its own transaction and either
// resolves, reschedules or parks it. Stop drains in-flight rows before
// returning.
type Reconciler struct {
	db       *gorm.DB
	repos    *repository.Repositories
	match    *matcher.Matcher
	life     *lifecycle.Service
	norm     *normalizer.Normalizer
	notifier notify.Notifier
	detector *dedup.Detector

	drainTicker *time.Ticker
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// New creates a Reconciler wiring the matcher, lifecycle service and
// duplicate detector over the shared repositories.
func New(db *gorm.DB, repos *repository.Repositories, life *lifecycle.Service, notifier notify.Notifier) *Reconciler {
	settings := models.GetAppSettings()

	table := normalizer.DefaultSynonyms()
	if raw := settings.GetStatusSynonymsJSON(); raw != "" {
		merged, err := table.MergeOverridesJSON(raw)
		if err != nil {
			log.Errorf("[Reconciler] Invalid status synonym overrides, using defaults: %v", err)
		} else {
			table = merged
		}
	}

	return &Reconciler{
		db:       db,
		repos:    repos,
		match:    matcher.New(repos),
		life:     life,
		norm:     normalizer.New(table),
		notifier: notifier,
		detector: dedup.NewDetector(db, repos.Duplicate),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker pool and the stale-claim sweeper.
func (r *Reconciler) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.stopCh = make(chan struct{})
	r.running = true

	settings := models.GetAppSettings()
	workerCount := settings.GetReconcileWorkerCount()
	drainInterval := settings.GetDrainInterval()

	r.drainTicker = time.NewTicker(drainInterval)
	for i := 0; i < workerCount; i++ {
		workerID := fmt.Sprintf("worker-%s", uuid.New().String()[:8])
		r.wg.Add(1)
		go r.worker(workerID)
	}

	r.sweepTicker = time.NewTicker(staleSweepInterval)
	r.wg.Add(1)
	go r.sweeper()

	log.Infof("[Reconciler] Started %d workers (drain interval: %s)", workerCount, drainInterval)
}

// Stop signals all workers and waits for in-flight rows to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	log.Info("[Reconciler] Stopping workers...")
	if r.drainTicker != nil {
		r.drainTicker.Stop()
	}
	if r.sweepTicker != nil {
		r.sweepTicker.Stop()
	}
	close(r.stopCh)
	r.running = false
	r.wg.Wait()
	log.Info("[Reconciler] Stopped")
}

func (r *Reconciler) worker(workerID string) {
	defer r.wg.Done()
	log.Infof("[Reconciler] Worker %s started", workerID)

	for {
		select {
		case <-r.stopCh:
			log.Infof("[Reconciler] Worker %s stopping", workerID)
			return
		case <-r.drainTicker.C:
			r.drainOnce(workerID)
		}
	}
}

// drainOnce claims one batch and processes it. Exported through DrainOnce for
// the admin trigger and tests.
func (r *Reconciler) drainOnce(workerID string) {
	claimed, err := r.repos.Event.Claim(claimBatchSize, workerID)
	if err != nil {
		log.Errorf("[Reconciler] Worker %s claim failed: %v", workerID, err)
		return
	}

	for i := range claimed {
		select {
		case <-r.stopCh:
			// Leave the rest claimed; the sweeper frees them if we die.
			return
		default:
		}
		if err := r.processEvent(&claimed[i], workerID); err != nil {
			log.Errorf("[Reconciler] Worker %s: event %d: %v", workerID, claimed[i].ID, err)
		}
	}
}

// DrainOnce runs a single synchronous claim-and-process cycle.
func (r *Reconciler) DrainOnce() {
	r.drainOnce("manual-" + uuid.New().String()[:8])
}

func (r *Reconciler) sweeper() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.sweepTicker.C:
			released, err := r.repos.Event.ReleaseStaleClaims(staleClaimAge)
			if err != nil {
				log.Errorf("[Reconciler] Stale claim sweep failed: %v", err)
				continue
			}
			if released > 0 {
				log.Warnf("[Reconciler] Released %d stale claims", released)
			}
		}
	}
}
