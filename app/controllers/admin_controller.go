package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/kassaflow/kassaflow/app/models"
	"github.com/kassaflow/kassaflow/app/repository"
	"github.com/kassaflow/kassaflow/internal/pkg/database"
	"github.com/kassaflow/kassaflow/internal/pkg/dedup"
	"github.com/kassaflow/kassaflow/internal/pkg/metrics/counter"
)

// HandleAdminQueueBacklog reports the reconciliation queue state: pending,
// parked and resolved counts plus the oldest due row.
func HandleAdminQueueBacklog(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetEventRepository()
	backlog, err := repo.BacklogStats()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load backlog"})
	}
	openCases, err := repository.GetGlobalFactory().GetDuplicateRepository().CountOpen()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to count duplicate cases"})
	}
	return c.JSON(fiber.Map{
		"queue":                backlog,
		"open_duplicate_cases": openCases,
	})
}

// HandleAdminManualReviewList pages through the parked rows.
func HandleAdminManualReviewList(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	events, err := repository.GetGlobalFactory().GetEventRepository().ListManualReview(offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load review queue"})
	}
	return c.JSON(fiber.Map{"events": events, "offset": offset, "limit": limit})
}

// HandleAdminRequeueEvent sends a parked row back to the pending queue with
// a fresh attempt budget.
func HandleAdminRequeueEvent(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid event id"})
	}

	repo := repository.GetGlobalFactory().GetEventRepository()
	event, err := repo.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Event not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load event"})
	}
	if event.State != models.EventStateManualReview {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Only parked events can be requeued"})
	}

	if err := repo.Requeue(event.ID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Requeue failed"})
	}
	log.Infof("[Admin] Event %d requeued", event.ID)
	return c.JSON(fiber.Map{"status": "requeued"})
}

// HandleAdminProviderStats returns per-provider processing counters for
// failure-rate monitoring.
func HandleAdminProviderStats(c *fiber.Ctx) error {
	stats, err := counter.Snapshot()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to read counters"})
	}
	return c.JSON(fiber.Map{"providers": stats})
}

// HandleAdminProfileSubscriptions lists a profile's subscriptions with the
// derived access flag.
func HandleAdminProfileSubscriptions(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid profile id"})
	}

	subs, err := repository.GetGlobalFactory().GetSubscriptionRepository().ListByProfile(uint(id))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscriptions"})
	}

	now := time.Now()
	type subView struct {
		models.Subscription
		HasAccess bool `json:"has_access"`
	}
	views := make([]subView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subView{Subscription: sub, HasAccess: sub.HasAccess(now)})
	}
	return c.JSON(fiber.Map{"subscriptions": views})
}

// HandleAdminDuplicateCases pages through open duplicate cases.
func HandleAdminDuplicateCases(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	cases, err := repository.GetGlobalFactory().GetDuplicateRepository().ListOpen(offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load duplicate cases"})
	}
	return c.JSON(fiber.Map{"cases": cases, "offset": offset, "limit": limit})
}

// HandleAdminDuplicateScan runs a full duplicate-profile scan on demand.
func HandleAdminDuplicateScan(c *fiber.Ctx) error {
	db := database.GetDB()
	detector := dedup.NewDetector(db, repository.GetGlobalFactory().GetDuplicateRepository())
	opened, err := detector.Scan()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Scan failed"})
	}
	return c.JSON(fiber.Map{"opened_cases": opened})
}

// HandleAdminMergeProfiles merges a duplicate case into a chosen master
// profile. Destructive for the merged profiles, so everything is validated
// inside the merge transaction.
func HandleAdminMergeProfiles(c *fiber.Ctx) error {
	caseID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid case id"})
	}

	var payload struct {
		MasterProfileID uint   `json:"master_profile_id"`
		PerformedBy     string `json:"performed_by"`
	}
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed payload"})
	}
	if payload.MasterProfileID == 0 || payload.PerformedBy == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "master_profile_id and performed_by are required"})
	}

	merger := dedup.NewMerger(database.GetDB())
	if err := merger.Merge(uint(caseID), payload.MasterProfileID, payload.PerformedBy); err != nil {
		switch {
		case errors.Is(err, dedup.ErrCaseNotOpen),
			errors.Is(err, dedup.ErrMasterNotMember),
			errors.Is(err, dedup.ErrMasterNotActive),
			errors.Is(err, dedup.ErrNothingToMerge):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
		case errors.Is(err, gorm.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Case not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Merge failed"})
	}
	return c.JSON(fiber.Map{"status": "merged"})
}

// HandleAdminIgnoreDuplicateCase closes a case as a false positive.
func HandleAdminIgnoreDuplicateCase(c *fiber.Ctx) error {
	caseID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid case id"})
	}

	merger := dedup.NewMerger(database.GetDB())
	if err := merger.Ignore(uint(caseID)); err != nil {
		if errors.Is(err, dedup.ErrCaseNotOpen) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Ignore failed"})
	}
	return c.JSON(fiber.Map{"status": "ignored"})
}

// HandleAdminGetSettings returns the live reconciliation settings.
func HandleAdminGetSettings(c *fiber.Ctx) error {
	settings := models.GetAppSettings()
	if settings == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Settings not loaded"})
	}
	return c.JSON(settings)
}

// HandleAdminUpdateSettings validates and persists new settings. Values take
// effect on the next worker cycle; worker count changes need a restart.
func HandleAdminUpdateSettings(c *fiber.Ctx) error {
	var settings models.AppSettings
	if err := c.BodyParser(&settings); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed payload"})
	}

	if err := models.SaveSettings(database.GetDB(), &settings); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "unprocessable_entity", "message": err.Error()})
	}
	log.Info("[Admin] Settings updated")
	return c.JSON(fiber.Map{"status": "saved"})
}
