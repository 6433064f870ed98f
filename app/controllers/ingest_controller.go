package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/kassaflow/kassaflow/app/models"
	"github.com/kassaflow/kassaflow/app/repository"
	"github.com/kassaflow/kassaflow/internal/pkg/env"
	"github.com/kassaflow/kassaflow/internal/pkg/ingest"
	"github.com/kassaflow/kassaflow/internal/pkg/normalizer"
)

func getIngestService() *ingest.Service {
	return ingest.NewService(repository.GetGlobalFactory().GetEventRepository())
}

func getNormalizer() *normalizer.Normalizer {
	table := normalizer.DefaultSynonyms()
	if settings := models.GetAppSettings(); settings != nil {
		if raw := settings.GetStatusSynonymsJSON(); raw != "" {
			if merged, err := table.MergeOverridesJSON(raw); err == nil {
				table = merged
			}
		}
	}
	return normalizer.New(table)
}

// webhookSecretFor resolves the per-provider webhook secret, e.g.
// WEBHOOK_SECRET_CLOUDPAY, falling back to the shared WEBHOOK_SECRET.
func webhookSecretFor(provider string) string {
	key := "WEBHOOK_SECRET_" + strings.ToUpper(provider)
	if secret := env.GetEnv(key, ""); secret != "" {
		return secret
	}
	return env.GetEnv("WEBHOOK_SECRET", "")
}

// HandleProviderWebhook accepts one payment event from a provider webhook.
// The raw body is stored verbatim; acceptance only means "staged", not
// "applied". Re-deliveries return 200 so providers stop retrying.
func HandleProviderWebhook(c *fiber.Ctx) error {
	provider := strings.ToLower(strings.TrimSpace(c.Params("provider")))
	if provider == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing provider"})
	}

	body := c.Body()
	secret := webhookSecretFor(provider)
	signature := c.Get("X-Signature")
	if !ingest.VerifyWebhookSignature(body, signature, secret) {
		log.Warnf("[Ingest] Rejected webhook for %s: bad signature", provider)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid signature"})
	}

	var input ingest.EventInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed payload"})
	}
	input.Provider = provider

	stored, created, err := getIngestService().IngestEvent(input, models.EventSourceWebhook, string(body))
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "unprocessable_entity", "message": err.Error()})
	}

	status := fiber.StatusAccepted
	if !created {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"event_id":  stored.ID,
		"duplicate": !created,
	})
}

// HandleImportEvents stages a bulk statement upload. Partial acceptance is
// normal: every row is reported as accepted, duplicate or rejected.
func HandleImportEvents(c *fiber.Ctx) error {
	var payload struct {
		Events []ingest.EventInput `json:"events"`
	}
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed payload"})
	}
	if len(payload.Events) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "No events in payload"})
	}

	result, err := getIngestService().ImportBatch(payload.Events)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Import failed"})
	}
	return c.JSON(result)
}

// HandleCreateOverride records a manual status correction and requeues the
// affected event.
func HandleCreateOverride(c *fiber.Ctx) error {
	var input ingest.OverrideInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed payload"})
	}

	err := getIngestService().ApplyOverride(input, getNormalizer())
	if err != nil {
		if errors.Is(err, ingest.ErrAlreadyApplied) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": err.Error()})
		}
		var unrecognized *normalizer.UnrecognizedError
		if errors.As(err, &unrecognized) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "unprocessable_entity", "message": err.Error()})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "recorded"})
}
