package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"reminder-engine/internal/service"
)

// Triggerer runs one evaluation inline.
type Triggerer interface {
	Trigger(ctx context.Context) (service.TickReport, error)
}

// TriggerHandler handles manual re-evaluation requests
type TriggerHandler struct {
	runner Triggerer
	log    zerolog.Logger
}

func NewTriggerHandler(runner Triggerer, log zerolog.Logger) *TriggerHandler {
	return &TriggerHandler{runner: runner, log: log}
}

// Trigger evaluates every rule now and reports the outcome.
// POST /trigger
func (h *TriggerHandler) Trigger(c *fiber.Ctx) error {
	report, err := h.runner.Trigger(c.UserContext())
	if err != nil {
		h.log.Error().Err(err).Msg("manual evaluation failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success":   false,
			"error":     err.Error(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}

	summary := make(map[string]int, len(report.Results))
	for status, n := range report.Summary() {
		summary[string(status)] = n
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"timestamp": report.FinishedAt.Format(time.RFC3339),
		"rules":     len(report.Results),
		"summary":   summary,
	})
}
