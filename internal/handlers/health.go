package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// CacheSizer reports how many dedup keys are held.
type CacheSizer interface {
	Len(ctx context.Context) (int, error)
}

// ChannelStatus reports which delivery channels are configured.
type ChannelStatus interface {
	PushAvailable() bool
	ChatAvailable() bool
}

// HealthHandler handles liveness probes
type HealthHandler struct {
	cache    CacheSizer
	channels ChannelStatus
	log      zerolog.Logger
}

func NewHealthHandler(cache CacheSizer, channels ChannelStatus, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{cache: cache, channels: channels, log: log}
}

// Handle responds with the dedup cache size and channel availability.
// GET /health
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	size, err := h.cache.Len(c.UserContext())
	if err != nil {
		h.log.Warn().Err(err).Msg("count dedup cache")
		size = -1
	}
	return c.JSON(fiber.Map{
		"status":           "healthy",
		"dedup_cache_size": size,
		"push_available":   h.channels.PushAvailable(),
		"chat_available":   h.channels.ChatAvailable(),
		"timestamp":        time.Now().Format(time.RFC3339),
	})
}
