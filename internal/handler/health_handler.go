package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/studyhub-companion/internal/config"
	"github.com/noah-isme/studyhub-companion/internal/utils"
)

// RealtimeStatus reports whether the live connection is up.
type RealtimeStatus interface {
	Connected() bool
}

// StoragePinger checks the local database, e.g. *sql.DB.
type StoragePinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Backend     string    `json:"backend"`
	Realtime    bool      `json:"realtime"`
	Storage     string    `json:"storage"`
}

// HealthCheck reports process health. A failing local store marks the process
// degraded with 503; a dropped realtime connection does not, since it reconnects
// on its own.
func HealthCheck(cfg config.Config, realtime RealtimeStatus, storage StoragePinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Backend:     cfg.APIOrigin,
			Storage:     "unchecked",
		}
		if realtime != nil {
			payload.Realtime = realtime.Connected()
		}

		if storage != nil {
			ctx, cancel := context.WithTimeout(withRequestContext(c), 2*time.Second)
			defer cancel()
			if err := storage.PingContext(ctx); err != nil {
				payload.Status = "degraded"
				payload.Storage = "unavailable"
				return c.Status(fiber.StatusServiceUnavailable).JSON(utils.APIResponse{
					Success: false,
					Data:    payload,
					Message: "local storage unavailable",
				})
			}
			payload.Storage = "ok"
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
