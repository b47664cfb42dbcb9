package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/studyhub-companion/internal/config"
	"github.com/noah-isme/studyhub-companion/internal/handler"
	"github.com/noah-isme/studyhub-companion/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SessionHandler      *handler.SessionHandler
	NotificationHandler *handler.NotificationHandler
	ChatHandler         *handler.ChatHandler
	BlobHandler         *handler.BlobHandler
	GroupHandler        *handler.GroupHandler
	DiscussionHandler   *handler.DiscussionHandler
	ResourceHandler     *handler.ResourceHandler
	MeetingHandler      *handler.MeetingHandler
	PreferenceHandler   *handler.PreferenceHandler
	Realtime            handler.RealtimeStatus
	Storage             handler.StoragePinger
	SessionMiddleware   fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Realtime, deps.Storage))
	api.Get("/metrics", observability.MetricsHandler())

	if deps.SessionHandler != nil {
		deps.SessionHandler.Register(api.Group("/session"))
	}

	// Everything below needs a signed-in user; a nil guard is a no-op.
	sessionMiddleware := deps.SessionMiddleware
	if sessionMiddleware == nil {
		sessionMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(api.Group("/notifications", sessionMiddleware))
	}
	if deps.ChatHandler != nil {
		deps.ChatHandler.Register(api.Group("/chat", sessionMiddleware))
	}
	if deps.BlobHandler != nil {
		deps.BlobHandler.Register(api.Group("/blobs", sessionMiddleware))
	}
	if deps.GroupHandler != nil {
		deps.GroupHandler.Register(api.Group("/groups", sessionMiddleware))
	}
	if deps.DiscussionHandler != nil {
		deps.DiscussionHandler.Register(api.Group("/discussions", sessionMiddleware))
	}
	if deps.ResourceHandler != nil {
		deps.ResourceHandler.Register(api.Group("/resources", sessionMiddleware))
	}
	if deps.MeetingHandler != nil {
		deps.MeetingHandler.RegisterAvailability(api.Group("/availability", sessionMiddleware))
		deps.MeetingHandler.RegisterMeetings(api.Group("/meetings", sessionMiddleware))
	}
	if deps.PreferenceHandler != nil {
		deps.PreferenceHandler.Register(api.Group("/preferences", sessionMiddleware))
	}
}
