package handler

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"canvas-backend/internal/cache"
	"canvas-backend/internal/collab"
	"canvas-backend/internal/database"
)

type HealthHandler struct {
	db       *gorm.DB
	cache    *cache.RedisClient
	registry *collab.Registry
	hub      *collab.Hub
}

func NewHealthHandler(db *gorm.DB, cacheClient *cache.RedisClient, registry *collab.Registry, hub *collab.Hub) *HealthHandler {
	return &HealthHandler{db: db, cache: cacheClient, registry: registry, hub: hub}
}

// Health reports process liveness plus dependency status and room counters.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	status := fiber.StatusOK
	dbStatus := "ok"
	if err := database.Ping(h.db); err != nil {
		dbStatus = "down"
		status = fiber.StatusServiceUnavailable
	}

	redisStatus := "disabled"
	if h.cache != nil {
		redisStatus = "ok"
		if err := h.cache.Health(c.Context()); err != nil {
			redisStatus = "down"
		}
	}

	return c.Status(status).JSON(fiber.Map{
		"status":     dbStatus,
		"database":   dbStatus,
		"redis":      redisStatus,
		"rooms":      h.registry.RoomCount(),
		"dirtyRooms": h.hub.DirtyRooms(),
	})
}
