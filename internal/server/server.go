package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/cache"
	"canvas-backend/internal/collab"
	"canvas-backend/internal/config"
	"canvas-backend/internal/handler"
	"canvas-backend/internal/storage"
)

// Server wraps the Fiber app with the collaboration hub and all handlers.
type Server struct {
	app           *fiber.App
	cfg           *config.Config
	db            *gorm.DB
	hub           *collab.Hub
	registry      *collab.Registry
	canvasHandler *handler.CanvasHandler
	wsHandler     *handler.CanvasWS
	healthHandler *handler.HealthHandler
	jwtManager    *auth.JWTManager
}

// jwtValidator adapts the JWT manager to the hub's token validator surface.
type jwtValidator struct {
	manager *auth.JWTManager
}

func (v *jwtValidator) Validate(token string) (*collab.Identity, error) {
	claims, err := v.manager.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	return &collab.Identity{
		UserID: claims.UserID,
		Name:   claims.Name,
		Avatar: claims.Avatar,
	}, nil
}

// New builds a server instance with all dependencies wired. cacheClient may
// be nil when Redis is not configured.
func New(cfg *config.Config, db *gorm.DB, cacheClient *cache.RedisClient) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Canvas Collaboration Backend",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // incompatible with in-process rooms
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		BodyLimit:       10 * 1024 * 1024,
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	store := storage.NewCanvasStore(db, cacheClient)
	registry := collab.NewRegistry()
	hub := collab.NewHub(registry, store, &jwtValidator{manager: jwtManager}, cfg.Collab.SaveDebounce, cfg.Collab.SaveMaxDelay)

	return &Server{
		app:           app,
		cfg:           cfg,
		db:            db,
		hub:           hub,
		registry:      registry,
		canvasHandler: handler.NewCanvasHandler(store),
		wsHandler:     handler.NewCanvasWS(hub, cfg.WebSocket.WriteTimeout),
		healthHandler: handler.NewHealthHandler(db, cacheClient, registry, hub),
		jwtManager:    jwtManager,
	}
}

// SetupMiddleware installs the global middleware stack.
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes registers every HTTP and websocket route.
func (s *Server) SetupRoutes() {
	s.app.Get("/health", s.healthHandler.Health)

	apiLimiter := limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	canvasGroup := s.app.Group("/api/canvases", apiLimiter, auth.Middleware(s.jwtManager))
	canvasGroup.Post("/", s.canvasHandler.CreateCanvas)
	canvasGroup.Get("/", s.canvasHandler.ListCanvases)
	canvasGroup.Get("/:id", s.canvasHandler.GetCanvas)
	canvasGroup.Patch("/:id", s.canvasHandler.UpdateCanvas)
	canvasGroup.Delete("/:id", s.canvasHandler.DeleteCanvas)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// Auth happens inside the protocol (join carries the token), not at
	// upgrade time, so reconnecting clients get a typed error frame instead
	// of an opaque handshake failure.
	s.app.Get("/ws/canvas", websocket.New(s.wsHandler.Handle, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start runs the server until SIGINT/SIGTERM, then flushes every dirty room
// and shuts the listener down gracefully.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.hub.FlushAll(ctx); err != nil {
			log.Printf("⚠️ Flush on shutdown: %v", err)
		}

		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Canvas backend starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/canvas", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown stops the server without waiting for a signal. Used by tests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.hub.FlushAll(ctx); err != nil {
		log.Printf("⚠️ Flush on shutdown: %v", err)
	}
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
