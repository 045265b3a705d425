package server

import (
	"fmt"
	"log"
	"strconv"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"

	"collab-editing-be/internal/config"
	ws "collab-editing-be/internal/websocket"
)

// Server is the standalone relay: a room-addressed websocket fan-out that
// peers can use instead of a Redis or NATS broker they cannot reach.
type Server struct {
	app *fiber.App
	cfg *config.Config
	hub *ws.Hub
}

func New(cfg *config.Config, hub *ws.Hub) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024, // full sync-state frames can be large
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Relay.CorsAllowedOrigins,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, OPTIONS",
	}))

	// OpenTelemetry tracing middleware (traces all HTTP requests)
	app.Use(otelfiber.Middleware())

	registerRoutes(app, cfg, hub)

	return &Server{app: app, cfg: cfg, hub: hub}
}

func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	log.Printf("✅ Relay is running on http://localhost:%s", s.cfg.Relay.Port)
	return s.app.Listen(":" + s.cfg.Relay.Port)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func registerRoutes(app *fiber.App, cfg *config.Config, hub *ws.Hub) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/stats", func(c *fiber.Ctx) error {
		rooms := hub.Rooms()
		counts := make(map[string]int, len(rooms))
		for _, id := range rooms {
			counts[id] = hub.RoomCount(id)
		}
		return c.JSON(fiber.Map{"rooms": counts})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if !fiberws.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if err := checkToken(cfg, c.Query("token")); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		clientID, err := strconv.Atoi(c.Query("client"))
		if err != nil || clientID <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "client query parameter required")
		}
		c.Locals("client_id", clientID)
		return c.Next()
	})

	app.Get("/ws/:room", fiberws.New(func(c *fiberws.Conn) {
		roomID := c.Params("room")
		clientID, _ := c.Locals("client_id").(int)
		ws.ServeWs(hub, c, roomID, clientID)
	}))
}

// checkToken validates the handshake JWT when a secret is configured.
// Without a secret the relay is open, which fits local development.
func checkToken(cfg *config.Config, token string) error {
	if cfg.Relay.JWTSecret == "" {
		return nil
	}
	if token == "" {
		return fmt.Errorf("missing token")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(cfg.Relay.JWTSecret), nil
	})
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}
