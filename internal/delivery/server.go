package delivery

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"livechat-server/internal/config"
	"livechat-server/internal/infrastructure/kafka"
	"livechat-server/internal/infrastructure/redis"
	"livechat-server/internal/presence"
	"livechat-server/internal/router"
	"livechat-server/internal/store"
)

type Server struct {
	config   *config.Config
	hub      *Hub
	router   *router.Router
	store    store.Store
	registry *presence.Registry
	producer *kafka.Producer
	redis    *redis.Client
	nodeID   string
}

// NewServer wires the transport around the router. producer and redisClient
// may be nil to run a single node without Kafka or Redis.
func NewServer(cfg *config.Config, st store.Store, registry *presence.Registry, rt *router.Router, hub *Hub, producer *kafka.Producer, redisClient *redis.Client) *Server {
	return &Server{
		config:   cfg,
		hub:      hub,
		router:   rt,
		store:    st,
		registry: registry,
		producer: producer,
		redis:    redisClient,
		nodeID:   uuid.New().String(),
	}
}

// NodeID identifies this process in relayed events.
func (s *Server) NodeID() string {
	return s.nodeID
}

func (s *Server) Start() error {
	app := fiber.New(fiber.Config{
		AppName: "LiveChat Routing Server",
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))

	corsConfig := cors.Config{
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With",
		AllowCredentials: s.config.AllowCredentials,
		MaxAge:           86400,
	}
	if s.config.IsProduction() {
		corsConfig.AllowOrigins = s.config.GetCORSOrigins()
	} else {
		corsConfig.AllowOrigins = "*"
		corsConfig.AllowCredentials = false
	}
	app.Use(cors.New(corsConfig))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"node_id":     s.nodeID,
			"environment": s.config.Environment,
			"connections": s.hub.ConnectionCount(),
		})
	})

	api := app.Group("/api")
	api.Post("/conversations/history", s.handleConversationHistory)
	api.Get("/conversations/messages/:conversation_id", s.handleConversationMessages)
	api.Get("/admins/online", s.handleOnlineAdmins)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.HandleConnection))

	log.Printf("LiveChat routing server starting on port %s (node %s)", s.config.Port, s.nodeID)
	return app.Listen(":" + s.config.Port)
}
