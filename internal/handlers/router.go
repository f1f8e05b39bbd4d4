package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mossy-p/peer-signaling/config"
	"github.com/mossy-p/peer-signaling/internal/presence"
	"github.com/mossy-p/peer-signaling/internal/relay"
)

// NewRouter wires the HTTP surface of the relay server.
func NewRouter(cfg *config.Config, directory *presence.Directory, r *relay.Relay) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Environment != "production" {
		router.Use(gin.Logger())
	}

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/roster", GetRoster(directory))
		apiGroup.GET("/stats", GetStats(r))
	}

	// WebSocket endpoint: presence and signaling share one connection
	hub := NewHub(directory, r)
	router.GET("/ws", hub.HandleSignaling)

	return router
}
