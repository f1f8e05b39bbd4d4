package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/peer-signaling/internal/models"
	"github.com/mossy-p/peer-signaling/internal/presence"
	"github.com/mossy-p/peer-signaling/internal/relay"
)

// RosterResponse is the body of GET /api/roster.
type RosterResponse struct {
	Users     []models.RosterEntry `json:"users"`
	Connected int                  `json:"connected"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Delivered uint64 `json:"delivered"`
	NotFound  uint64 `json:"notFound"`
	Busy      uint64 `json:"busy"`
}

// GetRoster returns the current roster (public)
func GetRoster(directory *presence.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, RosterResponse{
			Users:     directory.Roster().Entries(),
			Connected: directory.Connected(),
		})
	}
}

// GetStats returns the relay routing counters (public)
func GetStats(r *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := r.Stats()
		c.JSON(http.StatusOK, StatsResponse{
			Delivered: s.Delivered,
			NotFound:  s.NotFound,
			Busy:      s.Busy,
		})
	}
}
