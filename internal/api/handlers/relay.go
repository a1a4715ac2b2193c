package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RelayStats exposes relay counters.
type RelayStats interface {
	ClientCount() int
	ListenerCount() int
}

// TopicCounter reports how many data topics are watched upstream.
type TopicCounter interface {
	TopicCount() int
}

type RelayHandler struct {
	stats  RelayStats
	topics TopicCounter
}

func NewRelayHandler(stats RelayStats, topics TopicCounter) *RelayHandler {
	return &RelayHandler{stats: stats, topics: topics}
}

type RelayStatsResponse struct {
	Clients   int `json:"clients"`
	Listeners int `json:"listeners"`
	Topics    int `json:"topics"`
}

// GetStats godoc
// @Summary Relay statistics
// @Description Connected clients, active listeners and watched topics
// @Tags relay
// @Produce json
// @Security BearerAuth
// @Success 200 {object} RelayStatsResponse
// @Router /relay/stats [get]
func (h *RelayHandler) GetStats(c *gin.Context) {
	resp := RelayStatsResponse{
		Clients:   h.stats.ClientCount(),
		Listeners: h.stats.ListenerCount(),
	}
	if h.topics != nil {
		resp.Topics = h.topics.TopicCount()
	}
	c.JSON(http.StatusOK, resp)
}
