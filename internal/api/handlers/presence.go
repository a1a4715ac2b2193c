package handlers

import (
	"context"
	"net/http"
	"strings"

	"visaconnect-relay/pkg/logger"
	"visaconnect-relay/pkg/response"

	"github.com/gin-gonic/gin"
)

// maxPresenceQuery bounds the ids accepted by one presence lookup.
const maxPresenceQuery = 100

// PresenceReader reads the online state recorded by the relay.
type PresenceReader interface {
	IsUserOnline(ctx context.Context, userID string) (bool, error)
	GetOnlineUsers(ctx context.Context) ([]string, error)
}

type PresenceHandler struct {
	presence PresenceReader
	logger   *logger.Logger
}

func NewPresenceHandler(presence PresenceReader, log *logger.Logger) *PresenceHandler {
	return &PresenceHandler{presence: presence, logger: log}
}

type PresenceResponse struct {
	Online []string `json:"online"`
}

// GetPresence godoc
// @Summary Online users
// @Description Users holding an authenticated relay connection, optionally filtered by userIds
// @Tags presence
// @Produce json
// @Security BearerAuth
// @Param userIds query string false "Comma separated user ids"
// @Success 200 {object} PresenceResponse
// @Failure 400 {object} models.ErrorResponse "Too many user ids"
// @Router /presence [get]
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	ctx := c.Request.Context()

	raw := strings.TrimSpace(c.Query("userIds"))
	if raw == "" {
		online, err := h.presence.GetOnlineUsers(ctx)
		if err != nil {
			h.logger.Error("Failed to read online users", "error", err)
			response.Error(c, http.StatusInternalServerError, response.ErrCodeInternal, "")
			return
		}
		if online == nil {
			online = []string{}
		}
		c.JSON(http.StatusOK, PresenceResponse{Online: online})
		return
	}

	ids := strings.Split(raw, ",")
	if len(ids) > maxPresenceQuery {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, "too many user ids")
		return
	}

	online := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		ok, err := h.presence.IsUserOnline(ctx, id)
		if err != nil {
			h.logger.Error("Failed to read presence", "userID", id, "error", err)
			response.Error(c, http.StatusInternalServerError, response.ErrCodeInternal, "")
			return
		}
		if ok {
			online = append(online, id)
		}
	}
	c.JSON(http.StatusOK, PresenceResponse{Online: online})
}
