package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"visaconnect-relay/internal/api/middleware"
	"visaconnect-relay/internal/models"
	"visaconnect-relay/internal/services"
	"visaconnect-relay/internal/websocket"
	"visaconnect-relay/pkg/logger"
	"visaconnect-relay/pkg/response"

	"github.com/gin-gonic/gin"
)

// UserNotifier pushes frames to connected users.
type UserNotifier interface {
	SendToUser(userID string, msg *websocket.OutboundMessage) error
}

type ConversationHandler struct {
	conversationService *services.ConversationService
	notifier            UserNotifier
	logger              *logger.Logger
}

func NewConversationHandler(conversationService *services.ConversationService, notifier UserNotifier, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService, notifier: notifier, logger: log}
}

// GetConversations godoc
// @Summary List conversations
// @Description Conversations of the current user, most recent activity first
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.ConversationResponse
// @Failure 401 {object} models.ErrorResponse "Unauthorized - invalid or missing token"
// @Failure 500 {object} models.ErrorResponse "Internal server error"
// @Router /conversations [get]
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	conversations, err := h.conversationService.ListConversations(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conversations)
}

// CreateConversation godoc
// @Summary Start a conversation
// @Description Returns the existing conversation for the same participants, or creates one
// @Tags conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CreateConversationRequest true "Participants other than the caller"
// @Success 200 {object} models.ConversationResponse "Existing conversation"
// @Success 201 {object} models.ConversationResponse "Conversation created"
// @Failure 400 {object} models.ErrorResponse "Bad request - invalid input data"
// @Failure 401 {object} models.ErrorResponse "Unauthorized - invalid or missing token"
// @Router /conversations [post]
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
		return
	}

	conversation, created, err := h.conversationService.CreateConversation(c.Request.Context(), middleware.UserID(c), req.ParticipantIDs)
	if err != nil {
		h.fail(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conversation)
}

// GetMessages godoc
// @Summary Get messages of a conversation
// @Description Paginated history, oldest first within a page
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param limit query int false "Page size"
// @Param before query int false "Cursor (unix milliseconds) from a previous page"
// @Success 200 {object} models.PaginatedMessageResponse
// @Failure 403 {object} models.ErrorResponse "Caller is not a participant"
// @Failure 404 {object} models.ErrorResponse "Conversation not found"
// @Router /conversations/{id}/messages [get]
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	limit := services.DefaultMessagePageSize
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	var before *int64
	if b := c.Query("before"); b != "" {
		parsed, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, "before must be a unix millisecond timestamp")
			return
		}
		before = &parsed
	}

	page, err := h.conversationService.ListMessages(c.Request.Context(), middleware.UserID(c), c.Param("id"), limit, before)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// SendMessage godoc
// @Summary Send a message
// @Description Stores the message and notifies the other participants in real time
// @Tags conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Conversation ID"
// @Param request body models.SendMessageRequest true "Message content"
// @Success 201 {object} models.MessageResponse
// @Failure 400 {object} models.ErrorResponse "Bad request - invalid input data"
// @Failure 403 {object} models.ErrorResponse "Caller is not a participant"
// @Failure 404 {object} models.ErrorResponse "Conversation not found"
// @Failure 429 {object} models.ErrorResponse "Rate limit exceeded"
// @Router /conversations/{id}/messages [post]
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
		return
	}

	message, recipients, err := h.conversationService.SendMessage(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}

	notification := websocket.NewNotificationMessage(message)
	for _, userID := range recipients {
		if err := h.notifier.SendToUser(userID, notification); err != nil && !errors.Is(err, websocket.ErrUserNotConnected) {
			h.logger.Warn("Failed to notify user", "userID", userID, "messageID", message.ID, "error", err)
		}
	}

	c.JSON(http.StatusCreated, message)
}

func (h *ConversationHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		response.Error(c, http.StatusNotFound, response.ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrNotParticipant):
		response.Error(c, http.StatusForbidden, response.ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrInvalidParticipants), errors.Is(err, services.ErrInvalidMessage):
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
	default:
		_ = c.Error(err)
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
		response.Error(c, http.StatusInternalServerError, response.ErrCodeInternal, "")
	}
}
