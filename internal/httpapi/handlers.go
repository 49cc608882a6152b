package httpapi

import (
	"bufio"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meshchat/meshchat-service/internal/auth"
	"github.com/meshchat/meshchat-service/internal/chatmodel"
	"github.com/meshchat/meshchat-service/internal/logger"
	"github.com/meshchat/meshchat-service/internal/orchestrator"
	"github.com/meshchat/meshchat-service/internal/repository"
	"github.com/meshchat/meshchat-service/internal/sse"
)

type handlers struct {
	chats    *repository.ChatRepository
	messages *repository.MessageRepository
	orch     *orchestrator.Orchestrator
	log      *logger.Logger
}

// requireChatOwnership enforces that the authenticated caller owns
// :chat_id, grounded on original_source's validate_chat_id dependency used
// across every nested message route.
func (h *handlers) requireChatOwnership(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	chatID := c.Param("chat_id")

	owner, err := h.chats.IsOwner(c.Request.Context(), chatID, userID)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "failed to check chat ownership", nil)
		return
	}
	if !owner {
		abortWithError(c, http.StatusNotFound, "chat not found", nil)
		return
	}
	c.Next()
}

type createMessageRequest struct {
	Role    chatmodel.Role `json:"role" binding:"required"`
	Content string         `json:"content" binding:"required"`
}

type createMessageResponse struct {
	StreamID string           `json:"stream_id"`
	Message  *chatmodel.Message `json:"message"`
}

func (h *handlers) createMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	chatID := c.Param("chat_id")
	streamID, msg, err := h.orch.CreateMessage(c.Request.Context(), chatID, req.Role, req.Content)
	if err != nil {
		writeCoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, createMessageResponse{StreamID: streamID, Message: msg})
}

func (h *handlers) listMessages(c *gin.Context) {
	messages, err := h.messages.ListByChat(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "failed to list messages", nil)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *handlers) subscribeStream(c *gin.Context) {
	chatID := c.Param("chat_id")
	streamID := c.Param("stream_id")

	events, err := h.orch.Subscribe(c.Request.Context(), chatID, streamID)
	if err != nil {
		writeCoreError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		abortWithError(c, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	w := bufio.NewWriter(c.Writer)
	for ev := range events {
		if err := sse.Write(w, ev); err != nil {
			h.log.WithContext(c.Request.Context()).Warn("sse write failed", "error", err, "stream_id", streamID)
			return
		}
		flusher.Flush()
	}
}

func (h *handlers) cancelStream(c *gin.Context) {
	chatID := c.Param("chat_id")
	streamID := c.Param("stream_id")

	if err := h.orch.Stop(chatID, streamID); err != nil {
		writeCoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
