package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-backend/internal/models"
)

const conversationLimit = 50

// ConversationLister builds the sidebar of a user.
type ConversationLister interface {
	List(ctx context.Context, userID int) ([]models.ConversationEntry, error)
}

// ConversationHandler serves GET /conversations.
type ConversationHandler struct {
	conversations ConversationLister
}

func NewConversationHandler(conversations ConversationLister) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// Index returns the caller's users and groups, most recent activity first.
func (h *ConversationHandler) Index(c *gin.Context) {
	entries, err := h.conversations.List(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []models.ConversationEntry{}
	}
	if len(entries) > conversationLimit {
		entries = entries[:conversationLimit]
	}
	c.JSON(http.StatusOK, entries)
}
