package handlers

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"chat-backend/internal/models"
	"chat-backend/internal/services"
	"chat-backend/internal/telemetry"
)

// MessageService is the message API used by MessageHandler.
type MessageService interface {
	Create(ctx context.Context, in services.NewMessage) (models.MessageView, error)
	Delete(ctx context.Context, userID, messageID int) (*models.MessageView, error)
	ListDirect(ctx context.Context, viewerID, otherID int) ([]models.MessageView, error)
	ListGroup(ctx context.Context, viewerID, groupID int) ([]models.MessageView, error)
	ListOlder(ctx context.Context, viewerID, messageID int) ([]models.MessageView, error)
	MarkDirectRead(ctx context.Context, viewerID, otherID int) error
	MarkGroupRead(ctx context.Context, viewerID, groupID int) error
}

// MessageHandler serves the message endpoints.
type MessageHandler struct {
	messages MessageService
	audit    *telemetry.AuditEmitter
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(messages MessageService, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{messages: messages, audit: audit}
}

type messageRequest struct {
	Message    *string `json:"message" binding:"omitempty,max=10000"`
	ReceiverID *int    `json:"receiver_id" binding:"omitempty,gt=0"`
	GroupID    *int    `json:"group_id" binding:"omitempty,gt=0"`
	ReplyToID  *int    `json:"reply_to_id" binding:"omitempty,gt=0"`
}

// Store handles POST /messages. Multipart bodies may carry up to ten attachments.
func (h *MessageHandler) Store(c *gin.Context) {
	var (
		req   messageRequest
		files []*multipart.FileHeader
	)
	if strings.HasPrefix(c.ContentType(), "application/json") {
		if err := c.ShouldBindJSON(&req); err != nil {
			emitAudit(h.audit, c, "ERROR", "invalid request payload")
			bindingFailed(c, err)
			return
		}
	} else {
		parsed, field, err := parseMessageForm(c)
		if err != nil {
			emitAudit(h.audit, c, "ERROR", "invalid request payload")
			validationFailed(c, field, "The "+field+" field must be an integer.")
			return
		}
		if err := binding.Validator.ValidateStruct(&parsed); err != nil {
			emitAudit(h.audit, c, "ERROR", "invalid request payload")
			bindingFailed(c, err)
			return
		}
		req = parsed
		if form, err := c.MultipartForm(); err == nil && form != nil {
			files = append(form.File["attachments[]"], form.File["attachments"]...)
		}
	}

	target, err := models.ParseTarget(req.ReceiverID, req.GroupID)
	if err != nil {
		emitAudit(h.audit, c, "ERROR", "invalid message target")
		respondError(c, err)
		return
	}

	view, err := h.messages.Create(c.Request.Context(), services.NewMessage{
		SenderID:  userIDFromContext(c),
		Target:    target,
		Body:      req.Message,
		ReplyToID: req.ReplyToID,
		Files:     uploadsFrom(files),
	})
	if err != nil {
		emitAudit(h.audit, c, "ERROR", "message rejected")
		respondError(c, err)
		return
	}

	emitAudit(h.audit, c, "INFO", "Message sent")
	c.JSON(http.StatusCreated, view)
}

func parseMessageForm(c *gin.Context) (messageRequest, string, error) {
	var req messageRequest
	if body, ok := c.GetPostForm("message"); ok {
		req.Message = &body
	}
	var err error
	if req.ReceiverID, err = optionalInt(c.PostForm("receiver_id")); err != nil {
		return req, "receiver_id", err
	}
	if req.GroupID, err = optionalInt(c.PostForm("group_id")); err != nil {
		return req, "group_id", err
	}
	if req.ReplyToID, err = optionalInt(c.PostForm("reply_to_id")); err != nil {
		return req, "reply_to_id", err
	}
	return req, "", nil
}

func uploadsFrom(files []*multipart.FileHeader) []services.Upload {
	uploads := make([]services.Upload, 0, len(files))
	for _, fh := range files {
		uploads = append(uploads, services.Upload{
			Name: fh.Filename,
			Mime: fh.Header.Get("Content-Type"),
			Size: fh.Size,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	return uploads
}

// Destroy handles DELETE /messages/:id and returns the thread's new last message.
func (h *MessageHandler) Destroy(c *gin.Context) {
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}

	last, err := h.messages.Delete(c.Request.Context(), userIDFromContext(c), messageID)
	if err != nil {
		emitAudit(h.audit, c, "ERROR", "message delete rejected")
		respondError(c, err)
		return
	}

	emitAudit(h.audit, c, "INFO", "Message deleted")
	c.JSON(http.StatusOK, gin.H{"message": last})
}

// ByUser handles GET /messages/user/:id.
func (h *MessageHandler) ByUser(c *gin.Context) {
	otherID, ok := pathID(c, "id")
	if !ok {
		return
	}
	h.page(c, func(ctx context.Context, viewerID int) ([]models.MessageView, error) {
		return h.messages.ListDirect(ctx, viewerID, otherID)
	})
}

// ByGroup handles GET /messages/group/:id.
func (h *MessageHandler) ByGroup(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	h.page(c, func(ctx context.Context, viewerID int) ([]models.MessageView, error) {
		return h.messages.ListGroup(ctx, viewerID, groupID)
	})
}

// Older handles GET /messages/:id/older.
func (h *MessageHandler) Older(c *gin.Context) {
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}
	h.page(c, func(ctx context.Context, viewerID int) ([]models.MessageView, error) {
		return h.messages.ListOlder(ctx, viewerID, messageID)
	})
}

func (h *MessageHandler) page(c *gin.Context, load func(context.Context, int) ([]models.MessageView, error)) {
	msgs, err := load(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.MessageView{}
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs})
}

// ReadUser handles POST /messages/user/:id/read.
func (h *MessageHandler) ReadUser(c *gin.Context) {
	otherID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.messages.MarkDirectRead(c.Request.Context(), userIDFromContext(c), otherID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReadGroup handles POST /messages/group/:id/read.
func (h *MessageHandler) ReadGroup(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.messages.MarkGroupRead(c.Request.Context(), userIDFromContext(c), groupID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
