package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-backend/internal/models"
	"chat-backend/internal/services"
	"chat-backend/internal/telemetry"
)

// GroupService is the group API used by GroupHandler.
type GroupService interface {
	Create(ctx context.Context, ownerID int, in services.GroupInput) (models.GroupDetails, error)
	ListForUser(ctx context.Context, userID int) ([]models.GroupSummary, error)
	Update(ctx context.Context, actorID, groupID int, in services.GroupInput) (models.GroupDetails, error)
	Delete(ctx context.Context, actorID, groupID int) error
}

// GroupHandler manages group-related endpoints.
type GroupHandler struct {
	groups GroupService
	audit  *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(groups GroupService, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{groups: groups, audit: audit}
}

type groupRequest struct {
	Name        *string `json:"name" binding:"required,notblank,max=255"`
	Description *string `json:"description"`
	UserIDs     []int   `json:"user_ids" binding:"required,min=1,dive,gt=0"`
}

// groupUpdateRequest leaves absent fields unchanged; a name that is sent must not be blank.
type groupUpdateRequest struct {
	Name        *string `json:"name" binding:"omitempty,notblank,max=255"`
	Description *string `json:"description"`
}

// CreateGroup handles POST /groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(h.audit, c, "ERROR", "invalid request payload")
		bindingFailed(c, err)
		return
	}

	group, err := h.groups.Create(c.Request.Context(), userIDFromContext(c), services.GroupInput{
		Name:        req.Name,
		Description: req.Description,
		UserIDs:     req.UserIDs,
	})
	if err != nil {
		emitAudit(h.audit, c, "ERROR", "group create rejected")
		respondError(c, err)
		return
	}

	emitAudit(h.audit, c, "INFO", "Group created")
	c.JSON(http.StatusCreated, group)
}

// ListGroups returns groups the caller belongs to.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.groups.ListForUser(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if groups == nil {
		groups = []models.GroupSummary{}
	}
	c.JSON(http.StatusOK, groups)
}

// UpdateGroup handles PUT /groups/:id.
func (h *GroupHandler) UpdateGroup(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req groupUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(h.audit, c, "ERROR", "invalid request payload")
		bindingFailed(c, err)
		return
	}

	group, err := h.groups.Update(c.Request.Context(), userIDFromContext(c), groupID, services.GroupInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		emitAudit(h.audit, c, "ERROR", "group update rejected")
		respondError(c, err)
		return
	}

	emitAudit(h.audit, c, "INFO", "Group updated")
	c.JSON(http.StatusOK, group)
}

// DeleteGroup handles DELETE /groups/:id.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	groupID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.groups.Delete(c.Request.Context(), userIDFromContext(c), groupID); err != nil {
		emitAudit(h.audit, c, "ERROR", "group delete rejected")
		respondError(c, err)
		return
	}

	emitAudit(h.audit, c, "INFO", "Group deleted")
	c.Status(http.StatusNoContent)
}
