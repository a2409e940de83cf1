package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-backend/internal/models"
	"chat-backend/internal/services"
	"chat-backend/internal/telemetry"
)

// AccountService is the authentication and profile API used by AccountHandler.
type AccountService interface {
	Register(ctx context.Context, in services.Registration) (services.Session, error)
	Login(ctx context.Context, email, password string) (services.Session, error)
	Logout(ctx context.Context, tokenID string) error
	Profile(ctx context.Context, userID int) (models.UserView, error)
	UpdateProfile(ctx context.Context, userID int, name, email string) (models.UserView, error)
	RegisterPushToken(ctx context.Context, userID int, token string) error
	UpdateAvatar(ctx context.Context, userID int, upload services.Upload) (models.UserView, error)
	ListUsers(ctx context.Context, userID int) ([]models.UserView, error)
}

// AccountHandler serves registration, sessions and the caller's profile.
type AccountHandler struct {
	accounts AccountService
	audit    *telemetry.AuditEmitter
}

func NewAccountHandler(accounts AccountService, audit *telemetry.AuditEmitter) *AccountHandler {
	return &AccountHandler{accounts: accounts, audit: audit}
}

// Register handles POST /register.
func (h *AccountHandler) Register(c *gin.Context) {
	var req struct {
		Name                 string `json:"name" form:"name" binding:"required,notblank,max=255"`
		Email                string `json:"email" form:"email" binding:"required,email,max=255"`
		Password             string `json:"password" form:"password" binding:"required,min=8"`
		PasswordConfirmation string `json:"password_confirmation" form:"password_confirmation" binding:"required,eqfield=Password"`
	}
	if err := c.ShouldBind(&req); err != nil {
		bindingFailed(c, err)
		return
	}

	session, err := h.accounts.Register(c.Request.Context(), services.Registration{
		Name:                 req.Name,
		Email:                req.Email,
		Password:             req.Password,
		PasswordConfirmation: req.PasswordConfirmation,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Set("userID", session.User.ID)
	emitAudit(h.audit, c, "INFO", "User registered")
	c.JSON(http.StatusCreated, session)
}

// Login handles POST /login.
func (h *AccountHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" form:"email" binding:"required,email"`
		Password string `json:"password" form:"password" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		bindingFailed(c, err)
		return
	}

	session, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		emitAudit(h.audit, c, "ERROR", "login failed")
		respondError(c, err)
		return
	}

	c.Set("userID", session.User.ID)
	emitAudit(h.audit, c, "INFO", "User logged in")
	c.JSON(http.StatusOK, session)
}

// Logout revokes the token used for this request.
func (h *AccountHandler) Logout(c *gin.Context) {
	if err := h.accounts.Logout(c.Request.Context(), c.GetString("tokenID")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Show handles GET /user.
func (h *AccountHandler) Show(c *gin.Context) {
	user, err := h.accounts.Profile(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Update handles PUT /user.
func (h *AccountHandler) Update(c *gin.Context) {
	var req struct {
		Name  string `json:"name" form:"name" binding:"required,notblank,max=255"`
		Email string `json:"email" form:"email" binding:"required,email,max=255"`
	}
	if err := c.ShouldBind(&req); err != nil {
		bindingFailed(c, err)
		return
	}

	user, err := h.accounts.UpdateProfile(c.Request.Context(), userIDFromContext(c), req.Name, req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// PushToken handles POST /user/fcm-token. Expo and FCM tokens are both accepted.
func (h *AccountHandler) PushToken(c *gin.Context) {
	var req struct {
		Token string `json:"fcm_token" form:"fcm_token" binding:"required,notblank"`
	}
	if err := c.ShouldBind(&req); err != nil {
		bindingFailed(c, err)
		return
	}

	if err := h.accounts.RegisterPushToken(c.Request.Context(), userIDFromContext(c), req.Token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Token updated"})
}

// Avatar handles POST /user/avatar.
func (h *AccountHandler) Avatar(c *gin.Context) {
	fh, err := c.FormFile("avatar")
	if err != nil {
		validationFailed(c, "avatar", "The avatar field is required.")
		return
	}

	user, err := h.accounts.UpdateAvatar(c.Request.Context(), userIDFromContext(c), services.Upload{
		Name: fh.Filename,
		Mime: fh.Header.Get("Content-Type"),
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Users handles GET /users.
func (h *AccountHandler) Users(c *gin.Context) {
	users, err := h.accounts.ListUsers(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if users == nil {
		users = []models.UserView{}
	}
	c.JSON(http.StatusOK, users)
}
