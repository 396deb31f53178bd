package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/collabdocs/internal/config"
	"github.com/gogotex/collabdocs/internal/models"
	"github.com/gogotex/collabdocs/internal/sessions"
	"github.com/gogotex/collabdocs/internal/tokens"
	"github.com/gogotex/collabdocs/internal/users"
	"github.com/gogotex/collabdocs/pkg/logger"
	"github.com/gogotex/collabdocs/pkg/middleware"
)

// RegisterRequest creates an account.
type RegisterRequest struct {
	Name                 string `json:"name" binding:"required,max=255"`
	Email                string `json:"email" binding:"required,email,max=255"`
	Password             string `json:"password" binding:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" binding:"omitempty,eqfield=Password"`
}

// LoginRequest authenticates with email and password.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg         *config.Config
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
}

func NewAuthHandler(cfg *config.Config, u *users.Service, s *sessions.Service) *AuthHandler {
	return &AuthHandler{cfg: cfg, usersSvc: u, sessionsSvc: s}
}

// Register mounts the account routes on rg; requireAuth guards the routes
// that act on the caller.
func (h *AuthHandler) Register(rg gin.IRouter, requireAuth gin.HandlerFunc) {
	h.RegisterPublic(rg)
	h.RegisterProtected(rg.Group("", requireAuth))
}

// RegisterPublic mounts register and login.
func (h *AuthHandler) RegisterPublic(rg gin.IRouter) {
	rg.POST("/register", h.SignUp)
	rg.POST("/login", h.Login)
}

// RegisterProtected mounts logout and user on a group that already
// authenticates.
func (h *AuthHandler) RegisterProtected(rg gin.IRouter) {
	rg.POST("/logout", h.Logout)
	rg.GET("/user", h.User)
}

// SignUp creates the account and returns it with a fresh token.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "message": err.Error()})
		return
	}
	u, err := h.usersSvc.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrEmailTaken), errors.Is(err, users.ErrInvalidInput):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "message": err.Error()})
		default:
			logger.Errorf("register %s: %v", req.Email, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}
	h.respondWithToken(c, http.StatusCreated, u)
}

// Login exchanges credentials for a token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "message": err.Error()})
		return
	}
	u, err := h.usersSvc.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		logger.Errorf("login %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	h.respondWithToken(c, http.StatusOK, u)
}

func (h *AuthHandler) respondWithToken(c *gin.Context, status int, u *models.User) {
	token, err := tokens.Issue(c.Request.Context(), h.cfg, h.sessionsSvc, u)
	if err != nil {
		logger.Errorf("issue token for %s: %v", u.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create access token"})
		return
	}
	c.JSON(status, gin.H{"user": u, "token": token})
}

// Logout revokes every token of the caller, not only the one presented.
func (h *AuthHandler) Logout(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated."})
		return
	}
	n, err := h.sessionsSvc.RevokeAll(c.Request.Context(), id.ID)
	if err != nil {
		logger.Errorf("logout %s: %v", id.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove sessions"})
		return
	}
	logger.Debugf("logout %s: revoked %d tokens", id.ID, n)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// User returns the stored account of the caller, or the token identity for
// callers authenticated by an external provider.
func (h *AuthHandler) User(c *gin.Context) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated."})
		return
	}
	u, err := h.usersSvc.Get(c.Request.Context(), id.ID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusOK, id)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return
	}
	c.JSON(http.StatusOK, u)
}
