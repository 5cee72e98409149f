package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/keygate/pkg/keygate/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Handler handles admin authentication requests
type Handler struct {
	db       *gorm.DB
	sessions *Sessions
	guard    *Guard
	logger   zerolog.Logger
}

// NewHandler creates a new auth handler
func NewHandler(db *gorm.DB, sessions *Sessions, guard *Guard, logger zerolog.Logger) *Handler {
	return &Handler{db: db, sessions: sessions, guard: guard, logger: logger}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string        `json:"token"`
	Admin AdminResponse `json:"admin"`
}

// AdminResponse represents admin user data in responses
type AdminResponse struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Login authenticates an admin and starts a session
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var admin models.AdminUser
	if err := h.db.Where("email = ?", req.Email).First(&admin).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.logger.Error().Err(err).Msg("load admin user")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if !CheckPassword(req.Password, admin.PasswordHash) {
		h.logger.Warn().Str("email", req.Email).Msg("failed admin login")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := h.sessions.GenerateToken(admin.ID, admin.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookie, token, int(h.sessions.TTL().Seconds()), "/", "", c.Request.TLS != nil, true)

	c.JSON(http.StatusOK, AuthResponse{
		Token: token,
		Admin: AdminResponse{ID: admin.ID, Email: admin.Email, Name: admin.Name},
	})
}

// Logout clears the session cookie. Bearer tokens stay valid until they expire.
func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(SessionCookie, "", -1, "/", "", c.Request.TLS != nil, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Me returns the current admin
func (h *Handler) Me(c *gin.Context) {
	adminID, ok := GetAdminID(c)
	if !ok {
		// Static admin token: there is no user record behind it
		c.JSON(http.StatusOK, gin.H{"auth_method": GetAuthMethod(c)})
		return
	}

	var admin models.AdminUser
	if err := h.db.First(&admin, adminID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Admin not found"})
		return
	}

	c.JSON(http.StatusOK, AdminResponse{ID: admin.ID, Email: admin.Email, Name: admin.Name})
}

// RegisterRoutes registers auth routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/login", h.Login)
	rg.POST("/logout", h.Logout)
	rg.GET("/me", h.guard.RequireAdmin(), h.Me)
}

// EnsureAdminExists creates the default admin user if none exists.
// It reports whether a user was created.
func EnsureAdminExists(db *gorm.DB, email, password string) (bool, error) {
	var count int64
	if err := db.Model(&models.AdminUser{}).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return false, err
	}

	admin := models.AdminUser{
		Email:        email,
		Name:         "Admin",
		PasswordHash: hashedPassword,
	}
	if err := db.Create(&admin).Error; err != nil {
		return false, err
	}
	return true, nil
}
