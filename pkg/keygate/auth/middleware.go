package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAdminID is the key for the admin user ID in gin context
	ContextKeyAdminID = "admin_id"
	// ContextKeyEmail is the key for the admin email in gin context
	ContextKeyEmail = "email"
	// ContextKeyAuthMethod records how the caller authenticated
	ContextKeyAuthMethod = "auth_method"

	// SessionCookie carries the session JWT for browser logins
	SessionCookie = "keygate_session"
	// AdminTokenHeader carries the static admin token
	AdminTokenHeader = "X-Admin-Token"

	AuthMethodSession = "session"
	AuthMethodToken   = "token"
)

// Guard is the single admin capability check
type Guard struct {
	sessions   *Sessions
	adminToken string
}

// NewGuard creates a guard. An empty adminToken disables static-token access.
func NewGuard(sessions *Sessions, adminToken string) *Guard {
	return &Guard{sessions: sessions, adminToken: adminToken}
}

// RequireAdmin accepts, in order: a Bearer session token, the session cookie,
// or the static admin token from the X-Admin-Token header.
func (g *Guard) RequireAdmin() gin.HandlerFunc {
	return g.require(false)
}

// RequireAdminOrQueryToken is RequireAdmin that also takes the static admin token
// from the token query param. Only the legacy /createKey URL uses it.
func (g *Guard) RequireAdminOrQueryToken() gin.HandlerFunc {
	return g.require(true)
}

func (g *Guard) require(allowQueryToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid authorization header format"})
				c.Abort()
				return
			}
			g.authenticateSession(c, parts[1])
			return
		}

		if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
			g.authenticateSession(c, cookie)
			return
		}

		token := c.GetHeader(AdminTokenHeader)
		if token == "" && allowQueryToken {
			token = c.Query("token")
		}
		if token != "" {
			if !g.checkAdminToken(token) {
				c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "Unauthorized"})
				c.Abort()
				return
			}
			c.Set(ContextKeyAuthMethod, AuthMethodToken)
			c.Next()
			return
		}

		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authentication required"})
		c.Abort()
	}
}

func (g *Guard) authenticateSession(c *gin.Context, tokenString string) {
	claims, err := g.sessions.ValidateToken(tokenString)
	if err != nil {
		if err == ErrExpiredToken {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Token has expired"})
		} else {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid token"})
		}
		c.Abort()
		return
	}

	c.Set(ContextKeyAdminID, claims.AdminID)
	c.Set(ContextKeyEmail, claims.Email)
	c.Set(ContextKeyAuthMethod, AuthMethodSession)
	c.Next()
}

func (g *Guard) checkAdminToken(token string) bool {
	if g.adminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.adminToken)) == 1
}

// GetAdminID returns the admin user ID from the gin context.
// Static-token callers have no admin ID.
func GetAdminID(c *gin.Context) (uint, bool) {
	adminID, exists := c.Get(ContextKeyAdminID)
	if !exists {
		return 0, false
	}
	return adminID.(uint), true
}

// GetAuthMethod returns how the caller authenticated
func GetAuthMethod(c *gin.Context) string {
	return c.GetString(ContextKeyAuthMethod)
}
