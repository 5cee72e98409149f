package gate

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/keygate/pkg/keygate/store"
	"github.com/rs/zerolog"
)

// Handler serves the gate redirect and callback
type Handler struct {
	keys        store.KeyStore
	tokens      *Tokens
	providerURL string
	logger      zerolog.Logger
}

// NewHandler creates a new gate handler
func NewHandler(keys store.KeyStore, tokens *Tokens, providerURL string, logger zerolog.Logger) *Handler {
	return &Handler{keys: keys, tokens: tokens, providerURL: providerURL, logger: logger}
}

// Start validates the start token and redirects to the gate provider, passing a
// callback URL with a fresh callback token so the provider can return the user.
func (h *Handler) Start(c *gin.Context) {
	token := c.Query("token")
	keyID, err := h.tokens.Validate(token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid gate token"})
		return
	}

	// Don't send the user through the provider for a key that was deleted meanwhile
	exists, err := h.keys.Exists(c.Request.Context(), keyID)
	if err != nil {
		h.logger.Warn().Err(err).Str("key", keyID).Msg("gate start could not reach the record store")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "server error"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "key not found"})
		return
	}

	target, err := url.Parse(h.providerURL)
	if err != nil {
		h.logger.Error().Err(err).Str("provider_url", h.providerURL).Msg("bad gate provider url")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "server error"})
		return
	}
	callbackToken, err := h.tokens.IssueCallback(keyID)
	if err != nil {
		h.logger.Error().Err(err).Str("key", keyID).Msg("sign gate callback token")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "server error"})
		return
	}

	q := target.Query()
	q.Set("callback", h.tokens.CallbackURL(callbackToken))
	target.RawQuery = q.Encode()

	c.Redirect(http.StatusFound, target.String())
}

// Callback marks the key named by the callback token as unlocked
func (h *Handler) Callback(c *gin.Context) {
	keyID, err := h.tokens.ValidateCallback(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid gate token"})
		return
	}

	if err := h.keys.MarkUnlocked(c.Request.Context(), keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "key not found"})
			return
		}
		h.logger.Error().Err(err).Str("key", keyID).Msg("unlock key")
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "server error"})
		return
	}

	h.logger.Info().Str("key", keyID).Msg("key unlocked")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "unlocked"})
}

// RegisterRoutes registers gate routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/start", h.Start)
	rg.GET("/callback", h.Callback)
}
