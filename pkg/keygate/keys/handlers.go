package keys

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/keygate/pkg/keygate/models"
	"github.com/mikepea/keygate/pkg/keygate/store"
	"github.com/rs/zerolog"
)

const (
	// MaxGenerateAttempts bounds regeneration after a key collision
	MaxGenerateAttempts = 5
	// MaxExpireDays caps the expiry an admin can request
	MaxExpireDays = 36500
)

// Options configures key creation
type Options struct {
	KeyLength   int
	GateEnabled bool
}

// Handler handles admin key management requests
type Handler struct {
	keys     store.KeyStore
	opts     Options
	logger   zerolog.Logger
	generate func(length int) (string, error)
	now      func() time.Time
}

// NewHandler creates a new keys handler
func NewHandler(keys store.KeyStore, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		keys:     keys,
		opts:     opts,
		logger:   logger,
		generate: GenerateKey,
		now:      time.Now,
	}
}

// CreateKeyRequest represents a request to create a key
type CreateKeyRequest struct {
	Key        string `json:"key" binding:"omitempty,max=64,printascii"`
	ExpireDays *int   `json:"expire_days" binding:"omitempty,min=1,max=36500"`
	Note       string `json:"note" binding:"max=255"`
}

// KeyResponse represents a key in admin responses
type KeyResponse struct {
	Key         string     `json:"key"`
	HWID        *string    `json:"hwid"`
	Banned      bool       `json:"banned"`
	Unlocked    bool       `json:"unlocked"`
	ExpireAt    *time.Time `json:"expire_at"`
	ActivatedAt *time.Time `json:"activated_at"`
	Note        string     `json:"note"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toResponse(k *models.Key) KeyResponse {
	return KeyResponse{
		Key:         k.ID,
		HWID:        k.HWID,
		Banned:      k.Banned,
		Unlocked:    k.Unlocked,
		ExpireAt:    k.ExpireAt,
		ActivatedAt: k.ActivatedAt,
		Note:        k.Note,
		CreatedAt:   k.CreatedAt,
	}
}

var errKeyTaken = errors.New("key already exists")

// create inserts a new unbound key. An empty id is generated, and regenerated on
// collision; an admin-supplied id that already exists is an error.
func (h *Handler) create(ctx context.Context, id string, expireDays *int, note string) (*models.Key, error) {
	key := &models.Key{
		ID:       id,
		Unlocked: !h.opts.GateEnabled,
		Note:     note,
	}
	if expireDays != nil {
		expireAt := h.now().Add(time.Duration(*expireDays) * 24 * time.Hour)
		key.ExpireAt = &expireAt
	}

	if id != "" {
		if err := h.keys.Insert(ctx, key); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return nil, errKeyTaken
			}
			return nil, err
		}
		return key, nil
	}

	for attempt := 1; attempt <= MaxGenerateAttempts; attempt++ {
		generated, err := h.generate(h.opts.KeyLength)
		if err != nil {
			return nil, err
		}
		key.ID = generated

		err = h.keys.Insert(ctx, key)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
		h.logger.Warn().Int("attempt", attempt).Msg("generated key collided, regenerating")
	}
	return nil, errKeyTaken
}

// Create creates a new key
func (h *Handler) Create(c *gin.Context) {
	var req CreateKeyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	id := strings.TrimSpace(req.Key)
	if strings.Contains(id, " ") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key must not contain spaces"})
		return
	}

	key, err := h.create(c.Request.Context(), id, req.ExpireDays, req.Note)
	if err != nil {
		h.writeCreateError(c, err)
		return
	}

	h.logger.Info().Str("key", key.ID).Msg("key created")
	c.JSON(http.StatusCreated, toResponse(key))
}

// CreateLegacy serves GET /createKey?token=&days= for existing tooling
func (h *Handler) CreateLegacy(c *gin.Context) {
	var expireDays *int
	if raw := c.Query("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 || days > MaxExpireDays {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid days"})
			return
		}
		expireDays = &days
	}

	key, err := h.create(c.Request.Context(), "", expireDays, "")
	if err != nil {
		h.logger.Error().Err(err).Msg("create key")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Cannot create key"})
		return
	}

	h.logger.Info().Str("key", key.ID).Msg("key created")
	c.JSON(http.StatusOK, gin.H{"success": true, "key": key.ID, "expireAt": key.ExpireAt})
}

func (h *Handler) writeCreateError(c *gin.Context, err error) {
	if errors.Is(err, errKeyTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "Key already exists"})
		return
	}
	h.logger.Error().Err(err).Msg("create key")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create key"})
}

// List returns all keys, newest first. ?banned= and ?bound= filter the result.
func (h *Handler) List(c *gin.Context) {
	var filter store.Filter
	for param, target := range map[string]**bool{"banned": &filter.Banned, "bound": &filter.Bound} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param + " filter"})
			return
		}
		*target = &v
	}

	keys, err := h.keys.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("list keys")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch keys"})
		return
	}

	responses := make([]KeyResponse, len(keys))
	for i := range keys {
		responses[i] = toResponse(&keys[i])
	}
	c.JSON(http.StatusOK, responses)
}

// Get returns a single key
func (h *Handler) Get(c *gin.Context) {
	key, err := h.keys.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(key))
}

// Ban marks a key banned
func (h *Handler) Ban(c *gin.Context) {
	h.mutate(c, "banned", func(ctx context.Context, id string) error {
		return h.keys.SetBanned(ctx, id, true)
	})
}

// Unban clears the banned flag
func (h *Handler) Unban(c *gin.Context) {
	h.mutate(c, "unbanned", func(ctx context.Context, id string) error {
		return h.keys.SetBanned(ctx, id, false)
	})
}

// ResetHWID unbinds a key so the next verification binds a new device.
// Banned and expiry are left untouched.
func (h *Handler) ResetHWID(c *gin.Context) {
	h.mutate(c, "hwid reset", func(ctx context.Context, id string) error {
		return h.keys.ResetHWID(ctx, id)
	})
}

// Delete removes a key
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("key")
	if err := h.keys.Delete(c.Request.Context(), id); err != nil {
		h.writeLookupError(c, err)
		return
	}
	h.logger.Info().Str("key", id).Msg("key deleted")
	c.JSON(http.StatusOK, gin.H{"message": "Key deleted"})
}

// mutate applies an admin mutation and returns the updated record. The read-back
// is not atomic with the mutation; a concurrent verify may already have changed it.
func (h *Handler) mutate(c *gin.Context, action string, apply func(ctx context.Context, id string) error) {
	ctx := c.Request.Context()
	id := c.Param("key")

	if err := apply(ctx, id); err != nil {
		h.writeLookupError(c, err)
		return
	}
	h.logger.Info().Str("key", id).Msg("key " + action)

	key, err := h.keys.Get(ctx, id)
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(key))
}

func (h *Handler) writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		return
	}
	h.logger.Error().Err(err).Msg("key store")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
}

// RegisterRoutes registers key management routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/keys", h.Create)
	rg.GET("/keys", h.List)
	rg.GET("/keys/:key", h.Get)
	rg.POST("/keys/:key/ban", h.Ban)
	rg.POST("/keys/:key/unban", h.Unban)
	rg.POST("/keys/:key/reset-hwid", h.ResetHWID)
	rg.DELETE("/keys/:key", h.Delete)
}
