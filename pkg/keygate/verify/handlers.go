package verify

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/keygate/pkg/keygate/lifecycle"
	"github.com/rs/zerolog"
)

// MaxFieldLength bounds the key and hwid parameters
const MaxFieldLength = 255

// Handler handles client verification requests
type Handler struct {
	verifier *Verifier
	logger   zerolog.Logger
}

// NewHandler creates a new verification handler
func NewHandler(verifier *Verifier, logger zerolog.Logger) *Handler {
	return &Handler{verifier: verifier, logger: logger}
}

// VerifyRequest is the POST body; GET uses the same names as query parameters
type VerifyRequest struct {
	Key  string `json:"key" form:"key"`
	HWID string `json:"hwid" form:"hwid"`
}

// VerifyResponse is returned for every verification
type VerifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	GateURL string `json:"gateUrl,omitempty"`
}

var outcomeMessages = map[lifecycle.Outcome]string{
	lifecycle.NotFound:     "key not found",
	lifecycle.Banned:       "key banned",
	lifecycle.Expired:      "key expired",
	lifecycle.Activated:    "activated",
	lifecycle.HWIDMismatch: "hwid mismatch",
}

// Verify checks a key and binds the HWID on first use
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	var err error
	if c.Request.Method == http.MethodPost {
		err = c.ShouldBindJSON(&req)
	} else {
		err = c.ShouldBindQuery(&req)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, VerifyResponse{Message: "missing key or hwid"})
		return
	}

	key := strings.TrimSpace(req.Key)
	hwid := strings.TrimSpace(req.HWID)
	if key == "" || hwid == "" {
		c.JSON(http.StatusBadRequest, VerifyResponse{Message: "missing key or hwid"})
		return
	}
	if len(key) > MaxFieldLength || len(hwid) > MaxFieldLength {
		c.JSON(http.StatusBadRequest, VerifyResponse{Message: "invalid key or hwid"})
		return
	}

	result, err := h.verifier.Verify(c.Request.Context(), key, hwid)
	if err != nil {
		h.writeError(c, key, err)
		return
	}

	c.JSON(http.StatusOK, Response(result))
}

// Response maps a verification result to its wire form
func Response(result Result) VerifyResponse {
	resp := VerifyResponse{
		Success: result.Outcome.Success(),
		Message: outcomeMessages[result.Outcome],
	}
	if result.Outcome == lifecycle.NeedsGate {
		resp.GateURL = result.GateURL
	}
	return resp
}

func (h *Handler) writeError(c *gin.Context, key string, err error) {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		h.logger.Warn().Err(err).Str("key", key).Msg("verification could not reach the record store")
		c.JSON(http.StatusServiceUnavailable, VerifyResponse{Message: "server error"})
	case errors.Is(err, lifecycle.ErrInvariantViolation):
		h.logger.Error().Err(err).Str("key", key).Msg("data integrity error")
		c.JSON(http.StatusInternalServerError, VerifyResponse{Message: "server error"})
	default:
		h.logger.Error().Err(err).Str("key", key).Msg("verification failed")
		c.JSON(http.StatusInternalServerError, VerifyResponse{Message: "server error"})
	}
}

// RegisterRoutes registers verification routes
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/verify", h.Verify)
	r.POST("/verify", h.Verify)
}
