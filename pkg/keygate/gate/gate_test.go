package gate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/keygate/pkg/keygate/database"
	"github.com/mikepea/keygate/pkg/keygate/models"
	"github.com/mikepea/keygate/pkg/keygate/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBaseURL  = "https://keys.example.com"
	testProvider = "https://gate.example.net/wall?id=42"
)

func setupTestStore(t *testing.T) store.KeyStore {
	db, err := database.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return store.NewKeyStore(db)
}

func setupTestRouter(keys store.KeyStore, tokens *Tokens) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(keys, tokens, testProvider, zerolog.Nop()).RegisterRoutes(r.Group("/gate"))
	return r
}

func TestTokens(t *testing.T) {
	tokens := NewTokens("secret", time.Minute, testBaseURL)

	token, err := tokens.Issue("KEY1")
	require.NoError(t, err)

	keyID, err := tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "KEY1", keyID)

	t.Run("forged", func(t *testing.T) {
		forged, err := NewTokens("other", time.Minute, testBaseURL).Issue("KEY1")
		require.NoError(t, err)
		_, err = tokens.Validate(forged)
		assert.ErrorIs(t, err, ErrInvalidGateToken)
	})

	t.Run("expired", func(t *testing.T) {
		old, err := NewTokens("secret", -time.Minute, testBaseURL).Issue("KEY1")
		require.NoError(t, err)
		_, err = tokens.Validate(old)
		assert.ErrorIs(t, err, ErrInvalidGateToken)
	})

	t.Run("audiences do not mix", func(t *testing.T) {
		_, err := tokens.ValidateCallback(token)
		assert.ErrorIs(t, err, ErrInvalidGateToken)

		callbackToken, err := tokens.IssueCallback("KEY1")
		require.NoError(t, err)
		_, err = tokens.Validate(callbackToken)
		assert.ErrorIs(t, err, ErrInvalidGateToken)
		keyID, err := tokens.ValidateCallback(callbackToken)
		require.NoError(t, err)
		assert.Equal(t, "KEY1", keyID)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tokens.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidGateToken)
		_, err = tokens.Validate("")
		assert.ErrorIs(t, err, ErrInvalidGateToken)
	})
}

func TestTokensURL(t *testing.T) {
	tokens := NewTokens("secret", time.Minute, testBaseURL)

	link, err := tokens.URL("KEY1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, testBaseURL+"/gate/start?token="))

	u, err := url.Parse(link)
	require.NoError(t, err)
	keyID, err := tokens.Validate(u.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, "KEY1", keyID)
}

func TestStartRedirectsToProvider(t *testing.T) {
	keys := setupTestStore(t)
	tokens := NewTokens("secret", time.Minute, testBaseURL)
	router := setupTestRouter(keys, tokens)
	require.NoError(t, keys.Insert(context.Background(), &models.Key{ID: "KEY1"}))

	token, _ := tokens.Issue("KEY1")
	req := httptest.NewRequest("GET", "/gate/start?token="+url.QueryEscape(token), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "gate.example.net", location.Host)
	assert.Equal(t, "42", location.Query().Get("id"))

	callback, err := url.Parse(location.Query().Get("callback"))
	require.NoError(t, err)
	assert.Equal(t, "/gate/callback", callback.Path)
	callbackToken := callback.Query().Get("token")
	assert.NotEqual(t, token, callbackToken)
	keyID, err := tokens.ValidateCallback(callbackToken)
	require.NoError(t, err)
	assert.Equal(t, "KEY1", keyID)
}

func TestStartRejectsBadToken(t *testing.T) {
	keys := setupTestStore(t)
	router := setupTestRouter(keys, NewTokens("secret", time.Minute, testBaseURL))

	req := httptest.NewRequest("GET", "/gate/start?token=bogus", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartUnknownKey(t *testing.T) {
	keys := setupTestStore(t)
	tokens := NewTokens("secret", time.Minute, testBaseURL)
	router := setupTestRouter(keys, tokens)

	token, _ := tokens.Issue("DELETED")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/gate/start?token="+url.QueryEscape(token), nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
}

func TestCallbackUnlocksOnlyNamedKey(t *testing.T) {
	keys := setupTestStore(t)
	tokens := NewTokens("secret", time.Minute, testBaseURL)
	router := setupTestRouter(keys, tokens)
	ctx := context.Background()

	require.NoError(t, keys.Insert(ctx, &models.Key{ID: "PENDING1"}))
	require.NoError(t, keys.Insert(ctx, &models.Key{ID: "PENDING2"}))

	token, _ := tokens.IssueCallback("PENDING2")
	req := httptest.NewRequest("GET", "/gate/callback?token="+url.QueryEscape(token), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"success":true,"message":"unlocked"}`, w.Body.String())

	first, _ := keys.Get(ctx, "PENDING1")
	second, _ := keys.Get(ctx, "PENDING2")
	assert.False(t, first.Unlocked)
	assert.True(t, second.Unlocked)

	// Replaying the callback keeps the key unlocked
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/gate/callback?token="+url.QueryEscape(token), nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCallbackErrors(t *testing.T) {
	keys := setupTestStore(t)
	tokens := NewTokens("secret", time.Minute, testBaseURL)
	router := setupTestRouter(keys, tokens)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/gate/callback", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	token, _ := tokens.IssueCallback("DELETED")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/gate/callback?token="+url.QueryEscape(token), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCallbackRejectsStartToken(t *testing.T) {
	keys := setupTestStore(t)
	tokens := NewTokens("secret", time.Minute, testBaseURL)
	router := setupTestRouter(keys, tokens)
	ctx := context.Background()
	require.NoError(t, keys.Insert(ctx, &models.Key{ID: "LOCKED"}))

	// The token from a client's own gate link must not unlock the key
	link, err := tokens.URL("LOCKED")
	require.NoError(t, err)
	u, _ := url.Parse(link)
	startToken := u.Query().Get("token")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/gate/callback?token="+url.QueryEscape(startToken), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	key, _ := keys.Get(ctx, "LOCKED")
	assert.False(t, key.Unlocked)
}
