// Package gate bridges the external unlock gate. Each gate link carries a signed
// start token naming exactly one key. Start swaps it for a callback token that is
// only handed to the provider, and the callback unlocks only that key.
package gate

import (
	"errors"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidGateToken = errors.New("invalid gate token")

const (
	tokenIssuer = "keygate"
	// startAudience tokens are handed to clients in gate links
	startAudience = "gate"
	// callbackAudience tokens are minted by Start and only travel through the provider
	callbackAudience = "gate-callback"
)

// Tokens signs and validates gate tokens
type Tokens struct {
	secret  []byte
	ttl     time.Duration
	baseURL string
}

// NewTokens creates a gate token manager. baseURL is where /gate routes are served.
func NewTokens(secret string, ttl time.Duration, baseURL string) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, baseURL: baseURL}
}

// Issue signs a start token for keyID
func (t *Tokens) Issue(keyID string) (string, error) {
	return t.issue(keyID, startAudience)
}

// Validate returns the key id a start token was issued for
func (t *Tokens) Validate(token string) (string, error) {
	return t.validate(token, startAudience)
}

// IssueCallback signs a callback token for keyID
func (t *Tokens) IssueCallback(keyID string) (string, error) {
	return t.issue(keyID, callbackAudience)
}

// ValidateCallback returns the key id a callback token was issued for.
// Start tokens are rejected.
func (t *Tokens) ValidateCallback(token string) (string, error) {
	return t.validate(token, callbackAudience)
}

// URL returns the gate link handed to a client whose key is still locked
func (t *Tokens) URL(keyID string) (string, error) {
	token, err := t.Issue(keyID)
	if err != nil {
		return "", err
	}
	return t.baseURL + "/gate/start?token=" + url.QueryEscape(token), nil
}

// CallbackURL is where the gate provider sends the user once the gate is done.
// token must be a callback token.
func (t *Tokens) CallbackURL(token string) string {
	return t.baseURL + "/gate/callback?token=" + url.QueryEscape(token)
}

func (t *Tokens) issue(keyID, audience string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   keyID,
		Issuer:    tokenIssuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *Tokens) validate(token, audience string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidGateToken
		}
		return t.secret, nil
	}, jwt.WithAudience(audience), jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidGateToken
	}
	return claims.Subject, nil
}
