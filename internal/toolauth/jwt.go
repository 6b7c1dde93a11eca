package toolauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by Verify when the bearer token is malformed,
// expired, or signed with an unexpected algorithm.
var ErrInvalidToken = errors.New("toolauth: invalid token")

// CallbackClaims identifies the conversation and pending auth challenge a
// bearer token authorizes a caller to resolve via /auth/submit (spec §6.3).
// The HTTP boundary (C9) issues and verifies these; the engine never sees
// them.
type CallbackClaims struct {
	ConversationID string `json:"conversationId"`
	SessionID      string `json:"sessionId"`
	ToolCallID     string `json:"toolCallId"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies callback bearer tokens with HS256.
type JWTService struct {
	secret []byte
	expiry time.Duration
}

// NewJWTService builds a JWT helper with the given secret and token expiry.
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), expiry: expiry}
}

// Issue signs a CallbackClaims token scoping a bearer to one pending
// auth challenge.
func (s *JWTService) Issue(conversationID, sessionID, toolCallID string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("toolauth: jwt secret not configured")
	}
	if strings.TrimSpace(conversationID) == "" {
		return "", errors.New("toolauth: conversationId required")
	}
	claims := CallbackClaims{
		ConversationID: conversationID,
		SessionID:      sessionID,
		ToolCallID:     toolCallID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a callback bearer token.
func (s *JWTService) Verify(token string) (*CallbackClaims, error) {
	if len(s.secret) == 0 {
		return nil, errors.New("toolauth: jwt secret not configured")
	}
	parsed, err := jwt.ParseWithClaims(token, &CallbackClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*CallbackClaims)
	if !ok || !parsed.Valid || claims.ConversationID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
