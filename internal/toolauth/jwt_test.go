package toolauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJWTServiceIssueVerify(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	token, err := service.Issue("conv-1", "session-1", "tc-1")
	require.NoError(t, err)

	claims, err := service.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "conv-1", claims.ConversationID)
	require.Equal(t, "session-1", claims.SessionID)
	require.Equal(t, "tc-1", claims.ToolCallID)
}

func TestJWTServiceVerifyRejectsExpiredToken(t *testing.T) {
	service := NewJWTService("secret", -time.Hour)
	token, err := service.Issue("conv-1", "session-1", "tc-1")
	require.NoError(t, err)

	_, err = service.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTServiceVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTService("secret-a", time.Hour)
	token, err := issuer.Issue("conv-1", "session-1", "tc-1")
	require.NoError(t, err)

	verifier := NewJWTService("secret-b", time.Hour)
	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTServiceIssueRequiresConversationID(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	_, err := service.Issue("", "session-1", "tc-1")
	require.Error(t, err)
}
