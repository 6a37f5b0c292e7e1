package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	userID := uuid.New()

	tok, err := m.GenerateToken(userID.String(), model.RoleAdmin)
	require.NoError(t, err)

	claims, err := m.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, userID, *claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestGenerateToken_InvalidUserID(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	_, err := m.GenerateToken("not-a-uuid", model.RoleUser)

	assert.Error(t, err)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	tok, err := NewManager("secret-a", time.Hour).GenerateToken(uuid.NewString(), model.RoleUser)
	require.NoError(t, err)

	_, err = NewManager("secret-b", time.Hour).ValidateToken(tok)

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Expired(t *testing.T) {
	m := NewManager("test-secret", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-time.Hour) }

	tok, err := m.GenerateToken(uuid.NewString(), model.RoleUser)
	require.NoError(t, err)

	_, err = m.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_RejectsOtherAlgorithms(t *testing.T) {
	id := uuid.New()
	claims := CustomClaims{UserID: &id, Role: "user"}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewManager("test-secret", time.Hour).ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_UnknownRole(t *testing.T) {
	id := uuid.New()
	claims := CustomClaims{
		UserID:           &id,
		Role:             "superuser",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewManager("test-secret", time.Hour).ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
