package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fonsecaaso/linkpulse/go-server/internal/events"
	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
	"github.com/fonsecaaso/linkpulse/go-server/internal/repository"
	"github.com/fonsecaaso/linkpulse/go-server/internal/token"
)

func setupAuthService(t *testing.T) (AuthService, *token.Manager, *capturePublisher) {
	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)

	tokens := token.NewManager("test-secret", time.Hour)
	publisher := &capturePublisher{}
	return NewAuthService(repository.NewMemoryUserRepository(), tokens, publisher), tokens, publisher
}

func TestRegisterAndLogin(t *testing.T) {
	svc, tokens, publisher := setupAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "  Alice@Example.com ", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, model.RoleUser, user.Role)
	assert.NotEqual(t, "correct-horse", user.PasswordHash)

	tokenString, err := svc.Login(ctx, "ALICE@example.com", "correct-horse")
	require.NoError(t, err)

	claims, err := tokens.ValidateToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID.String())
	assert.Equal(t, "user", claims.Role)

	assert.Equal(t, []events.Type{events.UserRegistered, events.UserLoggedIn}, publisher.types())
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _, _ := setupAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@example.com", "correct-horse")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice2", "ALICE@example.com", "another-pass")
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
}

func TestRegister_InvalidInput(t *testing.T) {
	svc, _, _ := setupAuthService(t)

	testCases := []struct {
		name, username, email, password string
	}{
		{"missing username", "", "a@example.com", "correct-horse"},
		{"bad email", "alice", "alice", "correct-horse"},
		{"short password", "alice", "a@example.com", "short"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.username, tc.email, tc.password)
			assert.ErrorIs(t, err, ErrInvalidAccount)
		})
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc, _, _ := setupAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "alice@example.com", "correct-horse")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
