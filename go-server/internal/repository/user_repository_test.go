package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
)

func TestUserRepository(t *testing.T) {
	setupLogger(t)
	repos := map[string]func() UserRepository{
		"memory": NewMemoryUserRepository,
		"sqlite": func() UserRepository { return NewSQLUserRepository(openSQLite(t)) },
	}

	for name, factory := range repos {
		t.Run(name, func(t *testing.T) {
			repo := factory()
			ctx := context.Background()

			user := &model.User{Username: "ana", Email: "ana@example.com", PasswordHash: "hash", Role: model.RoleAdmin}
			require.NoError(t, repo.Create(ctx, user))
			_, err := uuid.Parse(user.ID)
			assert.NoError(t, err)
			assert.False(t, user.CreatedAt.IsZero())

			got, err := repo.GetByEmail(ctx, "ana@example.com")
			require.NoError(t, err)
			assert.Equal(t, user.ID, got.ID)
			assert.Equal(t, "ana", got.Username)
			assert.Equal(t, "hash", got.PasswordHash)
			assert.Equal(t, model.RoleAdmin, got.Role)

			err = repo.Create(ctx, &model.User{Username: "other", Email: "ana@example.com", PasswordHash: "x", Role: model.RoleUser})
			assert.ErrorIs(t, err, ErrConflict)

			_, err = repo.GetByEmail(ctx, "missing@example.com")
			assert.ErrorIs(t, err, ErrUserNotFound)
		})
	}
}
