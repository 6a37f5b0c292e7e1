package repository

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
)

func setupLogger(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// each connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, MigrateSQL(context.Background(), db))
	return db
}

func linkRepositories(t *testing.T) map[string]func() LinkRepository {
	return map[string]func() LinkRepository{
		"memory": func() LinkRepository { return NewMemoryLinkRepository() },
		"sqlite": func() LinkRepository { return NewSQLLinkRepository(openSQLite(t)) },
	}
}

func newLink(code string, owner *uuid.UUID) *model.ShortLink {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.ShortLink{
		Code:         code,
		OriginalURL:  "example.com/" + code,
		Destination:  "https://example.com/" + code,
		RedirectKind: model.DefaultRedirectKind,
		Active:       true,
		OwnerID:      owner,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestLinkRepository_CreateAndGet(t *testing.T) {
	setupLogger(t)
	for name, factory := range linkRepositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := factory()
			ctx := context.Background()
			owner := uuid.New()
			expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)

			link := newLink("abc123", &owner)
			link.ExpiresAt = &expires
			link.RedirectKind = model.RedirectSeeOther
			require.NoError(t, repo.Create(ctx, link))

			got, err := repo.GetActiveByCode(ctx, "abc123")
			require.NoError(t, err)
			assert.Equal(t, "https://example.com/abc123", got.Destination)
			assert.Equal(t, "example.com/abc123", got.OriginalURL)
			assert.Equal(t, model.RedirectSeeOther, got.RedirectKind)
			assert.True(t, got.Active)
			assert.Zero(t, got.ClickCount)
			require.NotNil(t, got.OwnerID)
			assert.Equal(t, owner, *got.OwnerID)
			require.NotNil(t, got.ExpiresAt)
			assert.True(t, expires.Equal(*got.ExpiresAt))
			assert.True(t, link.CreatedAt.Equal(got.CreatedAt))
			assert.Nil(t, got.DeletedAt)
		})
	}
}

func TestLinkRepository_AnonymousLink(t *testing.T) {
	setupLogger(t)
	for name, factory := range linkRepositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := factory()
			ctx := context.Background()

			require.NoError(t, repo.Create(ctx, newLink("anon01", nil)))

			got, err := repo.GetByCode(ctx, "anon01")
			require.NoError(t, err)
			assert.Nil(t, got.OwnerID)
			assert.Nil(t, got.ExpiresAt)
		})
	}
}

func TestLinkRepository_CreateConflict(t *testing.T) {
	setupLogger(t)
	for name, factory := range linkRepositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := factory()
			ctx := context.Background()

			require.NoError(t, repo.Create(ctx, newLink("dup123", nil)))
			err := repo.Create(ctx, newLink("dup123", nil))

			assert.ErrorIs(t, err, ErrConflict)
		})
	}
}

func TestLinkRepository_NotFound(t *testing.T) {
	setupLogger(t)
	for name, factory := range linkRepositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := factory()
			ctx := context.Background()

			_, err := repo.GetByCode(ctx, "nope00")
			assert.ErrorIs(t, err, ErrLinkNotFound)
			_, err = repo.GetActiveByCode(ctx, "nope00")
			assert.ErrorIs(t, err, ErrLinkNotFound)
			assert.ErrorIs(t, repo.IncrementClicks(ctx, "nope00"), ErrLinkNotFound)
			assert.ErrorIs(t, repo.SetActive(ctx, "nope00", false), ErrLinkNotFound)
			assert.ErrorIs(t, repo.Delete(ctx, "nope00"), ErrLinkNotFound)
			_, err = repo.Update(ctx, "nope00", model.LinkUpdate{ClearExpiry: true})
			assert.ErrorIs(t, err, ErrLinkNotFound)

			exists, err := repo.Exists(ctx, "nope00")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestLinkRepository_DisableAndEnable(t *testing.T) {
	setupLogger(t)
	for name, factory := range linkRepositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := factory()
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, newLink("toggle", nil)))

			require.NoError(t, repo.SetActive(ctx, "toggle", false))

			_, err := repo.GetActiveByCode(ctx, "toggle")
			assert.ErrorIs(t, err, ErrLinkNotFound)
			got, err := repo.GetByCode(ctx, "toggle")
			require.NoError(t, err)
			assert.False(t, got.Active)
			exists, err := repo.Exists(ctx, "toggle")
			require.NoError(t, err)
			assert.True(t, exists, "inactive codes stay reserved")

			require.NoError(t, repo.SetActive(ctx, "toggle", true))
			got, err = repo.GetActiveByCode(ctx, "toggle")
			require.NoError(t, err)
			assert.True(t, got.Active)
		})
	}
}

func TestLinkRepository_DeleteIsTombstone(t *testing.T) {
	setupLogger(t)
	for name, factory := range linkRepositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := factory()
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, newLink("gone12", nil)))

			require.NoError(t, repo.Delete(ctx, "gone12"))

			_, err := repo.GetByCode(ctx, "gone12")
			assert.ErrorIs(t, err, ErrLinkNotFound)
			assert.ErrorIs(t, repo.Delete(ctx, "gone12"), ErrLinkNotFound)
			assert.ErrorIs(t, repo.SetActive(ctx, "gone12", true), ErrLinkNotFound)

			exists, err := repo.Exists(ctx, "gone12")
			require.NoError(t, err)
			assert.True(t, exists, "deleted codes are never reused")
			assert.ErrorIs(t, repo.Create(ctx, newLink("gone12", nil)), ErrConflict)
		})
	}
}

func TestLinkRepository_IncrementClicks(t *testing.T) {
	setupLogger(t)
	for name, factory := range linkRepositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := factory()
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, newLink("click1", nil)))

			for i := 0; i < 3; i++ {
				require.NoError(t, repo.IncrementClicks(ctx, "click1"))
			}

			got, err := repo.GetByCode(ctx, "click1")
			require.NoError(t, err)
			assert.Equal(t, int64(3), got.ClickCount)
		})
	}
}

func TestLinkRepository_Update(t *testing.T) {
	setupLogger(t)
	for name, factory := range linkRepositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := factory()
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, newLink("upd123", nil)))

			expires := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Microsecond)
			kind := model.RedirectPermanent
			got, err := repo.Update(ctx, "upd123", model.LinkUpdate{ExpiresAt: &expires, RedirectKind: &kind})
			require.NoError(t, err)
			assert.Equal(t, model.RedirectPermanent, got.RedirectKind)
			require.NotNil(t, got.ExpiresAt)
			assert.True(t, expires.Equal(*got.ExpiresAt))
			assert.Equal(t, "https://example.com/upd123", got.Destination)

			got, err = repo.Update(ctx, "upd123", model.LinkUpdate{ClearExpiry: true})
			require.NoError(t, err)
			assert.Nil(t, got.ExpiresAt)
			assert.Equal(t, model.RedirectPermanent, got.RedirectKind, "unset fields are left alone")
		})
	}
}

func TestLinkRepository_ListByOwner(t *testing.T) {
	setupLogger(t)
	for name, factory := range linkRepositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := factory()
			ctx := context.Background()
			owner := uuid.New()
			other := uuid.New()
			base := time.Now().UTC().Truncate(time.Microsecond)

			for i := 0; i < 5; i++ {
				link := newLink(fmt.Sprintf("own%03d", i), &owner)
				link.CreatedAt = base.Add(time.Duration(i) * time.Second)
				require.NoError(t, repo.Create(ctx, link))
			}
			require.NoError(t, repo.Create(ctx, newLink("other1", &other)))
			require.NoError(t, repo.Create(ctx, newLink("anon99", nil)))
			require.NoError(t, repo.SetActive(ctx, "own001", false))
			require.NoError(t, repo.Delete(ctx, "own002"))

			links, total, err := repo.ListByOwner(ctx, owner, 1, 2, false)
			require.NoError(t, err)
			assert.Equal(t, int64(3), total)
			require.Len(t, links, 2)
			assert.Equal(t, "own004", links[0].Code, "newest first")
			assert.Equal(t, "own003", links[1].Code)

			links, total, err = repo.ListByOwner(ctx, owner, 2, 2, false)
			require.NoError(t, err)
			assert.Equal(t, int64(3), total)
			require.Len(t, links, 1)
			assert.Equal(t, "own000", links[0].Code)

			links, total, err = repo.ListByOwner(ctx, owner, 1, 10, true)
			require.NoError(t, err)
			assert.Equal(t, int64(4), total)
			assert.Len(t, links, 4)

			links, total, err = repo.ListByOwner(ctx, owner, 5, 10, true)
			require.NoError(t, err)
			assert.Equal(t, int64(4), total)
			assert.Empty(t, links)
		})
	}
}

func TestMemoryLinkRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryLinkRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newLink("copy01", nil)))

	got, err := repo.GetByCode(ctx, "copy01")
	require.NoError(t, err)
	got.Destination = "https://evil.example.com/"
	got.Active = false

	again, err := repo.GetActiveByCode(ctx, "copy01")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/copy01", again.Destination)
}

func TestMigrateSQL_Idempotent(t *testing.T) {
	setupLogger(t)
	db := openSQLite(t)

	require.NoError(t, MigrateSQL(context.Background(), db))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}
