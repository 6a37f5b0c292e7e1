package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
)

var (
	ErrLinkNotFound  = errors.New("link not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrConflict      = errors.New("unique constraint violation")
	ErrDatabaseError = errors.New("database error")
)

const dbTimeout = 5 * time.Second

// LinkRepository defines the durable operations on short links.
//
// Deleted links are tombstones: Exists keeps reporting their code, every
// other read treats them as absent.
type LinkRepository interface {
	Exists(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, link *model.ShortLink) error
	GetActiveByCode(ctx context.Context, code string) (*model.ShortLink, error)
	GetByCode(ctx context.Context, code string) (*model.ShortLink, error)
	IncrementClicks(ctx context.Context, code string) error
	Update(ctx context.Context, code string, upd model.LinkUpdate) (*model.ShortLink, error)
	SetActive(ctx context.Context, code string, active bool) error
	Delete(ctx context.Context, code string) error
	ListByOwner(ctx context.Context, owner uuid.UUID, page, pageSize int, includeInactive bool) ([]model.ShortLink, int64, error)
	Ping(ctx context.Context) error
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

func offset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}

func cloneLink(l *model.ShortLink) *model.ShortLink {
	cp := *l
	if l.OwnerID != nil {
		id := *l.OwnerID
		cp.OwnerID = &id
	}
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		cp.ExpiresAt = &t
	}
	if l.DeletedAt != nil {
		t := *l.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

func nullOwner(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func ownerPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}
