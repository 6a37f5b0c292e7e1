package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RedirectKind is the HTTP status used when redirecting to a link's destination.
type RedirectKind int

const (
	RedirectPermanent RedirectKind = 301
	RedirectFound     RedirectKind = 302
	RedirectSeeOther  RedirectKind = 303

	DefaultRedirectKind = RedirectFound
)

// Valid reports whether k is one of the supported redirect statuses.
func (k RedirectKind) Valid() bool {
	switch k {
	case RedirectPermanent, RedirectFound, RedirectSeeOther:
		return true
	default:
		return false
	}
}

// ParseRedirectKind converts a status code into a RedirectKind.
// Zero maps to the default kind.
func ParseRedirectKind(status int) (RedirectKind, error) {
	if status == 0 {
		return DefaultRedirectKind, nil
	}
	k := RedirectKind(status)
	if !k.Valid() {
		return 0, fmt.Errorf("unsupported redirect kind %d", status)
	}
	return k, nil
}

// ShortLink is the durable record mapping a short code to its destination.
type ShortLink struct {
	Code         string       `json:"short_code"`
	OriginalURL  string       `json:"original_url"`
	Destination  string       `json:"destination"`
	RedirectKind RedirectKind `json:"redirect_type"`
	Active       bool         `json:"active"`
	ClickCount   int64        `json:"click_count"`
	OwnerID      *uuid.UUID   `json:"owner_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	DeletedAt    *time.Time   `json:"-"`
}

// IsExpired reports whether the link is logically expired at now.
func (l *ShortLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// Resolvable reports whether the link may currently be redirected to.
func (l *ShortLink) Resolvable(now time.Time) bool {
	return l.Active && l.DeletedAt == nil && !l.IsExpired(now)
}

// OwnedBy reports whether userID owns the link. Anonymous links have no owner.
func (l *ShortLink) OwnedBy(userID uuid.UUID) bool {
	return l.OwnerID != nil && *l.OwnerID == userID
}

// LinkUpdate holds the mutable fields of a link. Code and destination are
// immutable once assigned.
type LinkUpdate struct {
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	ClearExpiry  bool          `json:"clear_expiry,omitempty"`
	RedirectKind *RedirectKind `json:"redirect_type,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u LinkUpdate) Empty() bool {
	return u.ExpiresAt == nil && !u.ClearExpiry && u.RedirectKind == nil
}

// Apply returns a copy of link with the update applied.
func (u LinkUpdate) Apply(link ShortLink, now time.Time) ShortLink {
	if u.ClearExpiry {
		link.ExpiresAt = nil
	} else if u.ExpiresAt != nil {
		t := u.ExpiresAt.UTC()
		link.ExpiresAt = &t
	}
	if u.RedirectKind != nil {
		link.RedirectKind = *u.RedirectKind
	}
	link.UpdatedAt = now
	return link
}
