package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fonsecaaso/linkpulse/go-server/internal/allocator"
	"github.com/fonsecaaso/linkpulse/go-server/internal/authz"
	"github.com/fonsecaaso/linkpulse/go-server/internal/cache"
	"github.com/fonsecaaso/linkpulse/go-server/internal/events"
	"github.com/fonsecaaso/linkpulse/go-server/internal/metrics"
	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
	"github.com/fonsecaaso/linkpulse/go-server/internal/repository"
	"github.com/fonsecaaso/linkpulse/go-server/internal/urlgate"
)

var (
	ErrUnauthenticated     = errors.New("authentication required")
	ErrForbidden           = errors.New("not allowed to manage this link")
	ErrInvalidAlias        = errors.New("custom alias must be 6 to 11 letters or digits")
	ErrInvalidExpiry       = errors.New("expiry must be in the future")
	ErrInvalidRedirectKind = errors.New("redirect type must be 301, 302 or 303")
	ErrEmptyUpdate         = errors.New("update changes nothing")
)

const (
	MinAliasLength = 6
	MaxAliasLength = 11

	DefaultPageSize = 20
	MaxPageSize     = 100
)

// DestinationGate validates and canonicalizes destinations.
type DestinationGate interface {
	Prepare(ctx context.Context, raw string) (string, error)
}

// CodeClaimer reserves a short code and persists the link under it.
type CodeClaimer interface {
	Claim(ctx context.Context, alias string, create allocator.CreateFunc) (string, error)
}

type CreateInput struct {
	URL          string
	CustomAlias  string
	ExpiresAt    *time.Time
	RedirectKind int
}

// LinkService owns the write path: creation and every mutation of a link,
// keeping the redirect cache consistent with the store.
type LinkService struct {
	gate   DestinationGate
	codes  CodeClaimer
	store  repository.LinkRepository
	cache  *cache.RedirectCache
	events events.Publisher
	tracer trace.Tracer
	now    func() time.Time
	logger *zap.Logger
}

func NewLinkService(
	gate DestinationGate,
	codes CodeClaimer,
	store repository.LinkRepository,
	redirectCache *cache.RedirectCache,
	publisher events.Publisher,
) *LinkService {
	return &LinkService{
		gate:   gate,
		codes:  codes,
		store:  store,
		cache:  redirectCache,
		events: publisher,
		tracer: otel.Tracer("github.com/fonsecaaso/linkpulse/service"),
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.L().With(zap.String("component", "LinkService")),
	}
}

// Create shortens in.URL. Anonymous callers (nil principal) may create links
// that nobody but an admin can manage afterwards.
func (s *LinkService) Create(ctx context.Context, p *authz.Principal, in CreateInput) (*model.ShortLink, error) {
	ctx, span := s.tracer.Start(ctx, "LinkService.Create")
	defer span.End()

	link, err := s.create(ctx, p, in)
	if err != nil {
		metrics.LinkOperationsTotal.WithLabelValues("create", "error").Inc()
		span.RecordError(err)
		return nil, err
	}
	metrics.LinkOperationsTotal.WithLabelValues("create", "success").Inc()
	span.SetAttributes(attribute.String("link.code", link.Code))
	return link, nil
}

func (s *LinkService) create(ctx context.Context, p *authz.Principal, in CreateInput) (*model.ShortLink, error) {
	if p.Authenticated() && !authz.Can(p.Role, authz.CapCreateLink) {
		return nil, ErrForbidden
	}

	original := strings.TrimSpace(in.URL)
	destination, err := s.gate.Prepare(ctx, original)
	if err != nil {
		metrics.DestinationRejectionsTotal.WithLabelValues(rejectionReason(err)).Inc()
		s.logger.Info("Invalid URL provided", zap.String("url", original), zap.Error(err))
		return nil, err
	}

	alias := strings.TrimSpace(in.CustomAlias)
	if alias != "" && !ValidAlias(alias) {
		return nil, ErrInvalidAlias
	}

	now := s.now()
	var expiresAt *time.Time
	if in.ExpiresAt != nil {
		if !in.ExpiresAt.After(now) {
			return nil, ErrInvalidExpiry
		}
		t := in.ExpiresAt.UTC()
		expiresAt = &t
	}

	kind, err := model.ParseRedirectKind(in.RedirectKind)
	if err != nil {
		return nil, ErrInvalidRedirectKind
	}

	link := model.ShortLink{
		OriginalURL:  original,
		Destination:  destination,
		RedirectKind: kind,
		Active:       true,
		OwnerID:      p.Owner(),
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    expiresAt,
	}

	_, err = s.codes.Claim(ctx, alias, func(ctx context.Context, code string) error {
		link.Code = code
		return s.store.Create(ctx, &link)
	})
	if err != nil {
		s.logger.Warn("Failed to allocate short code", zap.String("alias", alias), zap.Error(err))
		return nil, err
	}

	s.logger.Info("URL shortened successfully",
		zap.String("code", link.Code),
		zap.String("destination", link.Destination),
	)
	s.events.Publish(events.New(events.URLCreated, link.Code, link.OwnerID, map[string]any{
		"original_url": link.OriginalURL,
	}))
	return &link, nil
}

// Get returns a link, active or not, to its owner or an admin.
func (s *LinkService) Get(ctx context.Context, p *authz.Principal, code string) (*model.ShortLink, error) {
	return s.load(ctx, p, code)
}

func (s *LinkService) Update(ctx context.Context, p *authz.Principal, code string, upd model.LinkUpdate) (*model.ShortLink, error) {
	ctx, span := s.tracer.Start(ctx, "LinkService.Update", trace.WithAttributes(attribute.String("link.code", code)))
	defer span.End()

	if upd.Empty() {
		return nil, ErrEmptyUpdate
	}
	if upd.RedirectKind != nil && !upd.RedirectKind.Valid() {
		return nil, ErrInvalidRedirectKind
	}
	if !upd.ClearExpiry && upd.ExpiresAt != nil && !upd.ExpiresAt.After(s.now()) {
		return nil, ErrInvalidExpiry
	}

	current, err := s.load(ctx, p, code)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Update(ctx, code, upd)
	if err != nil {
		metrics.LinkOperationsTotal.WithLabelValues("update", "error").Inc()
		return nil, err
	}
	s.invalidate(ctx, code)

	changes := map[string]any{}
	if upd.RedirectKind != nil {
		changes["redirect_type"] = int(*upd.RedirectKind)
	}
	if upd.ClearExpiry {
		changes["expires_at"] = nil
	} else if upd.ExpiresAt != nil {
		changes["expires_at"] = upd.ExpiresAt.UTC().Format(time.RFC3339)
	}
	s.events.Publish(events.New(events.URLUpdated, code, current.OwnerID, withActor(p, map[string]any{"changes": changes})))

	metrics.LinkOperationsTotal.WithLabelValues("update", "success").Inc()
	s.logger.Info("Link updated", zap.String("code", code))
	return updated, nil
}

// Disable stops code from resolving without releasing it.
func (s *LinkService) Disable(ctx context.Context, p *authz.Principal, code string) error {
	return s.setActive(ctx, p, code, false)
}

func (s *LinkService) Enable(ctx context.Context, p *authz.Principal, code string) error {
	return s.setActive(ctx, p, code, true)
}

func (s *LinkService) setActive(ctx context.Context, p *authz.Principal, code string, active bool) error {
	op, eventType, status := "disable", events.URLDisabled, "inactive"
	if active {
		op, eventType, status = "enable", events.URLEnabled, "active"
	}

	ctx, span := s.tracer.Start(ctx, "LinkService."+op, trace.WithAttributes(attribute.String("link.code", code)))
	defer span.End()

	link, err := s.load(ctx, p, code)
	if err != nil {
		return err
	}
	if err := s.store.SetActive(ctx, code, active); err != nil {
		metrics.LinkOperationsTotal.WithLabelValues(op, "error").Inc()
		return err
	}
	s.invalidate(ctx, code)

	s.events.Publish(events.New(eventType, code, link.OwnerID, withActor(p, map[string]any{"new_status": status})))
	metrics.LinkOperationsTotal.WithLabelValues(op, "success").Inc()
	s.logger.Info("Link status changed", zap.String("code", code), zap.String("status", status))
	return nil
}

// Delete tombstones the link. Its code is never handed out again.
func (s *LinkService) Delete(ctx context.Context, p *authz.Principal, code string) error {
	ctx, span := s.tracer.Start(ctx, "LinkService.Delete", trace.WithAttributes(attribute.String("link.code", code)))
	defer span.End()

	link, err := s.load(ctx, p, code)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, code); err != nil {
		metrics.LinkOperationsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}
	s.invalidate(ctx, code)

	s.events.Publish(events.New(events.URLDeleted, code, link.OwnerID, withActor(p, map[string]any{})))
	metrics.LinkOperationsTotal.WithLabelValues("delete", "success").Inc()
	s.logger.Info("Link deleted", zap.String("code", code))
	return nil
}

type LinkPage struct {
	Items    []model.ShortLink
	Total    int64
	Page     int
	PageSize int
}

// ListMine pages through the caller's own links, newest first.
func (s *LinkService) ListMine(ctx context.Context, p *authz.Principal, page, pageSize int, includeInactive bool) (*LinkPage, error) {
	if !p.Authenticated() {
		return nil, ErrUnauthenticated
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	items, total, err := s.store.ListByOwner(ctx, p.UserID, page, pageSize, includeInactive)
	if err != nil {
		return nil, err
	}
	return &LinkPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *LinkService) load(ctx context.Context, p *authz.Principal, code string) (*model.ShortLink, error) {
	if !p.Authenticated() {
		return nil, ErrUnauthenticated
	}
	link, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !p.CanManage(link) {
		s.logger.Warn("Forbidden link access",
			zap.String("code", code),
			zap.String("user_id", p.UserID.String()),
		)
		return nil, ErrForbidden
	}
	return link, nil
}

// invalidate evicts code after a committed mutation. A failure leaves the
// entry to age out within the cache TTL.
func (s *LinkService) invalidate(ctx context.Context, code string) {
	if err := s.cache.Invalidate(ctx, code); err != nil {
		s.logger.Error("Failed to invalidate cached link", zap.String("code", code), zap.Error(err))
	}
}

// ValidAlias reports whether alias satisfies the short code format.
func ValidAlias(alias string) bool {
	return len(alias) >= MinAliasLength && len(alias) <= MaxAliasLength &&
		allocator.ValidPathSegment(alias) && allocator.IsBase62(alias)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, urlgate.ErrEmptyInput):
		return "empty"
	case errors.Is(err, urlgate.ErrUnresolvableHost):
		return "unresolvable"
	case errors.Is(err, urlgate.ErrDisallowedAddress):
		return "disallowed_address"
	default:
		return "malformed"
	}
}

// withActor records who performed a mutation. The event's user id stays the
// link owner, which differs from the actor when an admin steps in.
func withActor(p *authz.Principal, payload map[string]any) map[string]any {
	if actor := p.Owner(); actor != nil {
		payload["actor_id"] = actor.String()
	}
	return payload
}
