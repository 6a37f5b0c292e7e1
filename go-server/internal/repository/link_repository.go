package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fonsecaaso/linkpulse/go-server/internal/metrics"
	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
)

const pgUniqueViolation = "23505"

const linkColumns = `code, original_url, destination, redirect_kind, active, click_count,
	owner_id, created_at, updated_at, expires_at, deleted_at`

// PostgresLinkRepository implements LinkRepository using PostgreSQL
type PostgresLinkRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLinkRepository creates a new PostgresLinkRepository
func NewPostgresLinkRepository(db *pgxpool.Pool) *PostgresLinkRepository {
	return &PostgresLinkRepository{
		db:     db,
		logger: zap.L().With(zap.String("component", "PostgresLinkRepository")),
	}
}

func (r *PostgresLinkRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return r.db.Ping(ctx)
}

// Exists checks whether a code is reserved by any link, deleted ones included
func (r *PostgresLinkRepository) Exists(ctx context.Context, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("exists", time.Now())

	var exists bool
	err := r.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM links WHERE code = $1)", code).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to check code existence", zap.Error(err), zap.String("code", code))
		return false, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return exists, nil
}

// Create inserts a new link. A duplicate code yields ErrConflict.
func (r *PostgresLinkRepository) Create(ctx context.Context, link *model.ShortLink) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("insert", time.Now())

	_, err := r.db.Exec(ctx,
		`INSERT INTO links (code, original_url, destination, redirect_kind, active, click_count,
			owner_id, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		link.Code, link.OriginalURL, link.Destination, int(link.RedirectKind), link.Active, link.ClickCount,
		nullOwner(link.OwnerID), link.CreatedAt, link.UpdatedAt, link.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			r.logger.Debug("Code already taken", zap.String("code", link.Code))
			return ErrConflict
		}
		r.logger.Error("Failed to insert link", zap.Error(err), zap.String("code", link.Code))
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	r.logger.Info("Link created", zap.String("code", link.Code))
	return nil
}

// GetActiveByCode returns a link that is active and not deleted. Expiry is
// left to the caller.
func (r *PostgresLinkRepository) GetActiveByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	return r.getOne(ctx, "get_active",
		"SELECT "+linkColumns+" FROM links WHERE code = $1 AND active AND deleted_at IS NULL", code)
}

// GetByCode returns a link whether active or not, unless deleted
func (r *PostgresLinkRepository) GetByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	return r.getOne(ctx, "get",
		"SELECT "+linkColumns+" FROM links WHERE code = $1 AND deleted_at IS NULL", code)
}

func (r *PostgresLinkRepository) getOne(ctx context.Context, queryType, query, code string) (*model.ShortLink, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery(queryType, time.Now())

	link, err := scanLink(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Link not found", zap.String("code", code))
			return nil, ErrLinkNotFound
		}
		r.logger.Error("Database query error", zap.Error(err), zap.String("code", code))
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return link, nil
}

// IncrementClicks atomically adds one to the click counter
func (r *PostgresLinkRepository) IncrementClicks(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("increment_clicks", time.Now())

	tag, err := r.db.Exec(ctx,
		"UPDATE links SET click_count = click_count + 1 WHERE code = $1 AND deleted_at IS NULL", code)
	if err != nil {
		r.logger.Error("Failed to increment clicks", zap.Error(err), zap.String("code", code))
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *PostgresLinkRepository) Update(ctx context.Context, code string, upd model.LinkUpdate) (*model.ShortLink, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("update", time.Now())

	var kind *int
	if upd.RedirectKind != nil {
		k := int(*upd.RedirectKind)
		kind = &k
	}

	link, err := scanLink(r.db.QueryRow(ctx,
		`UPDATE links SET
			expires_at = CASE WHEN $2 THEN NULL ELSE COALESCE($3, expires_at) END,
			redirect_kind = COALESCE($4, redirect_kind),
			updated_at = $5
		WHERE code = $1 AND deleted_at IS NULL
		RETURNING `+linkColumns,
		code, upd.ClearExpiry, upd.ExpiresAt, kind, time.Now().UTC(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		r.logger.Error("Failed to update link", zap.Error(err), zap.String("code", code))
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return link, nil
}

func (r *PostgresLinkRepository) SetActive(ctx context.Context, code string, active bool) error {
	return r.execOne(ctx, "set_active",
		"UPDATE links SET active = $2, updated_at = $3 WHERE code = $1 AND deleted_at IS NULL",
		code, active, time.Now().UTC())
}

// Delete tombstones the link; the code stays reserved
func (r *PostgresLinkRepository) Delete(ctx context.Context, code string) error {
	now := time.Now().UTC()
	return r.execOne(ctx, "delete",
		"UPDATE links SET active = FALSE, deleted_at = $2, updated_at = $2 WHERE code = $1 AND deleted_at IS NULL",
		code, now)
}

func (r *PostgresLinkRepository) execOne(ctx context.Context, queryType, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery(queryType, time.Now())

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error("Database exec error", zap.Error(err), zap.String("query_type", queryType))
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *PostgresLinkRepository) ListByOwner(ctx context.Context, owner uuid.UUID, page, pageSize int, includeInactive bool) ([]model.ShortLink, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("list_by_owner", time.Now())

	filter := "owner_id = $1 AND deleted_at IS NULL AND ($2 OR active)"

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM links WHERE "+filter, owner, includeInactive).Scan(&total); err != nil {
		r.logger.Error("Failed to count links", zap.Error(err), zap.String("owner_id", owner.String()))
		return nil, 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	rows, err := r.db.Query(ctx,
		"SELECT "+linkColumns+" FROM links WHERE "+filter+" ORDER BY created_at DESC, code LIMIT $3 OFFSET $4",
		owner, includeInactive, pageSize, offset(page, pageSize))
	if err != nil {
		r.logger.Error("Failed to list links", zap.Error(err), zap.String("owner_id", owner.String()))
		return nil, 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	links := make([]model.ShortLink, 0, pageSize)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		links = append(links, *link)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return links, total, nil
}

func scanLink(row pgx.Row) (*model.ShortLink, error) {
	var (
		link  model.ShortLink
		kind  int
		owner uuid.NullUUID
	)
	err := row.Scan(
		&link.Code, &link.OriginalURL, &link.Destination, &kind, &link.Active, &link.ClickCount,
		&owner, &link.CreatedAt, &link.UpdatedAt, &link.ExpiresAt, &link.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	link.RedirectKind = model.RedirectKind(kind)
	link.OwnerID = ownerPtr(owner)
	return &link, nil
}
