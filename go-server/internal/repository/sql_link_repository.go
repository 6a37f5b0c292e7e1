package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/fonsecaaso/linkpulse/go-server/internal/metrics"
	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
)

// SQLLinkRepository implements LinkRepository on database/sql for SQLite
// files and libSQL (Turso) databases. Timestamps are stored as Unix
// microseconds so both drivers round-trip them identically.
type SQLLinkRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLLinkRepository(db *sql.DB) *SQLLinkRepository {
	return &SQLLinkRepository{
		db:     db,
		logger: zap.L().With(zap.String("component", "SQLLinkRepository")),
	}
}

func (r *SQLLinkRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *SQLLinkRepository) Exists(ctx context.Context, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("exists", time.Now())

	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM links WHERE code = ?", code).Scan(&count); err != nil {
		r.logger.Error("Failed to check code existence", zap.Error(err), zap.String("code", code))
		return false, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return count > 0, nil
}

func (r *SQLLinkRepository) Create(ctx context.Context, link *model.ShortLink) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("insert", time.Now())

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO links (code, original_url, destination, redirect_kind, active, click_count,
			owner_id, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.Code, link.OriginalURL, link.Destination, int(link.RedirectKind), link.Active, link.ClickCount,
		nullOwner(link.OwnerID), link.CreatedAt.UnixMicro(), link.UpdatedAt.UnixMicro(), toMicros(link.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			r.logger.Debug("Code already taken", zap.String("code", link.Code))
			return ErrConflict
		}
		r.logger.Error("Failed to insert link", zap.Error(err), zap.String("code", link.Code))
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	r.logger.Info("Link created", zap.String("code", link.Code))
	return nil
}

func (r *SQLLinkRepository) GetActiveByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	return r.getOne(ctx, "get_active",
		"SELECT "+linkColumns+" FROM links WHERE code = ? AND active = 1 AND deleted_at IS NULL", code)
}

func (r *SQLLinkRepository) GetByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	return r.getOne(ctx, "get",
		"SELECT "+linkColumns+" FROM links WHERE code = ? AND deleted_at IS NULL", code)
}

func (r *SQLLinkRepository) getOne(ctx context.Context, queryType, query, code string) (*model.ShortLink, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery(queryType, time.Now())

	link, err := scanSQLLink(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		r.logger.Error("Database query error", zap.Error(err), zap.String("code", code))
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return link, nil
}

func (r *SQLLinkRepository) IncrementClicks(ctx context.Context, code string) error {
	return r.execOne(ctx, "increment_clicks",
		"UPDATE links SET click_count = click_count + 1 WHERE code = ? AND deleted_at IS NULL", code)
}

func (r *SQLLinkRepository) Update(ctx context.Context, code string, upd model.LinkUpdate) (*model.ShortLink, error) {
	var kind any
	if upd.RedirectKind != nil {
		kind = int(*upd.RedirectKind)
	}

	err := r.execOne(ctx, "update",
		`UPDATE links SET
			expires_at = CASE WHEN ? THEN NULL ELSE COALESCE(?, expires_at) END,
			redirect_kind = COALESCE(?, redirect_kind),
			updated_at = ?
		WHERE code = ? AND deleted_at IS NULL`,
		upd.ClearExpiry, toMicros(upd.ExpiresAt), kind, time.Now().UTC().UnixMicro(), code)
	if err != nil {
		return nil, err
	}
	return r.GetByCode(ctx, code)
}

func (r *SQLLinkRepository) SetActive(ctx context.Context, code string, active bool) error {
	return r.execOne(ctx, "set_active",
		"UPDATE links SET active = ?, updated_at = ? WHERE code = ? AND deleted_at IS NULL",
		active, time.Now().UTC().UnixMicro(), code)
}

func (r *SQLLinkRepository) Delete(ctx context.Context, code string) error {
	now := time.Now().UTC().UnixMicro()
	return r.execOne(ctx, "delete",
		"UPDATE links SET active = 0, deleted_at = ?, updated_at = ? WHERE code = ? AND deleted_at IS NULL",
		now, now, code)
}

func (r *SQLLinkRepository) execOne(ctx context.Context, queryType, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery(queryType, time.Now())

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Database exec error", zap.Error(err), zap.String("query_type", queryType))
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if n == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *SQLLinkRepository) ListByOwner(ctx context.Context, owner uuid.UUID, page, pageSize int, includeInactive bool) ([]model.ShortLink, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	defer metrics.ObserveQuery("list_by_owner", time.Now())

	filter := "owner_id = ? AND deleted_at IS NULL"
	if !includeInactive {
		filter += " AND active = 1"
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM links WHERE "+filter, owner.String()).Scan(&total); err != nil {
		r.logger.Error("Failed to count links", zap.Error(err), zap.String("owner_id", owner.String()))
		return nil, 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+linkColumns+" FROM links WHERE "+filter+" ORDER BY created_at DESC, code LIMIT ? OFFSET ?",
		owner.String(), pageSize, offset(page, pageSize))
	if err != nil {
		r.logger.Error("Failed to list links", zap.Error(err), zap.String("owner_id", owner.String()))
		return nil, 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	links := make([]model.ShortLink, 0, pageSize)
	for rows.Next() {
		link, err := scanSQLLink(rows)
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

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLLink(row sqlScanner) (*model.ShortLink, error) {
	var (
		link                 model.ShortLink
		kind                 int
		owner                uuid.NullUUID
		created, updated     int64
		expiresAt, deletedAt sql.NullInt64
	)
	err := row.Scan(
		&link.Code, &link.OriginalURL, &link.Destination, &kind, &link.Active, &link.ClickCount,
		&owner, &created, &updated, &expiresAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	link.RedirectKind = model.RedirectKind(kind)
	link.OwnerID = ownerPtr(owner)
	link.CreatedAt = time.UnixMicro(created).UTC()
	link.UpdatedAt = time.UnixMicro(updated).UTC()
	link.ExpiresAt = fromMicros(expiresAt)
	link.DeletedAt = fromMicros(deletedAt)
	return &link, nil
}

func toMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func fromMicros(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMicro(n.Int64).UTC()
	return &t
}

// isUniqueViolation recognizes constraint failures from modernc's driver by
// extended code, falling back to the message, which is all libSQL exposes.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
