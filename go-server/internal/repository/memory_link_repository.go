package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
)

var _ LinkRepository = (*MemoryLinkRepository)(nil)

// MemoryLinkRepository keeps links in process memory. Values handed out are
// copies, so callers cannot mutate stored state.
type MemoryLinkRepository struct {
	mu    sync.RWMutex
	links map[string]*model.ShortLink
	now   func() time.Time
}

func NewMemoryLinkRepository() *MemoryLinkRepository {
	return &MemoryLinkRepository{
		links: make(map[string]*model.ShortLink),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryLinkRepository) Ping(ctx context.Context) error {
	return nil
}

func (r *MemoryLinkRepository) Exists(ctx context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.links[code]
	return ok, nil
}

func (r *MemoryLinkRepository) Create(ctx context.Context, link *model.ShortLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.links[link.Code]; exists {
		return ErrConflict
	}
	r.links[link.Code] = cloneLink(link)
	return nil
}

func (r *MemoryLinkRepository) GetActiveByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.links[code]
	if !ok || l.DeletedAt != nil || !l.Active {
		return nil, ErrLinkNotFound
	}
	return cloneLink(l), nil
}

func (r *MemoryLinkRepository) GetByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.live(code)
	if !ok {
		return nil, ErrLinkNotFound
	}
	return cloneLink(l), nil
}

func (r *MemoryLinkRepository) IncrementClicks(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.live(code)
	if !ok {
		return ErrLinkNotFound
	}
	l.ClickCount++
	return nil
}

func (r *MemoryLinkRepository) Update(ctx context.Context, code string, upd model.LinkUpdate) (*model.ShortLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.live(code)
	if !ok {
		return nil, ErrLinkNotFound
	}
	updated := upd.Apply(*l, r.now())
	r.links[code] = cloneLink(&updated)
	return cloneLink(&updated), nil
}

func (r *MemoryLinkRepository) SetActive(ctx context.Context, code string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.live(code)
	if !ok {
		return ErrLinkNotFound
	}
	l.Active = active
	l.UpdatedAt = r.now()
	return nil
}

func (r *MemoryLinkRepository) Delete(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.live(code)
	if !ok {
		return ErrLinkNotFound
	}
	now := r.now()
	l.Active = false
	l.DeletedAt = &now
	l.UpdatedAt = now
	return nil
}

func (r *MemoryLinkRepository) ListByOwner(ctx context.Context, owner uuid.UUID, page, pageSize int, includeInactive bool) ([]model.ShortLink, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*model.ShortLink, 0)
	for _, l := range r.links {
		if l.DeletedAt != nil || !l.OwnedBy(owner) {
			continue
		}
		if !includeInactive && !l.Active {
			continue
		}
		matched = append(matched, l)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Code < matched[j].Code
	})

	total := int64(len(matched))
	start := offset(page, pageSize)
	if start >= len(matched) {
		return []model.ShortLink{}, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	out := make([]model.ShortLink, 0, end-start)
	for _, l := range matched[start:end] {
		out = append(out, *cloneLink(l))
	}
	return out, total, nil
}

func (r *MemoryLinkRepository) live(code string) (*model.ShortLink, bool) {
	l, ok := r.links[code]
	if !ok || l.DeletedAt != nil {
		return nil, false
	}
	return l, true
}
