package allocator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/fonsecaaso/linkpulse/go-server/internal/metrics"
)

const (
	Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	MinGeneratedLength = 6
	MaxGeneratedLength = 8

	DefaultMaxAttempts = 10
)

var (
	ErrAliasTaken          = errors.New("alias already taken")
	ErrAllocationExhausted = errors.New("failed to allocate a unique code after max attempts")
	ErrInvalidAlias        = errors.New("alias is not a valid path segment")
)

// Checker reports whether a code is already reserved, including inactive and
// deleted links.
type Checker interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// CreateFunc persists a record under code. It must return an error matching
// the allocator's conflict error when the store's uniqueness constraint rejects it.
type CreateFunc func(ctx context.Context, code string) error

// Allocator hands out short codes that do not collide with existing ones.
// It holds no locks: the store's unique constraint is the final arbiter.
type Allocator struct {
	checker     Checker
	conflict    error
	maxAttempts int
	random      io.Reader
	logger      *zap.Logger
}

type Option func(*Allocator)

func WithMaxAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithRandom replaces crypto/rand.Reader.
func WithRandom(r io.Reader) Option {
	return func(a *Allocator) { a.random = r }
}

// New creates an Allocator. conflict is the error the store returns when a
// create violates the code uniqueness constraint.
func New(checker Checker, conflict error, opts ...Option) *Allocator {
	a := &Allocator{
		checker:     checker,
		conflict:    conflict,
		maxAttempts: DefaultMaxAttempts,
		random:      rand.Reader,
		logger:      zap.L().With(zap.String("component", "Allocator")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns alias when it is free, or a freshly generated code when
// alias is empty.
func (a *Allocator) Allocate(ctx context.Context, alias string) (string, error) {
	if alias != "" {
		return a.checkAlias(ctx, alias)
	}

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		code, taken, err := a.draw(ctx)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		metrics.CodeCollisionsTotal.WithLabelValues("exists").Inc()
		a.logger.Debug("Generated code collided", zap.String("code", code), zap.Int("attempt", attempt+1))
	}

	metrics.CodeAllocationsTotal.WithLabelValues("exhausted").Inc()
	return "", ErrAllocationExhausted
}

// Claim allocates a code and persists it through create. A create that loses
// a race at the store surfaces as ErrAliasTaken for aliases; generated codes
// are redrawn within the same attempt budget.
func (a *Allocator) Claim(ctx context.Context, alias string, create CreateFunc) (string, error) {
	if alias != "" {
		code, err := a.checkAlias(ctx, alias)
		if err != nil {
			return "", err
		}
		if err := create(ctx, code); err != nil {
			if errors.Is(err, a.conflict) {
				metrics.CodeAllocationsTotal.WithLabelValues("alias_taken").Inc()
				return "", ErrAliasTaken
			}
			return "", err
		}
		metrics.CodeAllocationsTotal.WithLabelValues("alias").Inc()
		return code, nil
	}

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		code, taken, err := a.draw(ctx)
		if err != nil {
			return "", err
		}
		if taken {
			metrics.CodeCollisionsTotal.WithLabelValues("exists").Inc()
			continue
		}

		err = create(ctx, code)
		if err == nil {
			metrics.CodeAllocationsTotal.WithLabelValues("generated").Inc()
			return code, nil
		}
		if !errors.Is(err, a.conflict) {
			return "", err
		}
		metrics.CodeCollisionsTotal.WithLabelValues("create_conflict").Inc()
		a.logger.Warn("Code lost a creation race, redrawing",
			zap.String("code", code),
			zap.Int("attempt", attempt+1),
		)
	}

	metrics.CodeAllocationsTotal.WithLabelValues("exhausted").Inc()
	return "", ErrAllocationExhausted
}

func (a *Allocator) checkAlias(ctx context.Context, alias string) (string, error) {
	if !ValidPathSegment(alias) {
		return "", ErrInvalidAlias
	}
	exists, err := a.checker.Exists(ctx, alias)
	if err != nil {
		return "", err
	}
	if exists {
		metrics.CodeAllocationsTotal.WithLabelValues("alias_taken").Inc()
		return "", ErrAliasTaken
	}
	return alias, nil
}

func (a *Allocator) draw(ctx context.Context) (string, bool, error) {
	code, err := a.Generate()
	if err != nil {
		return "", false, err
	}
	exists, err := a.checker.Exists(ctx, code)
	if err != nil {
		return "", false, err
	}
	return code, exists, nil
}

// Generate draws a random code whose length is uniform in
// [MinGeneratedLength, MaxGeneratedLength].
func (a *Allocator) Generate() (string, error) {
	span := big.NewInt(MaxGeneratedLength - MinGeneratedLength + 1)
	n, err := rand.Int(a.random, span)
	if err != nil {
		return "", fmt.Errorf("failed to generate random number: %w", err)
	}
	length := MinGeneratedLength + int(n.Int64())

	base := big.NewInt(int64(len(Alphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		idx, err := rand.Int(a.random, base)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		b.WriteByte(Alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// ValidPathSegment reports whether s can be used verbatim as a single URL
// path segment.
func ValidPathSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	for _, c := range s {
		if c <= ' ' || c == 0x7f {
			return false
		}
		switch c {
		case '/', '?', '#', '%', '\\':
			return false
		}
	}
	return true
}

// IsBase62 reports whether s only contains characters of Alphabet.
func IsBase62(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}
