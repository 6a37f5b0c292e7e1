package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fonsecaaso/linkpulse/go-server/internal/events"
	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
	"github.com/fonsecaaso/linkpulse/go-server/internal/repository"
	"github.com/fonsecaaso/linkpulse/go-server/internal/token"
)

type AuthService interface {
	Register(ctx context.Context, username, email, password string) (*model.User, error)
	Login(ctx context.Context, email, password string) (string, error)
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrInvalidAccount     = errors.New("username, email and password are required")
)

const minPasswordLength = 8

type authService struct {
	userRepo repository.UserRepository
	tokens   *token.Manager
	events   events.Publisher
	logger   *zap.Logger
}

func NewAuthService(userRepo repository.UserRepository, tokens *token.Manager, publisher events.Publisher) AuthService {
	return &authService{
		userRepo: userRepo,
		tokens:   tokens,
		events:   publisher,
		logger:   zap.L().With(zap.String("component", "AuthService")),
	}
}

func (s *authService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || !strings.Contains(email, "@") || len(password) < minPasswordLength {
		return nil, ErrInvalidAccount
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(passwordHash),
		Role:         model.RoleUser,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailAlreadyExists
		}
		s.logger.Error("Failed to create user", zap.Error(err))
		return nil, err
	}

	s.logger.Info("User registered", zap.String("user_id", user.ID))
	s.events.Publish(events.New(events.UserRegistered, "", userUUID(user.ID), map[string]any{
		"username": user.Username,
	}))
	return user, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Error("Failed to load user", zap.Error(err))
			return "", err
		}
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	tokenString, err := s.tokens.GenerateToken(user.ID, user.Role)
	if err != nil {
		return "", err
	}

	s.events.Publish(events.New(events.UserLoggedIn, "", userUUID(user.ID), nil))
	return tokenString, nil
}

func userUUID(id string) *uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	return &parsed
}
