// Package users implements account management for the portal server:
// registration, password login, token verification, and token refresh.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/neodalsi/dalsi/internal/common"
	"github.com/neodalsi/dalsi/internal/server/auth"
	"github.com/neodalsi/dalsi/internal/server/config"
)

// DefaultTier is assigned to new registrations.
const DefaultTier = "free"

type Service struct {
	repo          Repository
	jwtSecret     []byte
	tokenValidity time.Duration
}

func NewService(repo Repository, cfg *config.Config) *Service {
	return &Service{
		repo:          repo,
		jwtSecret:     []byte(cfg.SecretKey),
		tokenValidity: cfg.TokenValidityDuration,
	}
}

// Register creates an account on the free tier and returns it with a signed
// token. A duplicate email maps to common.ErrAlreadyExists.
func (s *Service) Register(ctx context.Context, email, password, name string) (*User, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Tier:         DefaultTier,
	}

	user, err = s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, "", common.ErrAlreadyExists
		}
		return nil, "", fmt.Errorf("error creating user: %w", err)
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login checks the password and returns the user with a fresh token. An
// unknown email and a wrong password are indistinguishable to the caller:
// both are common.ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, password string) (*User, string, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, "", common.ErrUnauthorized
		}
		return nil, "", fmt.Errorf("error loading user: %w", err)
	}

	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return nil, "", common.ErrUnauthorized
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Verify parses the token and loads the current user row, so a tier change
// made after issuing is reflected immediately. Any parse failure maps to
// common.ErrUnauthorized.
func (s *Service) Verify(ctx context.Context, token string) (*User, error) {
	claims, err := auth.ParseToken(token, s.jwtSecret)
	if err != nil {
		return nil, common.ErrUnauthorized
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return user, nil
}

// Refresh exchanges a still-valid token for a fresh one with a full
// lifetime. An expired or invalid token cannot be refreshed.
func (s *Service) Refresh(ctx context.Context, token string) (string, error) {
	user, err := s.Verify(ctx, token)
	if err != nil {
		return "", err
	}
	return s.issueToken(user)
}

func (s *Service) issueToken(user *User) (string, error) {
	token, err := auth.GenerateToken(user.ID, user.Email, user.Tier, s.jwtSecret, s.tokenValidity)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}
