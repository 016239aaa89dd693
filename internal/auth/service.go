// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensegate/internal/database"
	"github.com/autobrr/licensegate/internal/models"
)

const SessionName = "user_session"

const minPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotSetup           = errors.New("initial setup required")
	ErrAlreadySetup       = errors.New("setup already completed")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters long", minPasswordLength)
)

// Service authenticates the single operator account and its API keys
type Service struct {
	users   *models.UserStore
	apiKeys *models.APIKeyStore
	store   *sessions.CookieStore
}

// NewService creates the auth service. encryptionKey may be nil to sign cookies without encrypting them.
func NewService(db *database.DB, sessionSecret string, encryptionKey []byte) *Service {
	keyPairs := [][]byte{[]byte(sessionSecret)}
	if len(encryptionKey) > 0 {
		keyPairs = append(keyPairs, encryptionKey)
	}

	return &Service{
		users:   models.NewUserStore(db),
		apiKeys: models.NewAPIKeyStore(db),
		store:   sessions.NewCookieStore(keyPairs...),
	}
}

func (s *Service) GetSessionStore() *sessions.CookieStore {
	return s.store
}

// IsSetupComplete reports whether the operator account exists
func (s *Service) IsSetupComplete(ctx context.Context) (bool, error) {
	return s.users.Exists(ctx)
}

// SetupUser creates the operator account. Only one account may exist.
func (s *Service) SetupUser(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	exists, err := s.users.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check setup status: %w", err)
	}
	if exists {
		return nil, ErrAlreadySetup
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.Create(ctx, username, hash)
	if errors.Is(err, models.ErrUserAlreadyExists) {
		return nil, ErrAlreadySetup
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	exists, err := s.users.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotSetup
	}

	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if NeedsRehash(user.PasswordHash) {
		if err := s.SetPassword(ctx, password); err != nil {
			log.Warn().Err(err).Str("username", user.Username).Msg("Failed to upgrade password hash")
		}
	}

	return user, nil
}

func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	user, err := s.users.Get(ctx)
	if errors.Is(err, models.ErrUserNotFound) {
		return ErrNotSetup
	}
	if err != nil {
		return err
	}

	ok, err := VerifyPassword(oldPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	return s.SetPassword(ctx, newPassword)
}

// SetPassword replaces the operator password without checking the old one
func (s *Service) SetPassword(ctx context.Context, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return ErrWeakPassword
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.users.UpdatePassword(ctx, hash)
}

// GetUserByUsername looks up the operator account
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.users.GetByUsername(ctx, strings.TrimSpace(username))
}

func (s *Service) CreateAPIKey(ctx context.Context, name string) (string, *models.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("api key name is required")
	}
	return s.apiKeys.Create(ctx, name)
}

func (s *Service) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	return s.apiKeys.List(ctx)
}

func (s *Service) DeleteAPIKey(ctx context.Context, id int) error {
	return s.apiKeys.Delete(ctx, id)
}

func (s *Service) ValidateAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	return s.apiKeys.ValidateAPIKey(ctx, rawKey)
}
