package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sjsunlp/leetcode-assistant/internal/apierr"
	"github.com/sjsunlp/leetcode-assistant/internal/auth"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
	"github.com/sjsunlp/leetcode-assistant/internal/store"
)

// tokenAttempts bounds retries when a freshly generated token collides with
// an existing one, which in practice never happens.
const tokenAttempts = 3

type AuthService struct {
	log   *logger.Logger
	users UserStore
}

func NewAuthService(log *logger.Logger, users UserStore) *AuthService {
	return &AuthService{log: log.With("service", "AuthService"), users: users}
}

// Register creates the account with an API token already issued.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*store.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return nil, apierr.Validation("Username, email, password required")
	}

	exists, err := s.users.UserExists(ctx, username, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apierr.Conflict("User exists")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	for attempt := 0; attempt < tokenAttempts; attempt++ {
		token, err := auth.GenerateAPIToken()
		if err != nil {
			return nil, err
		}
		user, err := s.users.CreateUser(ctx, username, email, hash, &token)
		if err == nil {
			s.log.Info("User registered", "user_id", user.ID)
			return user, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, err
		}
		// A concurrent registration may have taken the name in the meantime.
		if exists, checkErr := s.users.UserExists(ctx, username, email); checkErr == nil && exists {
			return nil, apierr.Conflict("User exists")
		}
	}
	return nil, fmt.Errorf("failed to create user after %d token attempts", tokenAttempts)
}

// Login accepts either the username or the email as identifier.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*store.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, apierr.Unauthorized("Invalid credentials")
	}
	user, err := s.users.GetUserByLogin(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if user == nil || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, apierr.Unauthorized("Invalid credentials")
	}
	return s.EnsureToken(ctx, user.ID)
}

// EnsureToken issues an API token if the user has none and returns the user
// with its current token. Repeated calls return the same token.
func (s *AuthService) EnsureToken(ctx context.Context, userID int64) (*store.User, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.APIToken != nil && *user.APIToken != "" {
		return user, nil
	}

	for attempt := 0; attempt < tokenAttempts; attempt++ {
		token, err := auth.GenerateAPIToken()
		if err != nil {
			return nil, err
		}
		_, err = s.users.SetAPITokenIfEmpty(ctx, userID, token)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// Re-read so a concurrent issuer's token wins over ours if it got there first.
		return s.GetUser(ctx, userID)
	}
	return nil, fmt.Errorf("failed to issue api token after %d attempts", tokenAttempts)
}

// RotateToken replaces the user's token; the old one stops working at once.
func (s *AuthService) RotateToken(ctx context.Context, userID int64) (*store.User, error) {
	for attempt := 0; attempt < tokenAttempts; attempt++ {
		token, err := auth.GenerateAPIToken()
		if err != nil {
			return nil, err
		}
		err = s.users.SetAPIToken(ctx, userID, token)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.log.Info("API token rotated", "user_id", userID)
		return s.GetUser(ctx, userID)
	}
	return nil, fmt.Errorf("failed to rotate api token after %d attempts", tokenAttempts)
}

// ResolveBearer returns the owner of token, or nil when nobody holds it.
func (s *AuthService) ResolveBearer(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, nil
	}
	return s.users.GetUserByAPIToken(ctx, token)
}

// LookupUser returns nil without error for an unknown id.
func (s *AuthService) LookupUser(ctx context.Context, userID int64) (*store.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

func (s *AuthService) GetUser(ctx context.Context, userID int64) (*store.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apierr.Unauthorized("Authentication required")
	}
	return user, nil
}
