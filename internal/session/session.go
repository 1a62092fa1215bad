// Package session keeps the browser session that marks a user as logged in.
// The cookie always carries a signed marker; the redis backend additionally
// records the session server-side so logout revokes it everywhere.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sjsunlp/leetcode-assistant/internal/auth"
	"github.com/sjsunlp/leetcode-assistant/internal/config"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
)

const CookieName = "session"

var ErrNoSession = errors.New("no session")

// Store issues and validates session markers. Create returns the value to
// put in the cookie; Touch returns a replacement value with a fresh expiry.
type Store interface {
	Create(ctx context.Context, userID int64) (string, error)
	Lookup(ctx context.Context, value string) (int64, error)
	Touch(ctx context.Context, value string) (string, error)
	Delete(ctx context.Context, value string) error
}

type CookieOptions struct {
	Secure bool
	TTL    time.Duration
}

type Manager struct {
	log   *logger.Logger
	store Store
	opts  CookieOptions
}

func NewManager(log *logger.Logger, store Store, opts CookieOptions) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 7 * 24 * time.Hour
	}
	return &Manager{log: log.With("service", "SessionManager"), store: store, opts: opts}
}

// New builds the manager for the configured backend.
func New(ctx context.Context, log *logger.Logger, cfg *config.Config) (*Manager, error) {
	signer, err := auth.NewSessionSigner(cfg.SecretKey, cfg.SecretKeyFallbacks)
	if err != nil {
		return nil, err
	}

	var store Store
	switch cfg.SessionBackend {
	case config.SessionBackendCookie, "":
		store = NewCookieStore(signer, cfg.SessionTTL)
	case config.SessionBackendRedis:
		kv, err := NewRedisKV(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		store = NewRedisStore(signer, kv, cfg.SessionTTL)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
	return NewManager(log, store, CookieOptions{Secure: cfg.CookieSecure, TTL: cfg.SessionTTL}), nil
}

// Establish starts a new session for userID and sets its cookie.
func (m *Manager) Establish(ctx context.Context, w http.ResponseWriter, userID int64) error {
	value, err := m.store.Create(ctx, userID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	http.SetCookie(w, m.cookie(value, int(m.opts.TTL.Seconds())))
	return nil
}

// Resolve returns the user id of the request's session, if any. Any problem
// with the cookie is treated as no session.
func (m *Manager) Resolve(ctx context.Context, r *http.Request) (int64, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return 0, false
	}
	userID, err := m.store.Lookup(ctx, c.Value)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			m.log.Debug("Session lookup failed", "error", err)
		}
		return 0, false
	}
	return userID, true
}

// Refresh slides the expiry of the request's session forward.
func (m *Manager) Refresh(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return
	}
	value, err := m.store.Touch(ctx, c.Value)
	if err != nil {
		m.log.Debug("Session refresh failed", "error", err)
		return
	}
	http.SetCookie(w, m.cookie(value, int(m.opts.TTL.Seconds())))
}

// Clear ends the request's session and expires the cookie.
func (m *Manager) Clear(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		if err := m.store.Delete(ctx, c.Value); err != nil {
			m.log.Warn("Session delete failed", "error", err)
		}
	}
	http.SetCookie(w, m.cookie("", -1))
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// CookieStore keeps everything in the signed marker itself.
type CookieStore struct {
	signer *auth.SessionSigner
	ttl    time.Duration
}

func NewCookieStore(signer *auth.SessionSigner, ttl time.Duration) *CookieStore {
	return &CookieStore{signer: signer, ttl: ttl}
}

func (s *CookieStore) Create(ctx context.Context, userID int64) (string, error) {
	return s.signer.Sign(userID, uuid.NewString(), s.ttl)
}

func (s *CookieStore) Lookup(ctx context.Context, value string) (int64, error) {
	claims, err := s.signer.Parse(value)
	if err != nil {
		return 0, ErrNoSession
	}
	return claims.UserID()
}

func (s *CookieStore) Touch(ctx context.Context, value string) (string, error) {
	claims, err := s.signer.Parse(value)
	if err != nil {
		return "", ErrNoSession
	}
	userID, err := claims.UserID()
	if err != nil {
		return "", err
	}
	return s.signer.Sign(userID, claims.ID, s.ttl)
}

// Delete is a no-op; the browser drops the cookie.
func (s *CookieStore) Delete(ctx context.Context, value string) error {
	return nil
}
