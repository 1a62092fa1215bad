package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSession = errors.New("invalid session")

// SessionClaims is the payload of a signed session marker. Subject carries
// the user id and ID the session id.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// UserID parses the subject back into a user id.
func (c *SessionClaims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidSession
	}
	return id, nil
}

// SessionSigner signs session markers with the primary secret and accepts
// markers signed with any of the fallback secrets, so the secret can rotate
// without logging everyone out.
type SessionSigner struct {
	primary   []byte
	fallbacks [][]byte
	now       func() time.Time
}

func NewSessionSigner(secret string, fallbacks []string) (*SessionSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is empty")
	}
	s := &SessionSigner{primary: []byte(secret), now: time.Now}
	for _, f := range fallbacks {
		if f != "" && f != secret {
			s.fallbacks = append(s.fallbacks, []byte(f))
		}
	}
	return s, nil
}

func (s *SessionSigner) Sign(userID int64, sessionID string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.primary)
}

func (s *SessionSigner) Parse(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidSession
	}
	keys := append([][]byte{s.primary}, s.fallbacks...)

	var lastErr error
	for _, key := range keys {
		claims, err := s.parseWithKey(tokenString, key)
		if err == nil {
			return claims, nil
		}
		lastErr = err
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidSession, lastErr)
}

func (s *SessionSigner) parseWithKey(tokenString string, key []byte) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
