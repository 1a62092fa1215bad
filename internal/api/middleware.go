package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sjsunlp/leetcode-assistant/internal/apierr"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
	"github.com/sjsunlp/leetcode-assistant/internal/store"
)

type ctxKey int

const userIDKey ctxKey = iota

func withUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the id set by RequireAuth.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// bearerToken returns the Authorization credential verbatim; tokens are
// compared exactly, so surrounding whitespace makes it a different token.
func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return token
}

// sessionUser returns the user behind the request's session cookie, if the
// session is valid and the user still exists.
func (h *APIHandler) sessionUser(r *http.Request) (*store.User, error) {
	userID, ok := h.sessions.Resolve(r.Context(), r)
	if !ok {
		return nil, nil
	}
	return h.auth.LookupUser(r.Context(), userID)
}

// RequireAuth admits a request with a valid session, or else with a bearer
// token that matches a user; the latter also starts a session so the same
// browser does not need the token again.
func (h *APIHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		user, err := h.sessionUser(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if user != nil {
			h.sessions.Refresh(ctx, w, r)
			next.ServeHTTP(w, r.WithContext(withUserID(ctx, user.ID)))
			return
		}

		if token := bearerToken(r); token != "" {
			user, err = h.auth.ResolveBearer(ctx, token)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			if user != nil {
				if err := h.sessions.Establish(ctx, w, user.ID); err != nil {
					h.log.Warn("Could not upgrade bearer token to session", "user_id", user.ID, "error", err)
				}
				next.ServeHTTP(w, r.WithContext(withUserID(ctx, user.ID)))
				return
			}
		}

		h.writeError(w, r, apierr.Unauthorized("Authentication required"))
	})
}

// requestLogger logs one line per request through the service logger.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("HTTP request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
					"remote_ip", r.RemoteAddr,
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
