package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sjsunlp/leetcode-assistant/internal/core"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
	"github.com/sjsunlp/leetcode-assistant/internal/session"
	"github.com/sjsunlp/leetcode-assistant/internal/store"
)

// Pinger reports whether the relational store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type APIHandler struct {
	log      *logger.Logger
	auth     *core.AuthService
	chat     *core.ChatService
	rag      *core.RAGService
	sessions *session.Manager
	db       Pinger
	now      func() time.Time
}

func NewAPIHandler(log *logger.Logger, auth *core.AuthService, chat *core.ChatService, rag *core.RAGService, sessions *session.Manager, db Pinger) *APIHandler {
	return &APIHandler{
		log:      log.With("component", "api"),
		auth:     auth,
		chat:     chat,
		rag:      rag,
		sessions: sessions,
		db:       db,
		now:      time.Now,
	}
}

type userResponse struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	APIToken *string `json:"api_token"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username, Email: u.Email, APIToken: u.APIToken}
}

// Auth

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.sessions.Establish(r.Context(), w, user.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": toUserResponse(user)})
}

// LoginRequest takes the identifier in username; email is accepted as an
// alternative field name.
type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}

	user, err := h.auth.Login(r.Context(), identifier, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.sessions.Establish(r.Context(), w, user.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": toUserResponse(user)})
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(r.Context(), w, r)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// VerifyHandler reports who the caller is. Lookup failures count as not
// authenticated; a bearer token here does not start a session.
func (h *APIHandler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	user, err := h.sessionUser(r)
	if err != nil {
		h.log.Warn("Verify session lookup failed", "error", err)
		user = nil
	}
	if user == nil {
		if token := bearerToken(r); token != "" {
			user, err = h.auth.ResolveBearer(r.Context(), token)
			if err != nil {
				h.log.Warn("Verify token lookup failed", "error", err)
				user = nil
			}
		}
	}

	if user == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "authenticated": true, "user": toUserResponse(user)})
}

func (h *APIHandler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	user, err := h.auth.EnsureToken(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "api_token": user.APIToken})
}

func (h *APIHandler) RotateTokenHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	user, err := h.auth.RotateToken(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "api_token": user.APIToken})
}

// Messages

type SendMessageRequest struct {
	Role        string  `json:"role"`
	Content     string  `json:"content"`
	ProblemSlug *string `json:"problem_slug"`
	ProblemID   *string `json:"problem_id"`
	ProblemURL  *string `json:"problem_url"`
	CodeContext *string `json:"code_context"`
	ModelUsed   *string `json:"model_used"`
}

func (h *APIHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	msg, err := h.chat.Send(r.Context(), userID, core.SendRequest{
		Role:    req.Role,
		Content: req.Content,
		ProblemContext: store.ProblemContext{
			ProblemSlug: req.ProblemSlug,
			ProblemID:   req.ProblemID,
			ProblemURL:  req.ProblemURL,
			CodeContext: req.CodeContext,
		},
		ModelUsed: req.ModelUsed,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": msg})
}

func (h *APIHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", core.DefaultHistoryLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, _ := UserIDFromContext(r.Context())

	page, err := h.chat.History(r.Context(), userID, limit, offset, r.URL.Query().Get("problem_slug"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"messages": page.Messages,
		"total":    page.Total,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

// RAG

type SearchRequest struct {
	Query       string  `json:"query"`
	TopK        *int    `json:"top_k"`
	ProblemSlug *string `json:"problem_slug"`
}

func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	topK := core.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	slug := ""
	if req.ProblemSlug != nil {
		slug = *req.ProblemSlug
	}
	userID, _ := UserIDFromContext(r.Context())

	results, err := h.rag.Search(r.Context(), userID, req.Query, topK, slug)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": results, "count": len(results)})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	database := "ok"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.log.Warn("Health check database ping failed", "error", err)
			database = "unavailable"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"time":     h.now().UTC().Format(time.RFC3339),
		"database": database,
	})
}
