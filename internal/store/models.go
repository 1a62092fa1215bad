package store

import (
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Do not expose this in JSON responses
	APIToken     *string   `json:"api_token"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProblemContext is the optional coding-problem metadata attached to a message.
type ProblemContext struct {
	ProblemSlug *string `json:"problem_slug"`
	ProblemID   *string `json:"problem_id"`
	ProblemURL  *string `json:"problem_url"`
	CodeContext *string `json:"code_context"`
}

type Message struct {
	ID      int64  `json:"id"`
	UserID  int64  `json:"user_id"`
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
	ProblemContext
	ModelUsed   *string   `json:"model_used"`
	EmbeddingID *string   `json:"embedding_id"` // Set only after the vector was stored
	CreatedAt   time.Time `json:"created_at"`
}

// MessageFilter selects a user's messages, optionally narrowed to one problem.
type MessageFilter struct {
	UserID      int64
	ProblemSlug string
}
