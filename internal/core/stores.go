package core

import (
	"context"

	"github.com/sjsunlp/leetcode-assistant/internal/store"
)

// UserStore is the credential side of the relational store.
type UserStore interface {
	CreateUser(ctx context.Context, username, email, passwordHash string, apiToken *string) (*store.User, error)
	UserExists(ctx context.Context, username, email string) (bool, error)
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	GetUserByLogin(ctx context.Context, identifier string) (*store.User, error)
	GetUserByAPIToken(ctx context.Context, token string) (*store.User, error)
	SetAPITokenIfEmpty(ctx context.Context, userID int64, token string) (bool, error)
	SetAPIToken(ctx context.Context, userID int64, token string) error
}

// MessageStore is the chat-turn side of the relational store.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *store.Message) error
	SetMessageEmbeddingID(ctx context.Context, messageID int64, embeddingID string) error
	GetMessageByID(ctx context.Context, id int64) (*store.Message, error)
	ListMessages(ctx context.Context, f store.MessageFilter, limit, offset int) ([]store.Message, error)
	CountMessages(ctx context.Context, f store.MessageFilter) (int, error)
	ListUnembeddedMessages(ctx context.Context, role string, afterID int64, limit int) ([]store.Message, error)
}

var (
	_ UserStore    = (*store.SQLiteStore)(nil)
	_ MessageStore = (*store.SQLiteStore)(nil)
)
