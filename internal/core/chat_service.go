package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sjsunlp/leetcode-assistant/internal/apierr"
	"github.com/sjsunlp/leetcode-assistant/internal/embedding"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
	"github.com/sjsunlp/leetcode-assistant/internal/store"
	"github.com/sjsunlp/leetcode-assistant/internal/vectorindex"
)

const (
	DefaultHistoryLimit = 50
	MaxPageSize         = 100

	// excerptRunes is how much of the content is copied into vector metadata.
	excerptRunes = 500

	messageVectorPrefix = "message_"
)

type SendRequest struct {
	Role    string
	Content string
	store.ProblemContext
	ModelUsed *string
}

type HistoryPage struct {
	Messages []store.Message `json:"messages"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

type ChatService struct {
	log             *logger.Logger
	messages        MessageStore
	embedder        embedding.Embedder
	index           vectorindex.Index
	providerTimeout time.Duration
}

func NewChatService(log *logger.Logger, messages MessageStore, embedder embedding.Embedder, index vectorindex.Index, providerTimeout time.Duration) *ChatService {
	if providerTimeout <= 0 {
		providerTimeout = 20 * time.Second
	}
	return &ChatService{
		log:             log.With("service", "ChatService"),
		messages:        messages,
		embedder:        embedder,
		index:           index,
		providerTimeout: providerTimeout,
	}
}

// Send stores a chat turn. For user turns it then tries to embed and index
// the content; that step may fail without failing the call, in which case
// the message is returned without an embedding id.
func (s *ChatService) Send(ctx context.Context, userID int64, req SendRequest) (*store.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, apierr.Validation("content required")
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = store.RoleUser
	}
	if role != store.RoleUser && role != store.RoleAssistant {
		return nil, apierr.Validation("role must be 'user' or 'assistant'")
	}

	msg := &store.Message{
		UserID:         userID,
		Role:           role,
		Content:        content,
		ProblemContext: req.ProblemContext,
		ModelUsed:      req.ModelUsed,
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	if role != store.RoleUser {
		return msg, nil
	}
	embeddingID, err := s.indexMessage(ctx, msg)
	if err != nil {
		s.discardIndexError(msg.ID, err)
		return msg, nil
	}
	msg.EmbeddingID = &embeddingID
	return msg, nil
}

// discardIndexError is where a failed embedding step ends up. The message
// stays stored without a vector; -reembed can pick it up later.
func (s *ChatService) discardIndexError(messageID int64, err error) {
	s.log.Warn("Message stored without embedding", "message_id", messageID, "error", err)
}

// indexMessage embeds msg, upserts it under message_<id> and backfills the
// embedding id. It keeps running if the caller's request goes away, bounded
// by the provider timeout.
func (s *ChatService) indexMessage(ctx context.Context, msg *store.Message) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.providerTimeout)
	defer cancel()

	values, err := s.embedder.Embed(ctx, msg.Content)
	if err != nil {
		return "", fmt.Errorf("embed: %w", err)
	}

	vectorID := MessageVectorID(msg.ID)
	if err := s.index.Upsert(ctx, vectorID, values, messageMetadata(msg)); err != nil {
		return "", fmt.Errorf("upsert %s: %w", vectorID, err)
	}
	if err := s.messages.SetMessageEmbeddingID(ctx, msg.ID, vectorID); err != nil {
		return "", fmt.Errorf("backfill embedding id: %w", err)
	}
	return vectorID, nil
}

func messageMetadata(msg *store.Message) map[string]any {
	slug := ""
	if msg.ProblemSlug != nil {
		slug = *msg.ProblemSlug
	}
	return map[string]any{
		"user_id":      strconv.FormatInt(msg.UserID, 10),
		"problem_slug": slug,
		"created_at":   msg.CreatedAt.UTC().Format(time.RFC3339),
		"content":      truncateRunes(msg.Content, excerptRunes),
	}
}

// History returns one page of the user's messages, newest first, with the
// total count for the same filter.
func (s *ChatService) History(ctx context.Context, userID int64, limit, offset int, problemSlug string) (*HistoryPage, error) {
	limit, offset = NormalizePage(limit, offset)
	filter := store.MessageFilter{UserID: userID, ProblemSlug: strings.TrimSpace(problemSlug)}

	items, err := s.messages.ListMessages(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.messages.CountMessages(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{Messages: items, Total: total, Limit: limit, Offset: offset}, nil
}

// NormalizePage applies the default and maximum page size.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func MessageVectorID(messageID int64) string {
	return messageVectorPrefix + strconv.FormatInt(messageID, 10)
}

// parseMessageVectorID reverses MessageVectorID. Anything else is rejected.
func parseMessageVectorID(id string) (int64, bool) {
	rest, ok := strings.CutPrefix(id, messageVectorPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
