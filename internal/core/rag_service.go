package core

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sjsunlp/leetcode-assistant/internal/apierr"
	"github.com/sjsunlp/leetcode-assistant/internal/embedding"
	"github.com/sjsunlp/leetcode-assistant/internal/logger"
	"github.com/sjsunlp/leetcode-assistant/internal/store"
	"github.com/sjsunlp/leetcode-assistant/internal/vectorindex"
)

const DefaultTopK = 5

type SearchResult struct {
	store.Message
	SimilarityScore float64 `json:"similarity_score"`
}

type RAGService struct {
	log             *logger.Logger
	messages        MessageStore
	embedder        embedding.Embedder
	index           vectorindex.Index
	providerTimeout time.Duration
}

func NewRAGService(log *logger.Logger, messages MessageStore, embedder embedding.Embedder, index vectorindex.Index, providerTimeout time.Duration) *RAGService {
	if providerTimeout <= 0 {
		providerTimeout = 20 * time.Second
	}
	return &RAGService{
		log:             log.With("service", "RAGService"),
		messages:        messages,
		embedder:        embedder,
		index:           index,
		providerTimeout: providerTimeout,
	}
}

// Search finds the caller's own messages closest to query, in the order the
// index scored them. Matches that do not resolve to one of the caller's
// messages are dropped.
func (s *RAGService) Search(ctx context.Context, userID int64, query string, topK int, problemSlug string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apierr.Validation("query required")
	}
	if topK <= 0 {
		return nil, apierr.Validation("top_k must be a positive integer")
	}
	if topK > MaxPageSize {
		topK = MaxPageSize
	}

	providerCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	values, err := s.embedder.Embed(providerCtx, query)
	if err != nil {
		return nil, asProviderError("embedding failed", err)
	}

	filter := map[string]any{"user_id": strconv.FormatInt(userID, 10)}
	if slug := strings.TrimSpace(problemSlug); slug != "" {
		filter["problem_slug"] = slug
	}
	matches, err := s.index.Query(providerCtx, values, topK, filter, true)
	if err != nil {
		return nil, asProviderError("vector search failed", err)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		messageID, ok := parseMessageVectorID(m.ID)
		if !ok {
			s.log.Debug("Skipping unrecognised vector id", "vector_id", m.ID)
			continue
		}
		msg, err := s.messages.GetMessageByID(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if !ownedBy(msg, userID) {
			continue
		}
		results = append(results, SearchResult{Message: *msg, SimilarityScore: m.Score})
	}
	return results, nil
}

// ownedBy is the final check before a message leaves the service; it does
// not trust the index filter.
func ownedBy(msg *store.Message, userID int64) bool {
	return msg != nil && msg.UserID == userID
}

// asProviderError keeps typed errors from the clients and marks anything
// else (timeouts, transport faults) as a retryable provider failure.
func asProviderError(message string, err error) error {
	if _, ok := apierr.As(err); ok {
		return err
	}
	return apierr.Provider(message, err)
}
