package core

import (
	"context"
	"time"

	"github.com/sjsunlp/leetcode-assistant/internal/logger"
	"github.com/sjsunlp/leetcode-assistant/internal/store"
)

const reembedBatchSize = 100

type ReembedStats struct {
	Embedded int
	Failed   int
}

// Reembedder walks user messages that have no embedding id and runs them
// through the same indexing step as Send. It is a one-shot maintenance job.
type Reembedder struct {
	log      *logger.Logger
	chat     *ChatService
	messages MessageStore
	interval time.Duration
}

// NewReembedder paces provider calls to one per interval; zero disables pacing.
func NewReembedder(log *logger.Logger, chat *ChatService, messages MessageStore, interval time.Duration) *Reembedder {
	return &Reembedder{
		log:      log.With("service", "Reembedder"),
		chat:     chat,
		messages: messages,
		interval: interval,
	}
}

func (r *Reembedder) Run(ctx context.Context) (ReembedStats, error) {
	var stats ReembedStats

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var afterID int64
	for {
		batch, err := r.messages.ListUnembeddedMessages(ctx, store.RoleUser, afterID, reembedBatchSize)
		if err != nil {
			return stats, err
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			msg := &batch[i]
			afterID = msg.ID

			if tick != nil {
				select {
				case <-ctx.Done():
					return stats, ctx.Err()
				case <-tick:
				}
			} else if err := ctx.Err(); err != nil {
				return stats, err
			}

			if _, err := r.chat.indexMessage(ctx, msg); err != nil {
				stats.Failed++
				r.log.Warn("Re-embedding failed", "message_id", msg.ID, "error", err)
				continue
			}
			stats.Embedded++
		}
		r.log.Info("Re-embed batch done", "last_message_id", afterID, "embedded", stats.Embedded, "failed", stats.Failed)
	}
	return stats, nil
}
