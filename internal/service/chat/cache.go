package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"streamchat/internal/models"
	"streamchat/internal/redis"
)

const historyCacheTTL = 30 * time.Minute

// historyCache keeps decoded chat histories in redis. A nil cache is a no-op.
type historyCache struct {
	client *redis.Client
	log    *zap.Logger
}

func newHistoryCache(client *redis.Client, log *zap.Logger) *historyCache {
	if client == nil {
		return nil
	}
	return &historyCache{client: client, log: log}
}

func historyKey(chatID string) string {
	return fmt.Sprintf("chat:history:%s", chatID)
}

func (c *historyCache) store(ctx context.Context, chatID string, history []*models.Message) {
	if c == nil || chatID == "" {
		return
	}
	data, err := json.Marshal(history)
	if err != nil {
		c.log.Warn("history cache marshal failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, historyKey(chatID), data, historyCacheTTL); err != nil {
		c.log.Warn("history cache store failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (c *historyCache) load(ctx context.Context, chatID string) ([]*models.Message, bool) {
	if c == nil || chatID == "" {
		return nil, false
	}
	raw, err := c.client.Get(ctx, historyKey(chatID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.log.Warn("history cache load failed", zap.String("chat_id", chatID), zap.Error(err))
		}
		return nil, false
	}
	var history []*models.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		c.log.Warn("history cache decode failed", zap.String("chat_id", chatID), zap.Error(err))
		return nil, false
	}
	return history, true
}

func (c *historyCache) invalidate(ctx context.Context, chatID string) {
	if c == nil || chatID == "" {
		return
	}
	if err := c.client.Del(ctx, historyKey(chatID)); err != nil {
		c.log.Warn("history cache invalidate failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}
