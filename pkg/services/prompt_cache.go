package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/metrics"
	"github.com/omnifin/backoffice/pkg/models"
)

// PromptCache memoizes prompt lookups by name, category and group.
// Errors never surface to callers: a failing cache behaves as a miss.
type PromptCache interface {
	Get(ctx context.Context, name, category string, groupID *int64) (*models.Prompt, bool)
	Set(ctx context.Context, name, category string, groupID *int64, prompt *models.Prompt)
	// Invalidate drops every cached prompt.
	Invalidate(ctx context.Context)
}

const (
	promptCachePrefix     = "omnifin:prompts:v1"
	promptGenerationKey   = promptCachePrefix + ":generation"
	promptCacheOpTimeout  = 250 * time.Millisecond
	cacheResultHit        = "hit"
	cacheResultMiss       = "miss"
	cacheResultError      = "error"
	globalPromptGroupName = "global"
)

type redisPromptCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewPromptCache returns a Redis-backed cache, or a no-op cache when client is nil.
func NewPromptCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) PromptCache {
	if client == nil {
		return noopPromptCache{}
	}
	return &redisPromptCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("prompt_cache"),
	}
}

// Keys embed a generation counter so Invalidate is a single INCR rather than a scan.
func (c *redisPromptCache) key(ctx context.Context, name, category string, groupID *int64) (string, error) {
	gen, err := c.client.Get(ctx, promptGenerationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return promptCacheKey(gen, name, category, groupID), nil
}

func promptCacheKey(generation int64, name, category string, groupID *int64) string {
	group := globalPromptGroupName
	if groupID != nil {
		group = fmt.Sprintf("%d", *groupID)
	}
	return fmt.Sprintf("%s:%d:%s:%s:%s", promptCachePrefix, generation, group, category, name)
}

func (c *redisPromptCache) Get(ctx context.Context, name, category string, groupID *int64) (*models.Prompt, bool) {
	ctx, cancel := context.WithTimeout(ctx, promptCacheOpTimeout)
	defer cancel()

	key, err := c.key(ctx, name, category, groupID)
	if err != nil {
		c.fail("read generation", err)
		return nil, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordPromptCache(cacheResultMiss)
		} else {
			c.fail("get", err)
		}
		return nil, false
	}

	var prompt models.Prompt
	if err := json.Unmarshal(raw, &prompt); err != nil {
		c.fail("decode", err)
		return nil, false
	}
	metrics.RecordPromptCache(cacheResultHit)
	return &prompt, true
}

func (c *redisPromptCache) Set(ctx context.Context, name, category string, groupID *int64, prompt *models.Prompt) {
	ctx, cancel := context.WithTimeout(ctx, promptCacheOpTimeout)
	defer cancel()

	raw, err := json.Marshal(prompt)
	if err != nil {
		c.fail("encode", err)
		return
	}
	key, err := c.key(ctx, name, category, groupID)
	if err != nil {
		c.fail("read generation", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.fail("set", err)
	}
}

func (c *redisPromptCache) Invalidate(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, promptCacheOpTimeout)
	defer cancel()

	if err := c.client.Incr(ctx, promptGenerationKey).Err(); err != nil {
		c.fail("invalidate", err)
	}
}

func (c *redisPromptCache) fail(op string, err error) {
	metrics.RecordPromptCache(cacheResultError)
	c.logger.Warn("Prompt cache unavailable", zap.String("op", op), zap.Error(err))
}

type noopPromptCache struct{}

func (noopPromptCache) Get(context.Context, string, string, *int64) (*models.Prompt, bool) {
	return nil, false
}
func (noopPromptCache) Set(context.Context, string, string, *int64, *models.Prompt) {}
func (noopPromptCache) Invalidate(context.Context)                                  {}
