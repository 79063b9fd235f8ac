package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/logger"
)

const (
	DefaultEmbedCacheTTL    = 24 * time.Hour
	DefaultEmbedCachePrefix = "emb:"
)

// CachedEmbedder memoizes embeddings in Redis keyed by model and text hash.
// Cache errors never fail a call; the provider is used instead.
type CachedEmbedder struct {
	provider core.EmbeddingProvider
	redis    *goredis.Client
	model    string
	ttl      time.Duration
	prefix   string
	log      *zap.Logger
}

var _ core.EmbeddingProvider = (*CachedEmbedder)(nil)

func NewCachedEmbedder(provider core.EmbeddingProvider, redis *goredis.Client, model string, ttl time.Duration, log *zap.Logger) *CachedEmbedder {
	if ttl <= 0 {
		ttl = DefaultEmbedCacheTTL
	}
	return &CachedEmbedder{
		provider: provider,
		redis:    redis,
		model:    model,
		ttl:      ttl,
		prefix:   DefaultEmbedCachePrefix,
		log:      logger.OrNop(log),
	}
}

// NewRedisClient parses a redis:// URL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := goredis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if c.redis == nil || len(texts) == 0 {
		return c.provider.EmbedTexts(ctx, texts)
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	cached, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		c.log.Warn("embedding cache read failed, using provider", zap.Error(err))
		cached = nil
	}
	for i := range texts {
		if i < len(cached) {
			if s, ok := cached[i].(string); ok {
				var v []float32
				if err := json.Unmarshal([]byte(s), &v); err == nil && len(v) > 0 {
					out[i] = v
					continue
				}
				_ = c.redis.Del(ctx, keys[i]).Err()
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}

	if len(missTexts) == 0 {
		c.log.Debug("all embeddings from cache", zap.Int("total", len(texts)))
		return out, nil
	}

	fresh, err := c.provider.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, core.Errorf(core.KindEmbedding, "embed", "provider returned %d vectors for %d texts", len(fresh), len(missTexts))
	}

	pipe := c.redis.Pipeline()
	for j, i := range missIdx {
		out[i] = fresh[j]
		data, err := json.Marshal(fresh[j])
		if err != nil {
			continue
		}
		pipe.Set(ctx, keys[i], data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("embedding cache write failed", zap.Error(err))
	}

	c.log.Debug("embedding cache", zap.Int("total", len(texts)), zap.Int("misses", len(missTexts)))
	return out, nil
}
