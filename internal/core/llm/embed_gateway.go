package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/logger"
)

const (
	DefaultEmbedBatchSize = 50
	DefaultPaceEvery      = 100
	DefaultPaceDelay      = time.Second
)

type GatewayConfig struct {
	BatchSize int
	// PaceEvery items may be sent per PaceDelay. Zero disables pacing.
	PaceEvery int
	PaceDelay time.Duration
}

// EmbeddingGateway splits texts into provider-sized batches and paces them
// through a token bucket where each text costs one token.
type EmbeddingGateway struct {
	provider  core.EmbeddingProvider
	batchSize int
	limiter   *rate.Limiter
	log       *zap.Logger
}

var _ core.EmbeddingProvider = (*EmbeddingGateway)(nil)

func NewEmbeddingGateway(provider core.EmbeddingProvider, cfg GatewayConfig, log *zap.Logger) *EmbeddingGateway {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbedBatchSize
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.PaceEvery > 0 && cfg.PaceDelay > 0 {
		perSecond := float64(cfg.PaceEvery) / cfg.PaceDelay.Seconds()
		limiter = rate.NewLimiter(rate.Limit(perSecond), max(cfg.PaceEvery, cfg.BatchSize))
	}
	return &EmbeddingGateway{
		provider:  provider,
		batchSize: cfg.BatchSize,
		limiter:   limiter,
		log:       logger.OrNop(log),
	}
}

// EmbedTexts returns one vector per input in input order. The first failing
// batch aborts the call; its index is recorded on the returned error.
func (g *EmbeddingGateway) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for b, start := 0, 0; start < len(texts); b, start = b+1, start+g.batchSize {
		end := min(start+g.batchSize, len(texts))
		batch := texts[start:end]

		if err := g.limiter.WaitN(ctx, len(batch)); err != nil {
			return nil, g.pacingError(ctx, b, err)
		}

		vectors, err := g.provider.EmbedTexts(ctx, batch)
		if err != nil {
			return nil, g.batchError(b, err)
		}
		if len(vectors) != len(batch) {
			return nil, g.batchError(b, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(batch)))
		}
		for i, v := range vectors {
			if len(v) == 0 {
				return nil, g.batchError(b, fmt.Errorf("empty vector for text %d", start+i))
			}
		}
		out = append(out, vectors...)

		g.log.Debug("embedded batch", zap.Int("batch", b), zap.Int("size", len(batch)))
	}
	return out, nil
}

// pacingError classifies a failed limiter wait. WaitN refuses early, without
// wrapping context.DeadlineExceeded, when the reservation would outlive the
// context deadline.
func (g *EmbeddingGateway) pacingError(ctx context.Context, batch int, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return g.batchError(batch, fmt.Errorf("pacing: %w", ctx.Err()))
	}
	if _, ok := ctx.Deadline(); ok {
		return core.E(core.KindTimeout, "embed", fmt.Errorf("pacing: %w: %v", context.DeadlineExceeded, err))
	}
	return g.batchError(batch, fmt.Errorf("pacing: %w", err))
}

func (g *EmbeddingGateway) batchError(batch int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.E(core.KindTimeout, "embed", err)
	}
	e := core.E(core.KindEmbedding, "embed", err)
	e.FailedBatches = []int{batch}
	return e
}
