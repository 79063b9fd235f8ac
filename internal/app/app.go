package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/docchat/internal/config"
	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/core/cache"
	"github.com/markdave123-py/docchat/internal/core/chat_engine"
	db "github.com/markdave123-py/docchat/internal/core/database"
	"github.com/markdave123-py/docchat/internal/core/ingestion_engine"
	"github.com/markdave123-py/docchat/internal/core/llm"
	objectclient "github.com/markdave123-py/docchat/internal/core/object-client"
	vectorindex "github.com/markdave123-py/docchat/internal/core/vector-index"
	"github.com/markdave123-py/docchat/internal/logger"
	"github.com/markdave123-py/docchat/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
	drainTimeout    = 20 * time.Second
)

// App owns every long-lived client. Everything is built once in New and
// released in Close.
type App struct {
	Config     *config.Config
	Log        *zap.Logger
	DB         core.DbClient
	Objects    core.ObjectClient
	Index      core.VectorIndex
	Dispatcher *ingestion_engine.Dispatcher
	Documents  *services.DocumentService
	Users      *services.UserService
	Server     *Server

	closers []func() error
}

type options struct {
	embedder core.EmbeddingProvider
	llm      core.LLMProvider
}

type Option func(*options)

// WithProviders replaces the Gemini clients, mainly for tests and offline runs.
func WithProviders(emb core.EmbeddingProvider, gen core.LLMProvider) Option {
	return func(o *options) {
		o.embedder = emb
		o.llm = gen
	}
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...Option) (*App, error) {
	log = logger.OrNop(log)
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Log: log}
	if err := a.build(ctx, o); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg, log := a.Config, a.Log

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := a.initStores(initCtx); err != nil {
		return err
	}

	embedder, queryEmbedder, gen, err := a.initProviders(initCtx, o)
	if err != nil {
		return err
	}

	if cfg.RedisURL != "" {
		rdb, err := llm.NewRedisClient(initCtx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		// Query vectors use a different task type, so they get their own key space.
		embedder = llm.NewCachedEmbedder(embedder, rdb, cfg.EmbedModel, llm.DefaultEmbedCacheTTL, log.Named("embed-cache"))
		queryEmbedder = llm.NewCachedEmbedder(queryEmbedder, rdb, cfg.EmbedModel+"/query", llm.DefaultEmbedCacheTTL, log.Named("embed-cache"))
		log.Info("embedding cache enabled")
	}
	gateway := llm.NewEmbeddingGateway(embedder, llm.GatewayConfig{
		BatchSize: cfg.EmbedBatchSize,
		PaceEvery: cfg.EmbedPaceEvery,
		PaceDelay: cfg.EmbedPaceDelay,
	}, log.Named("embed"))

	docCache, err := cache.NewDocumentCache(cfg.DocCacheSize)
	if err != nil {
		return err
	}

	ingestor, err := ingestion_engine.NewDocumentIngestor(a.DB, a.Objects, gateway, a.Index,
		ingestion_engine.NewDocconvExtractor(), docCache,
		ingestion_engine.IngestConfig{
			ChunkSize:      cfg.ChunkSize,
			ChunkOverlap:   cfg.ChunkOverlap,
			KeepParagraphs: cfg.ChunkKeepParagraphs,
			MaxUploadBytes: cfg.MaxUploadBytes,
			Timeout:        cfg.IngestTimeout,
		}, log.Named("ingest"))
	if err != nil {
		return err
	}

	a.Dispatcher, err = ingestion_engine.NewDispatcher(ingestor, a.DB, docCache, cfg.IngestWorkers, log.Named("dispatch"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { return a.Dispatcher.Close(drainTimeout) })
	a.Dispatcher.OnDone = func(docID string, chunks int, err error) {
		if err == nil {
			log.Info("document ready", zap.String("document_id", docID), zap.Int("chunks", chunks))
		}
	}

	// The engine embeds one question per call, so it skips the gateway's pacing.
	chat := chat_engine.NewEngine(a.DB, queryEmbedder, a.Index, gen, docCache, cfg.TopK, log.Named("chat"))

	a.Documents = services.NewDocumentService(a.DB, a.Objects, ingestor, a.Dispatcher, chat, docCache, cfg.MaxUploadBytes, log.Named("documents"))
	a.Users = services.NewUserService(a.DB)

	secret := cfg.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn("JWT_SECRET not set; tokens will not survive a restart")
	}
	a.Server = NewServer(cfg, a.Documents, a.Users, secret, log.Named("http"))
	return nil
}

// initStores picks Postgres or the in-memory record store and vector index,
// and S3 or the in-memory object store.
func (a *App) initStores(ctx context.Context) error {
	cfg, log := a.Config, a.Log

	if cfg.DatabaseURL != "" {
		dbClient, err := db.NewDatabaseClient(ctx, cfg, log.Named("db"))
		if err != nil {
			return err
		}
		a.DB = dbClient
		a.closers = append(a.closers, dbClient.Close)
		a.Index = vectorindex.NewPgVectorIndex(dbClient.DB(), cfg.EmbedDim, cfg.UpsertBatchSize, log.Named("pgvector"))
		log.Info("database initialized and ready")
	} else {
		a.DB = db.NewMemoryClient()
		a.Index = vectorindex.NewMemoryIndex()
		log.Warn("DATABASE_URL not set; using in-memory record store and vector index")
	}

	if cfg.UseObjectStorage() {
		s3, err := objectclient.NewS3Client(ctx, cfg, log.Named("s3"))
		if err != nil {
			return err
		}
		a.Objects = s3
		log.Info("object client initialized and ready", zap.String("bucket", cfg.BucketName))
	} else {
		a.Objects = objectclient.NewMemoryClient()
		log.Warn("AWS credentials not set; using in-memory object store")
	}
	return nil
}

// initProviders returns the chunk embedder, the question embedder and the
// generator. An injected embedder serves both sides.
func (a *App) initProviders(ctx context.Context, o options) (core.EmbeddingProvider, core.EmbeddingProvider, core.LLMProvider, error) {
	emb, query, gen := o.embedder, o.embedder, o.llm
	if emb == nil {
		g, err := llm.NewGeminiEmbedder(ctx, a.Config.AIAPIKey, a.Config.EmbedModel)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
		}
		a.closers = append(a.closers, g.Close)
		emb, query = g, g.ForQueries()
	}
	if gen == nil {
		g, err := llm.NewGeminiLLM(ctx, a.Config.AIAPIKey, a.Config.GenModel)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("couldn't initialize the llm: %w", err)
		}
		a.closers = append(a.closers, g.Close)
		gen = g
	}
	return emb, query, gen, nil
}

// Run serves HTTP until ctx is cancelled, then drains in-flight ingestion
// and shuts the server down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Log.Info("HTTP server listening", zap.String("addr", a.Server.Addr()))
		if err := a.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return errors.Join(
			a.Server.Shutdown(shutdownCtx),
			a.Dispatcher.Close(drainTimeout),
		)
	})

	return g.Wait()
}

// Close releases clients in reverse construction order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
