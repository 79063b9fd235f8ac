package chat_engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/core/cache"
	"github.com/markdave123-py/docchat/internal/logger"
	"github.com/markdave123-py/docchat/internal/models"
)

const DefaultTopK = 4

// Answer is the result of one question.
type Answer struct {
	TurnID     string `json:"turn_id"`
	Response   string `json:"response"`
	ChunksUsed int    `json:"chunks_used"`
	IsFallback bool   `json:"is_fallback"`
	Model      string `json:"model"`
}

// Engine answers questions about one processed document at a time using
// the chunks retrieved for the question as grounding.
type Engine struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
	index    core.VectorIndex
	llm      core.LLMProvider
	cache    *cache.DocumentCache
	topK     int
	log      *zap.Logger
}

func NewEngine(
	db core.DbClient,
	emb core.EmbeddingProvider,
	index core.VectorIndex,
	llm core.LLMProvider,
	docCache *cache.DocumentCache,
	topK int,
	log *zap.Logger,
) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{
		db:       db,
		embedder: emb,
		index:    index,
		llm:      llm,
		cache:    docCache,
		topK:     topK,
		log:      logger.OrNop(log),
	}
}

// Answer retrieves context for question, generates a reply and records the
// turn. If the grounded generation fails a context-free reply is attempted
// and marked IsFallback. A failure to record the turn is only logged.
func (e *Engine) Answer(ctx context.Context, docID, ownerID, question string, prior []models.ChatTurn) (*Answer, error) {
	doc, err := e.readyDocument(ctx, docID, ownerID)
	if err != nil {
		return nil, err
	}

	vecs, err := e.embedder.EmbedTexts(ctx, []string{question})
	if err != nil {
		return nil, tag(core.KindEmbedding, "embed question", err)
	}
	if len(vecs) != 1 {
		return nil, core.Errorf(core.KindEmbedding, "embed question", "got %d vectors for 1 text", len(vecs))
	}

	matches, err := e.index.Query(ctx, doc.ID, ownerID, vecs[0], e.topK)
	if err != nil {
		return nil, tag(core.KindVectorStore, "retrieve", err)
	}

	ans := &Answer{ChunksUsed: len(matches), Model: e.llm.ModelName()}
	ans.Response, err = e.llm.Generate(ctx, systemPrompt(doc, matches, prior), question)
	if err != nil || strings.TrimSpace(ans.Response) == "" {
		primaryErr := err
		if primaryErr == nil {
			primaryErr = errors.New("empty completion")
		}
		e.log.Warn("grounded generation failed, falling back",
			zap.String("document_id", doc.ID), zap.Error(primaryErr))

		ans.Response, err = e.llm.Generate(ctx, fallbackPrompt(doc), question)
		if err == nil && strings.TrimSpace(ans.Response) == "" {
			err = errors.New("empty completion")
		}
		if err != nil {
			return nil, core.E(core.KindGeneration, "generate", errors.Join(primaryErr, err))
		}
		ans.IsFallback = true
		ans.ChunksUsed = 0
	}

	turn := &models.ChatTurn{
		ID:                uuid.NewString(),
		DocumentID:        doc.ID,
		OwnerID:           ownerID,
		UserMessage:       question,
		AssistantResponse: ans.Response,
		Metadata: models.TurnMetadata{
			ChunksUsed: ans.ChunksUsed,
			Model:      ans.Model,
			IsFallback: ans.IsFallback,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := e.db.AppendChatTurn(ctx, turn); err != nil {
		e.log.Error("chat turn not saved", zap.String("document_id", doc.ID), zap.Error(err))
	} else {
		ans.TurnID = turn.ID
	}

	e.log.Info("question answered",
		zap.String("document_id", doc.ID),
		zap.Int("chunks_used", ans.ChunksUsed),
		zap.Bool("fallback", ans.IsFallback))
	return ans, nil
}

// readyDocument loads the document through the cache and requires it to be processed.
func (e *Engine) readyDocument(ctx context.Context, docID, ownerID string) (*models.Document, error) {
	if doc, ok := e.cache.Get(docID, ownerID); ok {
		return doc, nil
	}
	epoch := e.cache.Epoch()
	doc, err := e.db.GetDocument(ctx, docID, ownerID)
	if err != nil {
		return nil, core.E(core.KindInternal, "load document", err)
	}
	if doc == nil {
		return nil, core.Errorf(core.KindNotFound, "answer", "document %s not found", docID)
	}
	if doc.Status != models.StatusProcessed {
		return nil, core.Errorf(core.KindDocumentNotReady, "answer", "document %s is %s", docID, doc.Status)
	}
	e.cache.Put(doc, epoch)
	return doc, nil
}

func tag(kind core.Kind, op string, err error) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.E(core.KindTimeout, op, err)
	}
	return core.E(kind, op, err)
}
