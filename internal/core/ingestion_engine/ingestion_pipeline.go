package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/core/cache"
	"github.com/markdave123-py/docchat/internal/logger"
	"github.com/markdave123-py/docchat/internal/models"
)

const cleanupTimeout = 30 * time.Second

// NewDocumentIngestor wires the pipeline stages. docCache may be nil.
func NewDocumentIngestor(
	db core.DbClient,
	obj core.ObjectClient,
	emb core.EmbeddingProvider,
	index core.VectorIndex,
	extractor core.DocumentExtractor,
	docCache *cache.DocumentCache,
	cfg IngestConfig,
	log *zap.Logger,
) (*DocumentIngestor, error) {
	cfg = cfg.withDefaults()
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.KeepParagraphs)
	if err != nil {
		return nil, err
	}
	return &DocumentIngestor{
		db:        db,
		obj:       obj,
		embedder:  emb,
		index:     index,
		extractor: extractor,
		chunker:   chunker,
		cache:     docCache,
		locks:     newKeyedLock(),
		cfg:       cfg,
		log:       logger.OrNop(log),
	}, nil
}

// Ingest moves a document through processing to processed or error. It is
// the first-time path and the explicit retry path. Validation failures are
// returned before any I/O or status change.
func (i *DocumentIngestor) Ingest(ctx context.Context, docID, ownerID string) (int, error) {
	if !i.locks.TryLock(docID) {
		return 0, core.Errorf(core.KindIngestionInProgress, "ingest", "document %s is already being processed", docID)
	}
	defer i.locks.Unlock(docID)

	doc, err := i.db.GetDocument(ctx, docID, ownerID)
	if err != nil {
		return 0, core.E(core.KindInternal, "ingest: load document", err)
	}
	if doc == nil {
		return 0, core.Errorf(core.KindNotFound, "ingest", "document %s not found", docID)
	}
	if err := Validate(doc.FileName, doc.SizeBytes, i.cfg.MaxUploadBytes); err != nil {
		// A fresh upload has nothing indexed yet. A reprocessed document may,
		// and those vectors must not outlive its error status.
		if doc.Status != models.StatusUploading {
			i.fail(ctx, doc, err)
		}
		return 0, err
	}

	zero, cleared := 0, ""
	if err := i.setStatus(ctx, doc, models.StatusUpdate{Status: models.StatusProcessing, ChunkCount: &zero, ErrorMessage: &cleared}); err != nil {
		return 0, core.E(core.KindInternal, "ingest: mark processing", err)
	}

	log := i.log.With(zap.String("document_id", doc.ID), zap.String("file_name", doc.FileName))
	log.Info("ingestion started")
	started := time.Now()

	pctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	n, err := i.process(pctx, doc)
	if err == nil {
		if uerr := i.setStatus(ctx, doc, models.StatusUpdate{Status: models.StatusProcessed, ChunkCount: &n}); uerr != nil {
			err = core.E(core.KindInternal, "ingest: mark processed", uerr)
		}
	}
	if err != nil {
		if errors.Is(pctx.Err(), context.DeadlineExceeded) && !core.Is(err, core.KindTimeout) {
			err = core.E(core.KindTimeout, "ingest", err)
		}
		i.fail(ctx, doc, err)
		log.Error("ingestion failed",
			zap.String("kind", string(core.KindOf(err))), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return 0, err
	}

	log.Info("ingestion finished", zap.Int("chunks", n), zap.Duration("elapsed", time.Since(started)))
	return n, nil
}

// process runs download, validate, extract, chunk, embed and upsert in order.
// Nothing is written to the index until every embedding has succeeded.
func (i *DocumentIngestor) process(ctx context.Context, doc *models.Document) (int, error) {
	if err := i.index.DeleteAll(ctx, doc.ID, doc.OwnerID); err != nil {
		return 0, tag(core.KindVectorStore, "clear vectors", err)
	}

	text, err := i.readText(ctx, doc)
	if err != nil {
		return 0, err
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < MinContentChars {
		return 0, core.Errorf(core.KindEmptyContent, "extract", "extracted text is shorter than %d characters", MinContentChars)
	}

	chunks := i.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, core.Errorf(core.KindEmptyContent, "chunk", "no chunks produced")
	}

	texts := make([]string, len(chunks))
	for k, ch := range chunks {
		texts[k] = ch.Text
	}
	vectors, err := i.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, tag(core.KindEmbedding, "embed", err)
	}
	if len(vectors) != len(chunks) {
		return 0, core.Errorf(core.KindEmbedding, "embed", "got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	records := make([]core.VectorRecord, len(chunks))
	for k, ch := range chunks {
		records[k] = core.VectorRecord{
			ID:     core.VectorID(doc.ID, ch.Index),
			Values: vectors[k],
			Metadata: core.VectorMetadata{
				DocumentID: doc.ID,
				OwnerID:    doc.OwnerID,
				ChunkIndex: ch.Index,
				Text:       truncateRunes(ch.Text, maxStoredTextRunes),
			},
		}
	}
	if err := i.index.Upsert(ctx, doc.ID, records); err != nil {
		return 0, tag(core.KindVectorStore, "upsert", err)
	}
	return len(records), nil
}

// readText downloads the stored file and extracts its text. The raw bytes
// do not outlive this call.
func (i *DocumentIngestor) readText(ctx context.Context, doc *models.Document) (string, error) {
	raw, err := i.obj.GetFile(ctx, doc.StorageKey)
	if err != nil {
		return "", tag(core.KindStorage, "download", err)
	}
	if err := Validate(doc.FileName, int64(len(raw)), i.cfg.MaxUploadBytes); err != nil {
		return "", err
	}
	text, err := i.extractor.Extract(ctx, raw, doc.FileName)
	if err != nil {
		return "", tag(core.KindExtractionFailed, "extract", err)
	}
	return text, nil
}

// fail removes any vectors written during the attempt and records the error.
// It uses a fresh deadline so an expired processing context cannot block it.
func (i *DocumentIngestor) fail(ctx context.Context, doc *models.Document, cause error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := i.index.DeleteAll(cctx, doc.ID, doc.OwnerID); err != nil {
		i.log.Error("vector cleanup failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
	msg := core.UserMessage(cause)
	if err := i.setStatus(cctx, doc, models.StatusUpdate{Status: models.StatusError, ErrorMessage: &msg}); err != nil {
		i.log.Error("could not record ingestion error", zap.String("document_id", doc.ID), zap.Error(err))
	}
}

// Delete removes vectors first, then chat turns, the stored object and the
// record. A failed vector delete leaves everything in place.
func (i *DocumentIngestor) Delete(ctx context.Context, docID, ownerID string) error {
	if !i.locks.TryLock(docID) {
		return core.Errorf(core.KindIngestionInProgress, "delete", "document %s is being processed", docID)
	}
	defer i.locks.Unlock(docID)

	doc, err := i.db.GetDocument(ctx, docID, ownerID)
	if err != nil {
		return core.E(core.KindInternal, "delete: load document", err)
	}
	if doc == nil {
		return core.Errorf(core.KindNotFound, "delete", "document %s not found", docID)
	}

	if err := i.index.DeleteAll(ctx, docID, ownerID); err != nil {
		return tag(core.KindVectorStore, "delete vectors", err)
	}
	if err := i.db.DeleteChatTurns(ctx, docID, ownerID); err != nil {
		return core.E(core.KindInternal, "delete chat turns", err)
	}
	if doc.StorageKey != "" {
		if err := i.obj.DeleteFile(ctx, doc.StorageKey); err != nil {
			i.log.Warn("stored object not deleted", zap.String("document_id", docID), zap.String("key", doc.StorageKey), zap.Error(err))
		}
	}
	if err := i.db.DeleteDocument(ctx, docID, ownerID); err != nil {
		return core.E(core.KindInternal, "delete document", err)
	}
	i.cache.Invalidate(docID)

	i.log.Info("document deleted", zap.String("document_id", docID))
	return nil
}

func (i *DocumentIngestor) setStatus(ctx context.Context, doc *models.Document, upd models.StatusUpdate) error {
	defer i.cache.Invalidate(doc.ID)
	return i.db.UpdateDocumentStatus(ctx, doc.ID, doc.OwnerID, upd)
}

// tag keeps an existing kind and otherwise applies the given one.
func tag(kind core.Kind, op string, err error) error {
	var e *core.Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.E(core.KindTimeout, op, err)
	}
	return core.E(kind, op, err)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
