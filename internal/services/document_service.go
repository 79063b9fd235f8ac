package services

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/core/cache"
	"github.com/markdave123-py/docchat/internal/core/chat_engine"
	"github.com/markdave123-py/docchat/internal/core/ingestion_engine"
	"github.com/markdave123-py/docchat/internal/logger"
	"github.com/markdave123-py/docchat/internal/models"
)

// IngestDispatcher schedules background ingestion.
type IngestDispatcher interface {
	Dispatch(docID, ownerID string) error
}

// DocumentService is the surface the HTTP handlers and the CLI call.
type DocumentService struct {
	db         core.DbClient
	storage    core.ObjectClient
	ingestor   ingestion_engine.Ingestor
	dispatcher IngestDispatcher
	chat       *chat_engine.Engine
	cache      *cache.DocumentCache
	maxUpload  int64
	log        *zap.Logger
}

func NewDocumentService(
	db core.DbClient,
	storage core.ObjectClient,
	ing ingestion_engine.Ingestor,
	dispatcher IngestDispatcher,
	chat *chat_engine.Engine,
	docCache *cache.DocumentCache,
	maxUpload int64,
	log *zap.Logger,
) *DocumentService {
	return &DocumentService{
		db:         db,
		storage:    storage,
		ingestor:   ing,
		dispatcher: dispatcher,
		chat:       chat,
		cache:      docCache,
		maxUpload:  maxUpload,
		log:        logger.OrNop(log),
	}
}

// UploadAndCreate validates and stores the file, creates the uploading
// record and hands ingestion to the dispatcher without waiting for it.
func (s *DocumentService) UploadAndCreate(ctx context.Context, ownerID, filename, contentType string, size int64, data io.Reader) (*models.Document, error) {
	filename = cleanFilename(filename)
	if err := ingestion_engine.Validate(filename, size, s.maxUpload); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	docID := uuid.NewString()
	key := objectKey(ownerID, docID, filename)

	url, err := s.storage.UploadFile(ctx, key, io.LimitReader(data, size), contentType)
	if err != nil {
		return nil, core.E(core.KindStorage, "upload", err)
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:          docID,
		OwnerID:     ownerID,
		FileName:    filename,
		StorageKey:  key,
		StorageURL:  url,
		ContentType: contentType,
		SizeBytes:   size,
		Format:      models.FormatOf(filename),
		Status:      models.StatusUploading,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		if derr := s.storage.DeleteFile(context.WithoutCancel(ctx), key); derr != nil {
			s.log.Warn("orphaned upload", zap.String("key", key), zap.Error(derr))
		}
		return nil, core.E(core.KindInternal, "create document", err)
	}

	if err := s.dispatcher.Dispatch(doc.ID, ownerID); err != nil {
		msg := core.UserMessage(err)
		_ = s.db.UpdateDocumentStatus(context.WithoutCancel(ctx), doc.ID, ownerID, models.StatusUpdate{Status: models.StatusError, ErrorMessage: &msg})
		return nil, core.E(core.KindInternal, "dispatch ingestion", err)
	}

	s.log.Info("document uploaded",
		zap.String("document_id", doc.ID), zap.String("file_name", filename), zap.Int64("size", size))
	return doc, nil
}

// Get returns the document with its current status.
func (s *DocumentService) Get(ctx context.Context, id, ownerID string) (*models.Document, error) {
	if doc, ok := s.cache.Get(id, ownerID); ok {
		return doc, nil
	}
	epoch := s.cache.Epoch()
	doc, err := s.db.GetDocument(ctx, id, ownerID)
	if err != nil {
		return nil, core.E(core.KindInternal, "get document", err)
	}
	if doc == nil {
		return nil, core.Errorf(core.KindNotFound, "get document", "document %s not found", id)
	}
	s.cache.Put(doc, epoch)
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, ownerID string) ([]models.Document, error) {
	docs, err := s.db.ListDocumentsByOwner(ctx, ownerID)
	if err != nil {
		return nil, core.E(core.KindInternal, "list documents", err)
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

// Reprocess schedules an explicit retry. It is the only way a processed or
// failed document goes back to processing.
func (s *DocumentService) Reprocess(ctx context.Context, id, ownerID string) (*models.Document, error) {
	doc, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if doc.Status == models.StatusProcessing {
		return nil, core.Errorf(core.KindIngestionInProgress, "reprocess", "document %s is being processed", id)
	}
	if err := s.dispatcher.Dispatch(doc.ID, ownerID); err != nil {
		return nil, core.E(core.KindInternal, "dispatch ingestion", err)
	}
	return doc, nil
}

// Ingest runs ingestion in the caller's goroutine. The CLI uses it.
func (s *DocumentService) Ingest(ctx context.Context, id, ownerID string) (int, error) {
	return s.ingestor.Ingest(ctx, id, ownerID)
}

func (s *DocumentService) Delete(ctx context.Context, id, ownerID string) error {
	return s.ingestor.Delete(ctx, id, ownerID)
}

// Ask answers a question with the stored conversation as prior history.
func (s *DocumentService) Ask(ctx context.Context, id, ownerID, question string) (*chat_engine.Answer, error) {
	prior, err := s.db.ListChatTurns(ctx, id, ownerID)
	if err != nil {
		s.log.Warn("chat history unavailable", zap.String("document_id", id), zap.Error(err))
		prior = nil
	}
	return s.chat.Answer(ctx, id, ownerID, strings.TrimSpace(question), prior)
}

// History lists the chat turns of a document, oldest first.
func (s *DocumentService) History(ctx context.Context, id, ownerID string) ([]models.ChatTurn, error) {
	if _, err := s.Get(ctx, id, ownerID); err != nil {
		return nil, err
	}
	turns, err := s.db.ListChatTurns(ctx, id, ownerID)
	if err != nil {
		return nil, core.E(core.KindInternal, "list chat turns", err)
	}
	if turns == nil {
		turns = []models.ChatTurn{}
	}
	return turns, nil
}

func cleanFilename(filename string) string {
	filename = path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if filename == "." || filename == "/" {
		return ""
	}
	return filename
}

// objectKey creates a consistent storage key layout.
func objectKey(ownerID, docID, filename string) string {
	return path.Join("users", ownerID, "documents", docID, strings.ReplaceAll(filename, " ", "_"))
}
