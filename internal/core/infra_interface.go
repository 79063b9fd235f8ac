package core

import (
	"context"
	"fmt"
	"io"

	"github.com/markdave123-py/docchat/internal/models"
)

// DbClient defines all persistence operations the services need.
// Every document and chat read or write is scoped by owner id.
// Lookups of missing rows return (nil, nil).
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id, ownerID string) (*models.Document, error)
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id, ownerID string, upd models.StatusUpdate) error
	DeleteDocument(ctx context.Context, id, ownerID string) error

	AppendChatTurn(ctx context.Context, turn *models.ChatTurn) error
	ListChatTurns(ctx context.Context, documentID, ownerID string) ([]models.ChatTurn, error)
	DeleteChatTurns(ctx context.Context, documentID, ownerID string) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)
	GetFile(ctx context.Context, key string) ([]byte, error)
	DeleteFile(ctx context.Context, key string) error
	PublicURL(key string) string
}

// VectorMetadata is stored with every vector and used for filtering.
type VectorMetadata struct {
	DocumentID string
	OwnerID    string
	ChunkIndex int
	Text       string
}

// VectorRecord is one embedding to upsert.
type VectorRecord struct {
	ID       string
	Values   []float32
	Metadata VectorMetadata
}

// VectorMatch is one ranked retrieval result.
type VectorMatch struct {
	ChunkIndex int
	Text       string
	Score      float32
}

// VectorIndex wraps the vector database. Upserts are idempotent by record id.
type VectorIndex interface {
	Upsert(ctx context.Context, documentID string, records []VectorRecord) error
	Query(ctx context.Context, documentID, ownerID string, vector []float32, topK int) ([]VectorMatch, error)
	DeleteAll(ctx context.Context, documentID, ownerID string) error
}

// VectorID is the deterministic vector id of a document chunk.
func VectorID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s#%d", documentID, chunkIndex)
}
