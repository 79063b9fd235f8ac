package ingestion_engine

import "context"

// Ingestor is what the upload path and the dispatcher depend on.
type Ingestor interface {
	// Ingest processes one document and returns its chunk count.
	Ingest(ctx context.Context, docID, ownerID string) (int, error)
	// Delete removes a document with its vectors, chat turns and stored object.
	Delete(ctx context.Context, docID, ownerID string) error
}

var _ Ingestor = (*DocumentIngestor)(nil)
