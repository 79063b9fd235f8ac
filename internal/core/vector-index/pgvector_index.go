package vectorindex

import (
	"context"
	"database/sql"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/logger"
)

const DefaultUpsertBatchSize = 100

// PgVectorIndex stores chunk embeddings in the document_vectors table and
// ranks them by cosine similarity.
type PgVectorIndex struct {
	db        *sql.DB
	dim       int
	batchSize int
	log       *zap.Logger
}

var _ core.VectorIndex = (*PgVectorIndex)(nil)

func NewPgVectorIndex(db *sql.DB, dim, batchSize int, log *zap.Logger) *PgVectorIndex {
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatchSize
	}
	return &PgVectorIndex{db: db, dim: dim, batchSize: batchSize, log: logger.OrNop(log)}
}

// Upsert writes records in batches, one transaction per batch. Every batch is
// attempted; the returned error lists the indices of the batches that failed.
func (p *PgVectorIndex) Upsert(ctx context.Context, documentID string, records []core.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkRecords(documentID, records, p.dim); err != nil {
		return err
	}

	var (
		failed  []int
		lastErr error
	)
	for b, start := 0, 0; start < len(records); b, start = b+1, start+p.batchSize {
		end := min(start+p.batchSize, len(records))
		if err := p.upsertBatch(ctx, records[start:end]); err != nil {
			p.log.Warn("vector upsert batch failed",
				zap.String("document_id", documentID), zap.Int("batch", b), zap.Error(err))
			failed = append(failed, b)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
	}
	if len(failed) > 0 {
		e := core.E(core.KindVectorStore, "vector upsert", lastErr)
		e.FailedBatches = failed
		return e
	}
	return nil
}

func (p *PgVectorIndex) upsertBatch(ctx context.Context, batch []core.VectorRecord) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_vectors (id, document_id, owner_id, chunk_index, text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
		    chunk_index = EXCLUDED.chunk_index,
		    text = EXCLUDED.text,
		    embedding = EXCLUDED.embedding
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range batch {
		r := &batch[i]
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Metadata.DocumentID, r.Metadata.OwnerID, r.Metadata.ChunkIndex, r.Metadata.Text,
			pgvector.NewVector(r.Values),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (p *PgVectorIndex) Query(ctx context.Context, documentID, ownerID string, vector []float32, topK int) ([]core.VectorMatch, error) {
	if topK <= 0 {
		return nil, nil
	}
	if p.dim > 0 && len(vector) != p.dim {
		return nil, core.Errorf(core.KindVectorStore, "vector query", "query vector has %d dimensions, index expects %d", len(vector), p.dim)
	}

	const q = `
		SELECT chunk_index, text, 1 - (embedding <=> $3) AS score
		FROM document_vectors
		WHERE document_id = $1 AND owner_id = $2
		ORDER BY embedding <=> $3
		LIMIT $4
	`
	rows, err := p.db.QueryContext(ctx, q, documentID, ownerID, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, core.E(core.KindVectorStore, "vector query", err)
	}
	defer rows.Close()

	var out []core.VectorMatch
	for rows.Next() {
		var (
			m     core.VectorMatch
			score float64
		)
		if err := rows.Scan(&m.ChunkIndex, &m.Text, &score); err != nil {
			return nil, core.E(core.KindVectorStore, "vector query", err)
		}
		m.Score = float32(score)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, core.E(core.KindVectorStore, "vector query", err)
	}
	return out, nil
}

func (p *PgVectorIndex) DeleteAll(ctx context.Context, documentID, ownerID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM document_vectors WHERE document_id = $1 AND owner_id = $2`, documentID, ownerID)
	if err != nil {
		return core.E(core.KindVectorStore, "vector delete", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		p.log.Debug("vectors deleted", zap.String("document_id", documentID), zap.Int64("count", n))
	}
	return nil
}

// checkRecords rejects records that belong to another document or carry the
// wrong dimension before anything is written.
func checkRecords(documentID string, records []core.VectorRecord, dim int) error {
	for _, r := range records {
		if r.Metadata.DocumentID != documentID {
			return core.Errorf(core.KindVectorStore, "vector upsert", "record %s belongs to document %q", r.ID, r.Metadata.DocumentID)
		}
		if dim > 0 && len(r.Values) != dim {
			return core.Errorf(core.KindVectorStore, "vector upsert", "record %s has %d dimensions, index expects %d", r.ID, len(r.Values), dim)
		}
	}
	return nil
}
