package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/markdave123-py/docchat/internal/core"
)

type memoryEntry struct {
	meta   core.VectorMetadata
	vector []float32
}

// MemoryIndex is a thread-safe in-process VectorIndex ranked by cosine
// similarity. It backs local mode and the pipeline tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	// FailUpsert, when set, is consulted once per record; a non-nil result
	// aborts the upsert with a vector store error.
	FailUpsert func(rec core.VectorRecord) error
}

var _ core.VectorIndex = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]memoryEntry)}
}

func (m *MemoryIndex) Upsert(_ context.Context, documentID string, records []core.VectorRecord) error {
	if err := checkRecords(documentID, records, 0); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if m.FailUpsert != nil {
			if err := m.FailUpsert(r); err != nil {
				return core.E(core.KindVectorStore, "vector upsert", err)
			}
		}
		vec := make([]float32, len(r.Values))
		copy(vec, r.Values)
		m.entries[r.ID] = memoryEntry{meta: r.Metadata, vector: vec}
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, documentID, ownerID string, vector []float32, topK int) ([]core.VectorMatch, error) {
	if topK <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []core.VectorMatch
	for _, e := range m.entries {
		if e.meta.DocumentID != documentID || e.meta.OwnerID != ownerID {
			continue
		}
		if len(e.vector) != len(vector) {
			return nil, core.Errorf(core.KindVectorStore, "vector query", "dimension mismatch: %d vs %d", len(e.vector), len(vector))
		}
		out = append(out, core.VectorMatch{
			ChunkIndex: e.meta.ChunkIndex,
			Text:       e.meta.Text,
			Score:      cosineSimilarity(vector, e.vector),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ChunkIndex < out[j].ChunkIndex
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *MemoryIndex) DeleteAll(_ context.Context, documentID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.meta.DocumentID == documentID && e.meta.OwnerID == ownerID {
			delete(m.entries, id)
		}
	}
	return nil
}

// Count returns the number of vectors stored for a document.
func (m *MemoryIndex) Count(documentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.meta.DocumentID == documentID {
			n++
		}
	}
	return n
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
