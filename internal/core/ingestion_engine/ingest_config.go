package ingestion_engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/core/cache"
)

const (
	DefaultIngestTimeout = 5 * time.Minute
	// MinContentChars is the shortest trimmed text worth indexing.
	MinContentChars = 10
	// maxStoredTextRunes bounds the chunk text kept in vector metadata.
	maxStoredTextRunes = 4000
)

// IngestConfig tunes the pipeline.
//
// ChunkSize/ChunkOverlap: window and overlap in characters.
// KeepParagraphs:         keep blank lines as cut candidates when chunking.
// MaxUploadBytes:         size ceiling enforced before and after download.
// Timeout:                deadline for the whole processing phase.
type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	KeepParagraphs bool
	MaxUploadBytes int64
	Timeout        time.Duration
}

func (c IngestConfig) withDefaults() IngestConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = min(DefaultChunkOverlap, c.ChunkSize/5)
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultIngestTimeout
	}
	return c
}

// DocumentIngestor runs the per-document state machine:
//
// db:        document records.
// obj:       object storage holding the uploaded bytes.
// embedder:  embedding gateway (batched and paced).
// index:     vector index.
// extractor: bytes to text.
// chunker:   text to windows.
// cache:     processed-document cache, invalidated on every status change.
// locks:     advisory per-document lock.
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	embedder  core.EmbeddingProvider
	index     core.VectorIndex
	extractor core.DocumentExtractor
	chunker   *Chunker
	cache     *cache.DocumentCache
	locks     *keyedLock
	cfg       IngestConfig
	log       *zap.Logger
}

// keyedLock is a non-blocking set of held keys.
type keyedLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{held: make(map[string]struct{})}
}

func (l *keyedLock) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

func (l *keyedLock) Unlock(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}
