package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/core/cache"
	db "github.com/markdave123-py/docchat/internal/core/database"
	"github.com/markdave123-py/docchat/internal/core/llm"
	objectclient "github.com/markdave123-py/docchat/internal/core/object-client"
	vectorindex "github.com/markdave123-py/docchat/internal/core/vector-index"
	"github.com/markdave123-py/docchat/internal/models"
)

const owner = "user-1"

// fakeEmbedder returns a small deterministic vector per text. failOnCall
// makes the n-th call fail; block makes every call wait for release or ctx.
type fakeEmbedder struct {
	calls      atomic.Int32
	failOnCall int32
	block      bool
	entered    chan struct{}
	release    chan struct{}
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	call := f.calls.Add(1)
	if f.block {
		if f.entered != nil {
			f.entered <- struct{}{}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.release:
		}
	}
	if f.failOnCall > 0 && call == f.failOnCall {
		return nil, errors.New("upstream 503")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, float32(strings.Count(t, "o"))}
	}
	return out, nil
}

type countingStore struct {
	*objectclient.MemoryClient
	gets atomic.Int32
}

func (c *countingStore) GetFile(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	return c.MemoryClient.GetFile(ctx, key)
}

type harness struct {
	db    *db.MemoryClient
	obj   *countingStore
	index *vectorindex.MemoryIndex
	cache *cache.DocumentCache
	ing   *DocumentIngestor
}

func newHarness(t *testing.T, emb core.EmbeddingProvider, cfg IngestConfig) *harness {
	t.Helper()
	docCache, err := cache.NewDocumentCache(16)
	require.NoError(t, err)

	h := &harness{
		db:    db.NewMemoryClient(),
		obj:   &countingStore{MemoryClient: objectclient.NewMemoryClient()},
		index: vectorindex.NewMemoryIndex(),
		cache: docCache,
	}
	h.ing, err = NewDocumentIngestor(h.db, h.obj, emb, h.index, NewDocconvExtractor(), docCache, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return h
}

func (h *harness) addDocument(t *testing.T, name, content string) *models.Document {
	t.Helper()
	ctx := context.Background()
	doc := &models.Document{
		ID:         uuid.NewString(),
		OwnerID:    owner,
		FileName:   name,
		SizeBytes:  int64(len(content)),
		Format:     models.FormatOf(name),
		Status:     models.StatusUploading,
		StorageKey: "users/" + owner + "/documents/" + name,
	}
	_, err := h.obj.UploadFile(ctx, doc.StorageKey, strings.NewReader(content), "text/plain")
	require.NoError(t, err)
	require.NoError(t, h.db.CreateDocument(ctx, doc))
	return doc
}

func (h *harness) document(t *testing.T, id string) *models.Document {
	t.Helper()
	doc, err := h.db.GetDocument(context.Background(), id, owner)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

func TestIngest_SmallTextIsOneChunk(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, IngestConfig{})
	doc := h.addDocument(t, "short.txt", strings.Repeat("abcde fghi", 5))

	n, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := h.document(t, doc.ID)
	assert.Equal(t, models.StatusProcessed, got.Status)
	assert.Equal(t, 1, got.ChunkCount)
	assert.Equal(t, 1, h.index.Count(doc.ID))
}

func TestIngest_2500CharactersIsThreeChunks(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, IngestConfig{ChunkSize: 1000, ChunkOverlap: 200})
	doc := h.addDocument(t, "long.txt", strings.Repeat("x", 2500))

	n, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, h.document(t, doc.ID).ChunkCount)
	assert.Equal(t, 3, h.index.Count(doc.ID))
}

func TestIngest_UnsupportedFormatBeforeDownload(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, IngestConfig{})
	doc := h.addDocument(t, "setup.exe", "MZ binary payload")

	_, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	assert.Equal(t, core.KindUnsupportedFormat, core.KindOf(err))
	assert.Zero(t, h.obj.gets.Load(), "no storage download")
	assert.Equal(t, models.StatusUploading, h.document(t, doc.ID).Status, "no status mutation")
}

func TestIngest_RevalidationFailureClearsOldVectors(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, IngestConfig{ChunkSize: 100, ChunkOverlap: 20})
	doc := h.addDocument(t, "five.txt", strings.Repeat("word ", 67))
	_, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	require.NoError(t, err)
	require.Equal(t, 5, h.index.Count(doc.ID))
	h.cache.Put(h.document(t, doc.ID), h.cache.Epoch())
	gets := h.obj.gets.Load()

	// The upload limit shrank since the document was first processed.
	h.ing.cfg.MaxUploadBytes = 100

	_, err = h.ing.Ingest(context.Background(), doc.ID, owner)
	assert.Equal(t, core.KindFileTooLarge, core.KindOf(err))
	assert.Zero(t, h.index.Count(doc.ID))
	assert.Equal(t, gets, h.obj.gets.Load(), "no storage download")

	got := h.document(t, doc.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, core.UserMessage(err), got.ErrorMessage)
	_, ok := h.cache.Get(doc.ID, owner)
	assert.False(t, ok)
}

func TestIngest_EmbeddingFailureLeavesNoVectors(t *testing.T) {
	emb := &fakeEmbedder{failOnCall: 2}
	gateway := llm.NewEmbeddingGateway(emb, llm.GatewayConfig{BatchSize: 1}, nil)
	h := newHarness(t, gateway, IngestConfig{ChunkSize: 100, ChunkOverlap: 20})
	doc := h.addDocument(t, "five.txt", strings.Repeat("word ", 67))
	require.Len(t, h.ing.chunker.Split(strings.Repeat("word ", 67)), 5)

	_, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	require.Error(t, err)
	assert.Equal(t, core.KindEmbedding, core.KindOf(err))
	assert.Equal(t, []int{1}, core.FailedBatchesOf(err))

	got := h.document(t, doc.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, core.UserMessage(err), got.ErrorMessage)
	assert.Zero(t, h.index.Count(doc.ID))
}

func TestIngest_PartialUpsertIsRolledBack(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, IngestConfig{ChunkSize: 100, ChunkOverlap: 20})
	h.index.FailUpsert = func(r core.VectorRecord) error {
		if r.Metadata.ChunkIndex == 3 {
			return errors.New("connection reset")
		}
		return nil
	}
	doc := h.addDocument(t, "five.txt", strings.Repeat("word ", 67))

	_, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	assert.Equal(t, core.KindVectorStore, core.KindOf(err))
	assert.Equal(t, models.StatusError, h.document(t, doc.ID).Status)
	assert.Zero(t, h.index.Count(doc.ID))
}

func TestIngest_ReingestIsIdempotent(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, IngestConfig{ChunkSize: 100, ChunkOverlap: 20})
	doc := h.addDocument(t, "five.txt", strings.Repeat("word ", 67))

	// A stale vector from an older chunking must not survive a retry.
	require.NoError(t, h.index.Upsert(context.Background(), doc.ID, []core.VectorRecord{{
		ID:       core.VectorID(doc.ID, 99),
		Values:   []float32{1, 1, 1},
		Metadata: core.VectorMetadata{DocumentID: doc.ID, OwnerID: owner, ChunkIndex: 99, Text: "stale"},
	}}))

	first, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	require.NoError(t, err)
	second, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 5, h.index.Count(doc.ID))
	got := h.document(t, doc.ID)
	assert.Equal(t, models.StatusProcessed, got.Status)
	assert.Equal(t, h.index.Count(doc.ID), got.ChunkCount)
}

func TestIngest_Timeout(t *testing.T) {
	emb := &fakeEmbedder{block: true, release: make(chan struct{})}
	h := newHarness(t, emb, IngestConfig{Timeout: 50 * time.Millisecond})
	doc := h.addDocument(t, "slow.txt", "this text takes forever to embed")

	_, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	assert.Equal(t, core.KindTimeout, core.KindOf(err))

	got := h.document(t, doc.ID)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, core.UserMessage(core.E(core.KindTimeout, "", nil)), got.ErrorMessage)
}

func TestIngest_EmptyContent(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, IngestConfig{})
	doc := h.addDocument(t, "blank.txt", "  \n tiny \n  ")

	_, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	assert.Equal(t, core.KindEmptyContent, core.KindOf(err))
	assert.Equal(t, models.StatusError, h.document(t, doc.ID).Status)
}

func TestIngest_MissingObject(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, IngestConfig{})
	doc := h.addDocument(t, "gone.txt", "this file was uploaded and then lost")
	require.NoError(t, h.obj.DeleteFile(context.Background(), doc.StorageKey))

	_, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	assert.Equal(t, core.KindStorage, core.KindOf(err))
	assert.Equal(t, models.StatusError, h.document(t, doc.ID).Status)
}

func TestIngest_NotFoundForOtherOwner(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, IngestConfig{})
	doc := h.addDocument(t, "mine.txt", "owned by somebody else entirely")

	_, err := h.ing.Ingest(context.Background(), doc.ID, "intruder")
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestIngest_ConcurrentAttemptsAreRejected(t *testing.T) {
	emb := &fakeEmbedder{block: true, entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, emb, IngestConfig{})
	doc := h.addDocument(t, "busy.txt", "a document that is being processed")

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = h.ing.Ingest(context.Background(), doc.ID, owner)
	}()
	<-emb.entered

	assert.Equal(t, models.StatusProcessing, h.document(t, doc.ID).Status)
	_, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	assert.Equal(t, core.KindIngestionInProgress, core.KindOf(err))
	err = h.ing.Delete(context.Background(), doc.ID, owner)
	assert.Equal(t, core.KindIngestionInProgress, core.KindOf(err))

	close(emb.release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, models.StatusProcessed, h.document(t, doc.ID).Status)
}

func TestIngest_InvalidatesCache(t *testing.T) {
	h := newHarness(t, &fakeEmbedder{}, IngestConfig{})
	doc := h.addDocument(t, "cached.txt", "some text worth caching for a while")

	_, err := h.ing.Ingest(context.Background(), doc.ID, owner)
	require.NoError(t, err)
	h.cache.Put(h.document(t, doc.ID), h.cache.Epoch())
	_, ok := h.cache.Get(doc.ID, owner)
	require.True(t, ok)

	_, err = h.ing.Ingest(context.Background(), doc.ID, owner)
	require.NoError(t, err)
	_, ok = h.cache.Get(doc.ID, owner)
	assert.False(t, ok)
}

func TestDelete_RemovesEverything(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeEmbedder{}, IngestConfig{})
	doc := h.addDocument(t, "bye.txt", "a document that will be deleted soon")
	_, err := h.ing.Ingest(ctx, doc.ID, owner)
	require.NoError(t, err)
	require.NoError(t, h.db.AppendChatTurn(ctx, &models.ChatTurn{ID: "t1", DocumentID: doc.ID, OwnerID: owner}))

	require.NoError(t, h.ing.Delete(ctx, doc.ID, owner))

	got, err := h.db.GetDocument(ctx, doc.ID, owner)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, h.index.Count(doc.ID))
	assert.False(t, h.obj.Has(doc.StorageKey))
	turns, err := h.db.ListChatTurns(ctx, doc.ID, owner)
	require.NoError(t, err)
	assert.Empty(t, turns)

	assert.Equal(t, core.KindNotFound, core.KindOf(h.ing.Delete(ctx, doc.ID, owner)))
}
