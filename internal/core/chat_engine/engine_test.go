package chat_engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/core/cache"
	db "github.com/markdave123-py/docchat/internal/core/database"
	vectorindex "github.com/markdave123-py/docchat/internal/core/vector-index"
	"github.com/markdave123-py/docchat/internal/models"
)

const owner = "user-1"

// axisEmbedder maps a text to a 2-d vector by keyword so retrieval order is predictable.
type axisEmbedder struct{}

func (axisEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		switch {
		case strings.Contains(t, "cats"):
			out[i] = []float32{1, 0}
		case strings.Contains(t, "dogs"):
			out[i] = []float32{0, 1}
		default:
			out[i] = []float32{1, 1}
		}
	}
	return out, nil
}

type scriptedLLM struct {
	mu      sync.Mutex
	replies []reply
	systems []string
	users   []string
}

type reply struct {
	text string
	err  error
}

func (s *scriptedLLM) Generate(_ context.Context, system, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systems = append(s.systems, system)
	s.users = append(s.users, user)
	if len(s.replies) == 0 {
		return "default answer", nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.text, r.err
}

func (s *scriptedLLM) ModelName() string { return "scripted-1" }

type failingTurns struct {
	*db.MemoryClient
}

func (f failingTurns) AppendChatTurn(context.Context, *models.ChatTurn) error {
	return errors.New("disk full")
}

// reprocessedAfterRead returns the stored row, then flips it to processing and
// invalidates the cache before the caller gets the snapshot back.
type reprocessedAfterRead struct {
	*db.MemoryClient
	cache *cache.DocumentCache
	once  sync.Once
}

func (r *reprocessedAfterRead) GetDocument(ctx context.Context, id, ownerID string) (*models.Document, error) {
	doc, err := r.MemoryClient.GetDocument(ctx, id, ownerID)
	r.once.Do(func() {
		_ = r.MemoryClient.UpdateDocumentStatus(ctx, id, ownerID, models.StatusUpdate{Status: models.StatusProcessing})
		r.cache.Invalidate(id)
	})
	return doc, err
}

type fixture struct {
	db    *db.MemoryClient
	index *vectorindex.MemoryIndex
	llm   *scriptedLLM
	cache *cache.DocumentCache
}

func newFixture(t *testing.T, status models.DocumentStatus) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		db:    db.NewMemoryClient(),
		index: vectorindex.NewMemoryIndex(),
		llm:   &scriptedLLM{},
	}
	var err error
	f.cache, err = cache.NewDocumentCache(8)
	require.NoError(t, err)

	require.NoError(t, f.db.CreateDocument(ctx, &models.Document{
		ID: "doc-1", OwnerID: owner, FileName: "pets.txt", Format: models.FormatTXT, Status: status, ChunkCount: 3,
	}))
	recs := []core.VectorRecord{
		{ID: core.VectorID("doc-1", 0), Values: []float32{1, 0}, Metadata: core.VectorMetadata{DocumentID: "doc-1", OwnerID: owner, ChunkIndex: 0, Text: "cats purr"}},
		{ID: core.VectorID("doc-1", 1), Values: []float32{0, 1}, Metadata: core.VectorMetadata{DocumentID: "doc-1", OwnerID: owner, ChunkIndex: 1, Text: "dogs bark"}},
		{ID: core.VectorID("doc-1", 2), Values: []float32{0.9, 0.1}, Metadata: core.VectorMetadata{DocumentID: "doc-1", OwnerID: owner, ChunkIndex: 2, Text: "cats nap"}},
	}
	require.NoError(t, f.index.Upsert(ctx, "doc-1", recs))
	return f
}

func (f *fixture) engine(t *testing.T, dbc core.DbClient, topK int) *Engine {
	if dbc == nil {
		dbc = f.db
	}
	return NewEngine(dbc, axisEmbedder{}, f.index, f.llm, f.cache, topK, zaptest.NewLogger(t))
}

func TestAnswer_GroundedInRankedChunks(t *testing.T) {
	f := newFixture(t, models.StatusProcessed)
	prior := []models.ChatTurn{{UserMessage: "hello", AssistantResponse: "hi there"}}

	ans, err := f.engine(t, nil, 2).Answer(context.Background(), "doc-1", owner, "what do cats do?", prior)
	require.NoError(t, err)
	assert.Equal(t, "default answer", ans.Response)
	assert.Equal(t, 2, ans.ChunksUsed)
	assert.False(t, ans.IsFallback)
	assert.Equal(t, "scripted-1", ans.Model)

	require.Len(t, f.llm.systems, 1)
	sys := f.llm.systems[0]
	assert.Contains(t, sys, "pets.txt")
	assert.Less(t, strings.Index(sys, "[1] cats purr"), strings.Index(sys, "[2] cats nap"))
	assert.NotContains(t, sys, "dogs bark")
	assert.Contains(t, sys, "User: hello\nAssistant: hi there")
	assert.Equal(t, "what do cats do?", f.llm.users[0], "raw question is the user message")

	turns, err := f.db.ListChatTurns(context.Background(), "doc-1", owner)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, ans.TurnID, turns[0].ID)
	assert.Equal(t, 2, turns[0].Metadata.ChunksUsed)
}

func TestAnswer_DocumentNotReady(t *testing.T) {
	f := newFixture(t, models.StatusProcessing)

	_, err := f.engine(t, nil, 4).Answer(context.Background(), "doc-1", owner, "cats?", nil)
	assert.Equal(t, core.KindDocumentNotReady, core.KindOf(err))

	turns, _ := f.db.ListChatTurns(context.Background(), "doc-1", owner)
	assert.Empty(t, turns)
	assert.Empty(t, f.llm.systems)
}

func TestAnswer_OtherOwnerIsNotFound(t *testing.T) {
	f := newFixture(t, models.StatusProcessed)
	_, err := f.engine(t, nil, 4).Answer(context.Background(), "doc-1", "intruder", "cats?", nil)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestAnswer_FallbackIsMarkedAndPersisted(t *testing.T) {
	f := newFixture(t, models.StatusProcessed)
	f.llm.replies = []reply{{err: errors.New("503")}, {text: "general answer"}}

	ans, err := f.engine(t, nil, 4).Answer(context.Background(), "doc-1", owner, "cats?", nil)
	require.NoError(t, err)
	assert.True(t, ans.IsFallback)
	assert.Equal(t, "general answer", ans.Response)

	require.Len(t, f.llm.systems, 2)
	assert.NotContains(t, f.llm.systems[1], "cats purr", "fallback carries no context")
	assert.Contains(t, f.llm.systems[1], "pets.txt")

	turns, err := f.db.ListChatTurns(context.Background(), "doc-1", owner)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, turns[0].Metadata.IsFallback)
}

func TestAnswer_GenerationFailed(t *testing.T) {
	f := newFixture(t, models.StatusProcessed)
	f.llm.replies = []reply{{err: errors.New("503")}, {text: "  "}}

	_, err := f.engine(t, nil, 4).Answer(context.Background(), "doc-1", owner, "cats?", nil)
	assert.Equal(t, core.KindGeneration, core.KindOf(err))

	turns, _ := f.db.ListChatTurns(context.Background(), "doc-1", owner)
	assert.Empty(t, turns)
}

func TestAnswer_PersistenceFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, models.StatusProcessed)

	ans, err := f.engine(t, failingTurns{f.db}, 4).Answer(context.Background(), "doc-1", owner, "dogs?", nil)
	require.NoError(t, err)
	assert.Equal(t, "default answer", ans.Response)
	assert.Empty(t, ans.TurnID)
}

func TestAnswer_UsesDocumentCache(t *testing.T) {
	f := newFixture(t, models.StatusProcessed)
	e := f.engine(t, nil, 4)

	_, err := e.Answer(context.Background(), "doc-1", owner, "cats?", nil)
	require.NoError(t, err)
	_, ok := f.cache.Get("doc-1", owner)
	assert.True(t, ok)
}

func TestAnswer_SnapshotReadBeforeReprocessIsNotCached(t *testing.T) {
	f := newFixture(t, models.StatusProcessed)
	e := f.engine(t, &reprocessedAfterRead{MemoryClient: f.db, cache: f.cache}, 4)

	_, err := e.Answer(context.Background(), "doc-1", owner, "cats?", nil)
	require.NoError(t, err)
	_, ok := f.cache.Get("doc-1", owner)
	assert.False(t, ok)

	_, err = e.Answer(context.Background(), "doc-1", owner, "cats?", nil)
	assert.Equal(t, core.KindDocumentNotReady, core.KindOf(err))
}

func TestCompactHistory(t *testing.T) {
	var prior []models.ChatTurn
	for i := 0; i < 10; i++ {
		prior = append(prior, models.ChatTurn{UserMessage: strings.Repeat("q", 500), AssistantResponse: "a"})
	}
	h := compactHistory(prior)
	assert.Equal(t, maxHistoryTurns, strings.Count(h, "User: "))
	assert.Contains(t, h, strings.Repeat("q", maxHistoryRunes)+"…")
	assert.NotContains(t, h, strings.Repeat("q", maxHistoryRunes+1))
}
