package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docchat/internal/core"
	"github.com/markdave123-py/docchat/internal/core/chat_engine"
	"github.com/markdave123-py/docchat/internal/models"
)

type fakeService struct {
	docs    map[string]*models.Document
	turns   []models.ChatTurn
	asked   []string
	waited  int
	failGet error
}

func (f *fakeService) UploadAndCreate(_ context.Context, ownerID, filename, _ string, size int64, data io.Reader) (*models.Document, error) {
	if _, err := io.ReadAll(data); err != nil {
		return nil, err
	}
	doc := &models.Document{ID: "doc-1", OwnerID: ownerID, FileName: filename, SizeBytes: size, Format: models.FormatOf(filename), Status: models.StatusProcessed, ChunkCount: 3}
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakeService) Get(_ context.Context, id, _ string) (*models.Document, error) {
	if f.failGet != nil {
		return nil, f.failGet
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "get", "missing %s", id)
	}
	return d, nil
}

func (f *fakeService) List(context.Context, string) ([]models.Document, error) {
	var out []models.Document
	for _, d := range f.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeService) Reprocess(ctx context.Context, id, ownerID string) (*models.Document, error) {
	return f.Get(ctx, id, ownerID)
}

func (f *fakeService) Delete(_ context.Context, id, _ string) error {
	delete(f.docs, id)
	return nil
}

func (f *fakeService) Ask(_ context.Context, _, _, question string) (*chat_engine.Answer, error) {
	f.asked = append(f.asked, question)
	return &chat_engine.Answer{Response: "forty-two", ChunksUsed: 2}, nil
}

func (f *fakeService) History(context.Context, string, string) ([]models.ChatTurn, error) {
	return f.turns, nil
}

func setupTestServices(t *testing.T) *fakeService {
	t.Helper()
	fake := &fakeService{docs: map[string]*models.Document{}}
	documentService = fake
	waitIngestion = func() { fake.waited++ }
	t.Cleanup(func() {
		documentService = nil
		waitIngestion = func() {}
		ingestQuestions = nil
		rootCmd.SetArgs(nil)
	})
	return fake
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"ingest", "ask", "status", "list", "reprocess", "delete", "history", "serve"} {
		assert.Contains(t, names, want)
	}
}

func TestIngestCmd(t *testing.T) {
	fake := setupTestServices(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("some notes worth indexing"), 0o600))

	out, err := run(t, "ingest", path, "-q", "what is the answer?")
	require.NoError(t, err)

	assert.Contains(t, out, "Uploaded notes.txt as doc-1")
	assert.Contains(t, out, "Status: processed")
	assert.Contains(t, out, "Chunks: 3")
	assert.Contains(t, out, "A: forty-two")
	assert.Equal(t, 1, fake.waited)
	assert.Equal(t, []string{"what is the answer?"}, fake.asked)
}

func TestIngestCmd_RequiresExactlyOneArg(t *testing.T) {
	setupTestServices(t)
	_, err := run(t, "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestAskCmd_JoinsQuestion(t *testing.T) {
	fake := setupTestServices(t)
	out, err := run(t, "ask", "doc-1", "what", "is", "it?")
	require.NoError(t, err)
	assert.Equal(t, []string{"what is it?"}, fake.asked)
	assert.Contains(t, out, "(2 sections used)")
}

func TestStatusCmd_NotFound(t *testing.T) {
	setupTestServices(t)
	_, err := run(t, "status", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Document not found.")
}

func TestListAndDelete(t *testing.T) {
	fake := setupTestServices(t)
	fake.docs["doc-1"] = &models.Document{ID: "doc-1", FileName: "a.txt", Status: models.StatusProcessed}

	out, err := run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "Total: 1 documents")

	_, err = run(t, "delete", "doc-1")
	require.NoError(t, err)
	out, err = run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No documents found")
}

func TestHistoryCmd(t *testing.T) {
	fake := setupTestServices(t)
	fake.turns = []models.ChatTurn{{UserMessage: "why?", AssistantResponse: "because", CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}}

	out, err := run(t, "history", "doc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "[2025-03-01 12:00:00]")
	assert.Contains(t, out, "A: because")
}
