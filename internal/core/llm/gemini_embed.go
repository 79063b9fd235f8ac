package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/docchat/internal/core"
)

// GeminiEmbedder embeds chunk texts for retrieval. ForQueries derives the
// embedder used on the question side.
type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	taskType  genai.TaskType
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName, taskType: genai.TaskTypeRetrievalDocument}, nil
}

// ForQueries returns an embedder sharing g's client that embeds search
// queries. Only the original embedder should be closed.
func (g *GeminiEmbedder) ForQueries() *GeminiEmbedder {
	q := *g
	q.taskType = genai.TaskTypeRetrievalQuery
	return &q
}

func (g *GeminiEmbedder) TaskType() genai.TaskType { return g.taskType }

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts sends all texts in one BatchEmbedContents request. Callers
// bound the request size through EmbeddingGateway.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = g.taskType

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
