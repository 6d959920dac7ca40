package ollama

import (
	"context"
	"errors"
	"fmt"

	"github.com/WessleyAI/wessley-garage/pkg/llm"
)

// EmbedClient implements llm.Embedder with Ollama's /api/embed endpoint.
type EmbedClient struct {
	conn
	model string
}

// NewEmbedClient returns an embedding client for model.
func NewEmbedClient(baseURL, model string) *EmbedClient {
	return &EmbedClient{conn: newConn(baseURL), model: model}
}

type embedReq struct {
	Model    string `json:"model"`
	Input    string `json:"input"`
	Truncate bool   `json:"truncate"`
}

type embedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding of text. Input longer than the model's
// context is truncated by the server.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResp
	if err := c.post(ctx, "/api/embed", embedReq{Model: c.model, Input: text, Truncate: true}, &out); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, errors.New("ollama embed: empty embedding")
	}
	return out.Embeddings[0], nil
}

var _ llm.Embedder = (*EmbedClient)(nil)
