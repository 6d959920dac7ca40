package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/WessleyAI/wessley-garage/pkg/llm"
)

// ChatClient implements llm.Completer using Ollama's /api/chat endpoint.
type ChatClient struct {
	conn
	model string
}

// NewChatClient returns a chat client whose default model is model.
func NewChatClient(baseURL, model string) *ChatClient {
	return &ChatClient{conn: newConn(baseURL), model: model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatReq struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResp struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// Complete sends one non-streaming chat request.
func (c *ChatClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	model := c.model
	if req.Params.Model != "" {
		model = req.Params.Model
	}
	msgs := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.UserMessage})

	var out chatResp
	err := c.post(ctx, "/api/chat", chatReq{
		Model:    model,
		Messages: msgs,
		Options:  chatOptions{Temperature: req.Params.Temperature, NumPredict: req.Params.MaxTokens},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return "", llm.ErrEmptyCompletion
	}
	return out.Message.Content, nil
}

var _ llm.Completer = (*ChatClient)(nil)
