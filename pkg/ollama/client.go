// Package ollama talks to an Ollama server for embeddings and chat
// completions.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// conn is the HTTP plumbing shared by the chat and embedding clients.
type conn struct {
	baseURL string
	http    *http.Client
}

func newConn(baseURL string) conn {
	return conn{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{}}
}

// apiError is the body Ollama sends with a non-200 status.
type apiError struct {
	Error string `json:"error"`
}

// post sends in as JSON to path and decodes the reply into out.
func (c conn) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e apiError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
