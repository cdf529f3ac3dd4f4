package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embedder binds a Client to one embeddings model.
type Embedder struct {
	client *Client
	model  string
}

func NewEmbedder(c *Client, model string) (*Embedder, error) {
	if c == nil {
		return nil, errors.New("openai: client must not be nil")
	}
	if model == "" {
		return nil, errors.New("openai: embedding model must not be empty")
	}
	return &Embedder{client: c, model: model}, nil
}

func (e *Embedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return e.client.Embed(ctx, e.model, inputs)
}

// Embed returns one vector per input, in input order.
func (c *Client) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	url := embeddingsURL(c.baseURL)
	req, err := c.newJSONRequest(ctx, url, embeddingsRequest{Model: model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("openai: embeddings: %w", err)
	}

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return nil, fmt.Errorf("openai: embeddings request failed: %w", err)
	}

	var payload embeddingsResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("openai: decode embeddings response: %w", err)
	}
	if len(payload.Data) != len(inputs) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(inputs), len(payload.Data))
	}

	out := make([][]float32, len(inputs))
	for _, d := range payload.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
