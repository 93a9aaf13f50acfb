package ai

import (
	"context"
	"encoding/json"
	"fmt"
)

// EmbeddingConfig holds API settings for text-embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// Dimensions is sent only when positive; not every provider accepts it.
	Dimensions int
}

// EmbeddingUsage is the token accounting reported by the provider.
type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
	Dimensions     int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage EmbeddingUsage `json:"usage"`
}

// EmbedBatch sends all texts in one request and returns one vector per text, in input
// order. Responses are reordered by their index field.
func (c *OpenAICompatibleClient) EmbedBatch(ctx context.Context, cfg EmbeddingConfig, texts []string) ([][]float32, EmbeddingUsage, error) {
	if len(texts) == 0 {
		return nil, EmbeddingUsage{}, nil
	}

	raw, err := c.postJSON(ctx, cfg.BaseURL, cfg.APIKey, "/embeddings", embeddingRequest{
		Model:          cfg.Model,
		Input:          texts,
		EncodingFormat: "float",
		Dimensions:     cfg.Dimensions,
	})
	if err != nil {
		return nil, EmbeddingUsage{}, fmt.Errorf("embedding batch request failed: %w", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, EmbeddingUsage{}, fmt.Errorf("parse embedding batch json failed: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, EmbeddingUsage{}, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(parsed.Data), len(texts))
	}

	result := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(texts) || result[item.Index] != nil {
			return nil, EmbeddingUsage{}, fmt.Errorf("embedding response has invalid index %d", item.Index)
		}
		if len(item.Embedding) == 0 {
			return nil, EmbeddingUsage{}, fmt.Errorf("empty embedding at index %d", item.Index)
		}
		result[item.Index] = item.Embedding
	}
	return result, parsed.Usage, nil
}

// Embed returns the embedding vector for a single text.
func (c *OpenAICompatibleClient) Embed(ctx context.Context, cfg EmbeddingConfig, text string) ([]float32, EmbeddingUsage, error) {
	vectors, usage, err := c.EmbedBatch(ctx, cfg, []string{text})
	if err != nil {
		return nil, usage, err
	}
	return vectors[0], usage, nil
}
