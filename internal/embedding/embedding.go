// Package embedding scores excerpts against theme queries with sentence
// embeddings served by an Ollama-compatible model server.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// scoreFloor keeps rank_feature values strictly positive; the search engine
// rejects zero or negative rank features.
const scoreFloor = 1e-6

// Client talks to an Ollama-compatible embedding server.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient builds an embedding client against the given server URL and model.
func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Encode returns the embedding vector of one text.
func (c *Client) Encode(ctx context.Context, text string) ([]float64, error) {
	requestBody := map[string]any{
		"model":  c.model,
		"prompt": text,
	}
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(decoded.Embedding) == 0 {
		return nil, fmt.Errorf("embedding server returned an empty vector")
	}
	return decoded.Embedding, nil
}

// EncodeAll embeds each text in order.
func (c *Client) EncodeAll(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, 0, len(texts))
	for _, text := range texts {
		v, err := c.Encode(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

// Cosine returns the cosine similarity of two vectors, zero when either has
// no magnitude or the dimensions disagree.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MaxSimilarity returns the highest cosine similarity between the candidate
// vector and any of the reference vectors, floored to stay strictly positive.
func MaxSimilarity(candidate []float64, references [][]float64) float64 {
	best := 0.0
	for _, ref := range references {
		if s := Cosine(candidate, ref); s > best {
			best = s
		}
	}
	if best < scoreFloor {
		return scoreFloor
	}
	return best
}
