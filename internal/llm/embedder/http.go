// Package embedder provides llm.EmbeddingProvider implementations: an
// HTTP client speaking an OpenAI-compatible embeddings endpoint, and a
// deterministic hash-based embedder for tests and offline development.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ctxcore/internal/config"
	"ctxcore/internal/llm"
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// HTTPEmbedder calls a configured OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	cfg        config.EmbeddingConfig
	httpClient *http.Client
}

var _ llm.EmbeddingProvider = (*HTTPEmbedder)(nil)

func NewHTTP(cfg config.EmbeddingConfig, httpClient *http.Client) *HTTPEmbedder {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPEmbedder{cfg: cfg, httpClient: httpClient}
}

func (e *HTTPEmbedder) Dimension() int   { return e.cfg.Dimension }
func (e *HTTPEmbedder) Model() string    { return e.cfg.Model }
func (e *HTTPEmbedder) Provider() string { return "http" }

func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqBody, err := json.Marshal(embedReq{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(e.cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := e.cfg.BaseURL + e.cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	switch {
	case e.cfg.APIHeader == "Authorization":
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	case e.cfg.APIHeader != "":
		req.Header.Set(e.cfg.APIHeader, e.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding endpoint error: %s: %s", resp.Status, string(body))
	}

	var er embedResp
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected embedding count: got %d, want %d", len(er.Data), len(texts))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}
