package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/toolrouter/toolrouter/pkg/errkind"
)

const maxErrorBodyPreview = 500

// openAICompatibleClient talks to an OpenAI-compatible embeddings endpoint:
// POST {baseURL}/embeddings, body {model, input}, response
// {data:[{embedding:[...]}]}.
type openAICompatibleClient struct {
	baseURL string
	model   string
	apiKey  string
	headers map[string]string
	http    *http.Client

	dims atomic.Int64 // 0 means unresolved; stored as dims+1 to disambiguate 0-length vectors
	mu   sync.Mutex
}

// Options configures an OpenAI-compatible embedding client.
type Options struct {
	BaseURL string
	Model   string
	APIKey  string
	Headers map[string]string
	HTTP    *http.Client
}

// NewOpenAICompatibleClient builds the default embedding client. baseURL's
// trailing slash is stripped; a known model's dimension is seeded
// immediately so the first embed call doesn't need to probe.
func NewOpenAICompatibleClient(opts Options) Client {
	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &openAICompatibleClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		model:   opts.Model,
		apiKey:  opts.APIKey,
		headers: opts.Headers,
		http:    httpClient,
	}
	if d, ok := knownModelDims[opts.Model]; ok {
		c.dims.Store(int64(d) + 1)
	}
	return c
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAICompatibleClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, errkind.Wrap(errkind.Protocol, "encoding embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errkind.Wrap(errkind.Protocol, "building embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.EmbeddingUnavailable, fmt.Sprintf("embedding service at %s not reachable", c.baseURL), err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := string(respBody)
		if len(preview) > maxErrorBodyPreview {
			preview = preview[:maxErrorBodyPreview] + "..."
		}
		return nil, errkind.New(errkind.Protocol, fmt.Sprintf("embedding service returned status %d: %s", resp.StatusCode, preview))
	}

	var decoded embedResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, errkind.Wrap(errkind.Protocol, "decoding embedding response", err)
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, errkind.New(errkind.Protocol, "embedding response missing data[0].embedding")
	}

	vec := decoded.Data[0].Embedding
	c.rememberDims(len(vec))
	return vec, nil
}

func (c *openAICompatibleClient) rememberDims(n int) {
	c.dims.CompareAndSwap(0, int64(n)+1)
}

func (c *openAICompatibleClient) Dims() (int, bool) {
	v := c.dims.Load()
	if v == 0 {
		return 0, false
	}
	return int(v - 1), true
}

func (c *openAICompatibleClient) ProbeDims(ctx context.Context) (int, error) {
	if d, ok := c.Dims(); ok {
		return d, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.Dims(); ok {
		return d, nil
	}

	vec, err := c.Embed(ctx, probeText)
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}
