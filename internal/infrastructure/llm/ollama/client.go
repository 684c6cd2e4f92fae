package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
}

func New(baseURL, genModel, embedModel string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, wrapTemporaryIfNeeded("embed", err)
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt,
		"stream": false,
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := g.client.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", wrapTemporaryIfNeeded("generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}

// Stream generates with stream=true and calls emit once per token. It returns
// the full accumulated text. Cancelling ctx aborts the response body read.
func (g *Generator) Stream(ctx context.Context, prompt string, emit func(token string) error) (string, error) {
	reqBody := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt,
		"stream": true,
	}

	resp, err := g.client.postRaw(ctx, "/api/generate", reqBody, "generate stream")
	if err != nil {
		return "", wrapTemporaryIfNeeded("generate stream", err)
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event struct {
			Response string `json:"response"`
			Done     bool   `json:"done"`
			Error    string `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return "", fmt.Errorf("decode stream event: %w", err)
		}
		if event.Error != "" {
			return "", fmt.Errorf("ollama stream: %s", event.Error)
		}
		if event.Response != "" {
			full.WriteString(event.Response)
			if emit != nil {
				if err := emit(event.Response); err != nil {
					return "", err
				}
			}
		}
		if event.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("read stream: %w", err)
	}
	return strings.TrimSpace(full.String()), nil
}

// ContextWindow asks /api/show for the generation model's context length.
func (g *Generator) ContextWindow(ctx context.Context) (int, error) {
	request := map[string]any{"model": g.client.genModel}

	var response struct {
		ModelInfo map[string]any `json:"model_info"`
	}
	if err := g.client.postJSON(ctx, "/api/show", request, &response, "show"); err != nil {
		return 0, wrapTemporaryIfNeeded("show", err)
	}

	// The key is architecture-prefixed, e.g. "llama.context_length".
	for key, value := range response.ModelInfo {
		if !strings.HasSuffix(key, ".context_length") {
			continue
		}
		if n, ok := value.(float64); ok && n > 0 {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("context_length not reported for model %s", g.client.genModel)
}

// Warm loads the generation model into memory so the first real request does
// not pay the load latency.
func (g *Generator) Warm(ctx context.Context) error {
	reqBody := map[string]any{
		"model":      g.client.genModel,
		"keep_alive": "30m",
	}

	var response struct {
		Done bool `json:"done"`
	}
	if err := g.client.postJSON(ctx, "/api/generate", reqBody, &response, "warm"); err != nil {
		return wrapTemporaryIfNeeded("warm", err)
	}
	return nil
}
