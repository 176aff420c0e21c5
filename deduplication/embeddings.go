package deduplication

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/option"
	openai "github.com/sashabaranov/go-openai"
)

// Provider names accepted by NewEmbeddingsProvider.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderCohere = "cohere"
	ProviderHash   = "hash"
)

// EmbeddingsProvider abstracts a text->embedding generator.
// Implementations return one raw (not necessarily normalized) vector per input text, in order.
type EmbeddingsProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
	Dim() int
}

// ProviderConfig selects and configures an embeddings provider.
type ProviderConfig struct {
	Provider  string
	Model     string
	Dimension int
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
}

// NewEmbeddingsProvider builds the provider named in cfg, filling in per-provider defaults.
func NewEmbeddingsProvider(cfg ProviderConfig) (EmbeddingsProvider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		return NewOllamaEmbeddings(cfg.BaseURL, cfg.Model, cfg.Dimension, timeout), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai provider requires OPENAI_API_KEY")
		}
		return NewOpenAIEmbeddings(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimension), nil
	case ProviderCohere:
		if cfg.APIKey == "" {
			return nil, errors.New("cohere provider requires COHERE_API_KEY")
		}
		return NewCohereEmbeddings(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimension, timeout), nil
	case ProviderHash:
		return NewHashEmbeddings(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

// OllamaEmbeddings uses a local Ollama instance and its batch /api/embed endpoint.
// The default model, all-minilm, is MiniLM-L6-v2 with 384 dimensions.
type OllamaEmbeddings struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

func NewOllamaEmbeddings(baseURL, model string, dim int, timeout time.Duration) *OllamaEmbeddings {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "all-minilm"
	}
	if dim <= 0 {
		dim = 384
	}
	return &OllamaEmbeddings{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *OllamaEmbeddings) ModelName() string { return "ollama/" + o.model }
func (o *OllamaEmbeddings) Dim() int          { return o.dim }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (o *OllamaEmbeddings) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(parsed.Embeddings))
	}
	return parsed.Embeddings, nil
}

// OpenAIEmbeddings implements EmbeddingsProvider with the OpenAI embeddings API,
// or any OpenAI-compatible server when baseURL is set.
type OpenAIEmbeddings struct {
	client *openai.Client
	model  string
	dim    int
}

func NewOpenAIEmbeddings(apiKey, baseURL, model string, dim int) *OpenAIEmbeddings {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if dim <= 0 {
		dim = 1536
	}
	return &OpenAIEmbeddings{client: openai.NewClientWithConfig(config), model: model, dim: dim}
}

func (o *OpenAIEmbeddings) ModelName() string { return "openai/" + o.model }
func (o *OpenAIEmbeddings) Dim() int          { return o.dim }

func (o *OpenAIEmbeddings) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings error: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))
	}

	// The API reports each vector's input index; do not rely on response order.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || out[d.Index] != nil {
			return nil, fmt.Errorf("openai returned invalid embedding index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// CohereEmbeddings implements EmbeddingsProvider using the Cohere Embed API (v2).
type CohereEmbeddings struct {
	client *cohereclient.Client
	model  string
	dim    int
}

// NewCohereEmbeddings talks to api.cohere.com unless baseURL is set.
func NewCohereEmbeddings(apiKey, baseURL, model string, dim int, timeout time.Duration) *CohereEmbeddings {
	if model == "" || !strings.HasPrefix(model, "embed-") {
		model = "embed-english-v3.0"
	}
	if dim <= 0 {
		dim = 1024
	}
	// Force HTTP/1.1; the v2 endpoint has produced HTTP/2 stream errors.
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			ForceAttemptHTTP2: false,
		},
	}
	opts := []option.RequestOption{
		cohereclient.WithToken(apiKey),
		cohereclient.WithHTTPClient(httpClient),
	}
	if baseURL != "" {
		opts = append(opts, cohereclient.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	client := cohereclient.NewClient(opts...)
	return &CohereEmbeddings{client: client, model: model, dim: dim}
}

func (c *CohereEmbeddings) ModelName() string { return "cohere/" + c.model }
func (c *CohereEmbeddings) Dim() int          { return c.dim }

func (c *CohereEmbeddings) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := c.client.V2.Embed(ctx, &cohere.V2EmbedRequest{
		Texts:          texts,
		Model:          c.model,
		InputType:      cohere.EmbedInputTypeSearchDocument,
		EmbeddingTypes: []cohere.EmbeddingType{cohere.EmbeddingTypeFloat},
	})
	if err != nil {
		return nil, fmt.Errorf("cohere embed error: %w", err)
	}
	if resp == nil || resp.Embeddings == nil || resp.Embeddings.Float == nil {
		return nil, errors.New("cohere embed returned no float embeddings")
	}

	floats := resp.Embeddings.Float
	if len(floats) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(floats))
	}

	out := make([][]float32, len(floats))
	for i, vec := range floats {
		fv := make([]float32, len(vec))
		for j, v := range vec {
			fv[j] = float32(v)
		}
		out[i] = fv
	}
	return out, nil
}

// HashEmbeddings is a deterministic bag-of-words hashing embedder. It needs no model
// server and is meant for offline runs and tests: texts with the same words map to the
// same vector, texts without shared words are orthogonal unless buckets collide.
type HashEmbeddings struct {
	dim int
}

func NewHashEmbeddings(dim int) *HashEmbeddings {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbeddings{dim: dim}
}

func (h *HashEmbeddings) ModelName() string { return fmt.Sprintf("hash/fnv32a-%d", h.dim) }
func (h *HashEmbeddings) Dim() int          { return h.dim }

func (h *HashEmbeddings) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, h.dim)
		words := strings.Fields(strings.ToLower(t))
		// an empty text still gets a stable, non-zero vector
		if len(words) == 0 {
			words = []string{""}
		}
		for _, w := range words {
			w = strings.Trim(w, ".,;:!?\"'()[]{}")
			f := fnv.New32a()
			_, _ = f.Write([]byte(w))
			vec[int(f.Sum32()%uint32(h.dim))] += 1
		}
		out[i] = vec
	}
	return out, nil
}
