package gemini_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsrag/config"
	"github.com/mohammad-safakhou/newsrag/provider"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// promptTemplate grounds the answer on retrieved articles. The model is told
// to admit when the context does not cover the question.
const promptTemplate = `You are a helpful news assistant. Answer the user's question using ONLY the context below.
Be concise. If the context does not contain enough information to answer, say so instead of guessing.

Context:
%s

Question: %s`

// client implements provider.Provider against the Gemini REST API.
type client struct {
	apiKey          string
	baseURL         string
	generationModel string
	embeddingModel  string
	temperature     float64
	topP            float64
	topK            int
	maxOutputTokens int
	httpClient      *http.Client
	logger          *log.Logger
}

// NewClient creates a Gemini-backed provider from config.
func NewClient(cfg config.GeminiConfig) provider.Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &client{
		apiKey:          cfg.APIKey,
		baseURL:         defaultBaseURL,
		generationModel: cfg.GenerationModel,
		embeddingModel:  cfg.EmbeddingModel,
		temperature:     cfg.Temperature,
		topP:            cfg.TopP,
		topK:            cfg.TopK,
		maxOutputTokens: cfg.MaxOutputTokens,
		httpClient:      &http.Client{Timeout: timeout},
		logger:          log.New(log.Writer(), "[GEMINI] ", log.LstdFlags),
	}
}

// NewClientWithBaseURL is NewClient pointed at a different API endpoint.
// Used by tests to target a local fake server.
func NewClientWithBaseURL(cfg config.GeminiConfig, baseURL string) provider.Provider {
	c := NewClient(cfg).(*client)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type embedRequest struct {
	Model   string  `json:"model"`
	Content content `json:"content"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

type batchEmbedRequest struct {
	Requests []embedRequest `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &provider.EmbeddingError{Err: fmt.Errorf("empty text")}
	}

	reqBody := embedRequest{
		Model:   "models/" + c.embeddingModel,
		Content: content{Parts: []part{{Text: text}}},
	}
	var resp embedResponse
	url := fmt.Sprintf("%s/models/%s:embedContent", c.baseURL, c.embeddingModel)
	if err := c.post(ctx, url, reqBody, &resp); err != nil {
		return nil, &provider.EmbeddingError{Err: err}
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, &provider.EmbeddingError{Err: fmt.Errorf("provider returned no vector")}
	}
	return resp.Embedding.Values, nil
}

func (c *client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, []int, error) {
	var (
		requests []embedRequest
		indexes  []int
	)
	for i, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		requests = append(requests, embedRequest{
			Model:   "models/" + c.embeddingModel,
			Content: content{Parts: []part{{Text: t}}},
		})
		indexes = append(indexes, i)
	}
	if len(requests) == 0 {
		return nil, nil, &provider.EmbeddingError{Err: fmt.Errorf("no non-empty texts to embed")}
	}

	var resp batchEmbedResponse
	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", c.baseURL, c.embeddingModel)
	if err := c.post(ctx, url, batchEmbedRequest{Requests: requests}, &resp); err != nil {
		return nil, nil, &provider.EmbeddingError{Err: err}
	}
	if len(resp.Embeddings) != len(requests) {
		return nil, nil, &provider.EmbeddingError{
			Err: fmt.Errorf("expected %d vectors, got %d", len(requests), len(resp.Embeddings)),
		}
	}

	vecs := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vecs[i] = e.Values
	}
	return vecs, indexes, nil
}

type generateRequest struct {
	Contents         []content       `json:"contents"`
	GenerationConfig genConfig       `json:"generationConfig"`
	SafetySettings   []safetySetting `json:"safetySettings"`
}

type genConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

var safetySettings = []safetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
}

func (c *client) Generate(ctx context.Context, query, contextBlock string) string {
	prompt := fmt.Sprintf(promptTemplate, contextBlock, query)
	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: genConfig{
			Temperature:     c.temperature,
			TopP:            c.topP,
			TopK:            c.topK,
			MaxOutputTokens: c.maxOutputTokens,
		},
		SafetySettings: safetySettings,
	}

	var resp generateResponse
	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.generationModel)
	if err := c.post(ctx, url, reqBody, &resp); err != nil {
		c.logger.Printf("generation failed, returning fallback: %v", err)
		return provider.FallbackResponse
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		c.logger.Printf("generation returned no candidates, returning fallback")
		return provider.FallbackResponse
	}
	return strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
}

func (c *client) post(ctx context.Context, url string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
