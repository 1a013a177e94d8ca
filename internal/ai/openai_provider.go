package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/qcekey/iget/internal/model"
)

// Completer sends a prompt to a language model and returns the raw reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

const (
	systemPrompt     = "You are a strict recruiter screening job vacancies. Answer only with the requested JSON."
	maxResponseBytes = 1 << 20
)

// verdictSchema is enforced server-side when the endpoint supports
// structured outputs. It matches rawVerdict.
var verdictSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"suitable": map[string]any{"type": "boolean"},
		"score":    map[string]any{"type": "integer", "minimum": 0, "maximum": 10},
		"reason":   map[string]any{"type": "string"},
	},
	"required": []string{"suitable", "score", "reason"},
}

var _ Completer = (*OpenAIProvider)(nil)

// OpenAIProvider talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI, Groq, OpenRouter, a local Ollama).
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient model.HTTPClient

	// set once the endpoint rejected json_schema; later calls ask for json_object
	plainJSON atomic.Bool
}

// NewOpenAIProvider creates a provider. An empty apiKey sends no
// Authorization header.
func NewOpenAIProvider(baseURL, apiKey, modelName string, httpClient model.HTTPClient) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      modelName,
		httpClient: httpClient,
	}
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    int            `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type jsonSchemaSpec struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *chatError   `json:"error,omitempty"`
}

// errSchemaUnsupported marks a 400 caused by the response_format field.
var errSchemaUnsupported = errors.New("endpoint does not support json_schema")

// Complete sends prompt and returns the JSON object produced by the model.
// If the endpoint rejects structured outputs the call is repeated once in
// plain JSON mode, which is then used for the provider's lifetime.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if !p.plainJSON.Load() {
		out, err := p.complete(ctx, prompt, responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaSpec{Name: "vacancy_verdict", Strict: true, Schema: verdictSchema},
		})
		if !errors.Is(err, errSchemaUnsupported) {
			return out, err
		}
		p.plainJSON.Store(true)
	}
	return p.complete(ctx, prompt, responseFormat{Type: "json_object"})
}

func (p *OpenAIProvider) complete(ctx context.Context, prompt string, format responseFormat) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:      256,
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusBadRequest && format.JSONSchema != nil && bytes.Contains(data, []byte("response_format")) {
			return "", errSchemaUnsupported
		}
		return "", &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("chat completions: %s", strings.TrimSpace(string(data))),
		}
	}

	var chat chatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}
	if chat.Error != nil {
		return "", fmt.Errorf("model error (%s): %s", chat.Error.Type, chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return chat.Choices[0].Message.Content, nil
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
