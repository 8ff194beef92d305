package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultOpenRouterURL is the OpenRouter chat completions API base.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider implements Provider for OpenAI-compatible chat
// completion endpoints with json_schema response formats.
type OpenRouterProvider struct {
	apiKey     string
	keyEnv     string
	baseURL    string
	model      string
	referer    string
	title      string
	httpClient *http.Client
}

// OpenRouterConfig holds configuration for the OpenRouter provider
type OpenRouterConfig struct {
	APIKey  string // optional; read from KeyEnv at call time when empty
	KeyEnv  string // default: OPENROUTER_API_KEY
	BaseURL string // default: https://openrouter.ai/api/v1
	Model   string // used when the request names no model
	Referer string // HTTP-Referer attribution header
	Title   string // X-Title attribution header
	Timeout time.Duration

	HTTPClient *http.Client
}

// NewOpenRouterProvider creates a new OpenRouter provider
func NewOpenRouterProvider(cfg OpenRouterConfig) *OpenRouterProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterURL
	}
	if cfg.KeyEnv == "" {
		cfg.KeyEnv = "OPENROUTER_API_KEY"
	}
	if cfg.Model == "" {
		cfg.Model = "google/gemini-2.5-flash-lite"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = newLLMHTTPClient(cfg.Timeout)
	}

	return &OpenRouterProvider{
		apiKey:     cfg.APIKey,
		keyEnv:     cfg.KeyEnv,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		referer:    cfg.Referer,
		title:      cfg.Title,
		httpClient: client,
	}
}

func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

type chatRequest struct {
	Model            string              `json:"model"`
	Messages         []chatMessage       `json:"messages"`
	ResponseFormat   *chatResponseFormat `json:"response_format,omitempty"`
	MaxTokens        int                 `json:"max_tokens,omitempty"`
	Temperature      float64             `json:"temperature"`
	TopP             float64             `json:"top_p,omitempty"`
	FrequencyPenalty float64             `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64             `json:"presence_penalty,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *chatJSONSchema `json:"json_schema,omitempty"`
}

type chatJSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenRouterProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	apiKey := p.resolveKey()
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set %s", ErrMissingAPIKey, p.keyEnv)
	}

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq, apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, newAPIError(p.Name(), resp.StatusCode, statusText(resp.Status), string(bodyBytes))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	// OpenRouter reports some upstream failures inside a 200 body.
	if chatResp.Error != nil {
		code := chatResp.Error.Code
		if code == 0 {
			code = http.StatusBadGateway
		}
		return nil, newAPIError(p.Name(), code, "", chatResp.Error.Message)
	}

	return p.parseResponse(&chatResp)
}

// resolveKey prefers the configured key and otherwise reads the environment
// on every call, so rotated keys apply without a restart.
func (p *OpenRouterProvider) resolveKey() string {
	if p.apiKey != "" {
		return p.apiKey
	}
	return strings.TrimSpace(os.Getenv(p.keyEnv))
}

func (p *OpenRouterProvider) buildRequest(req *Request) *chatRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: string(RoleSystem), Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	chatReq := &chatRequest{
		Model:            model,
		Messages:         messages,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	}

	if req.Schema != nil {
		chatReq.ResponseFormat = &chatResponseFormat{
			Type: "json_schema",
			JSONSchema: &chatJSONSchema{
				Name:   req.Schema.Name,
				Strict: req.Schema.Strict,
				Schema: req.Schema.Schema,
			},
		}
	}

	return chatReq
}

func (p *OpenRouterProvider) setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if p.referer != "" {
		req.Header.Set("HTTP-Referer", p.referer)
	}
	if p.title != "" {
		req.Header.Set("X-Title", p.title)
	}
}

func (p *OpenRouterProvider) parseResponse(resp *chatResponse) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Model:        resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// statusText strips the numeric code from an http.Response status line.
func statusText(status string) string {
	if i := strings.IndexByte(status, ' '); i >= 0 {
		return strings.TrimSpace(status[i+1:])
	}
	return status
}
