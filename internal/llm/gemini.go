package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiProvider implements Provider over the Google Generative AI SDK. JSON
// output is requested through the response MIME type and the schema is
// attached to the system instruction.
type GeminiProvider struct {
	apiKey string
	model  string
}

// GeminiConfig holds configuration for the Gemini provider
type GeminiConfig struct {
	APIKey string
	Model  string // default: gemini-2.5-flash-lite
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash-lite"
	}
	return &GeminiProvider{
		apiKey: strings.TrimSpace(cfg.APIKey),
		model:  strings.TrimSpace(cfg.Model),
	}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	defer cl.Close()

	modelName := req.Model
	if modelName == "" {
		modelName = p.model
	}
	m := cl.GenerativeModel(modelName)
	if m == nil {
		return nil, fmt.Errorf("gemini: model is nil")
	}

	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
	}
	if req.Temperature > 0 {
		m.GenerationConfig.Temperature = ptrFloat32(float32(req.Temperature))
	}
	if req.TopP > 0 {
		m.GenerationConfig.TopP = ptrFloat32(float32(req.TopP))
	}
	if req.MaxTokens > 0 {
		m.GenerationConfig.MaxOutputTokens = ptrInt32(int32(req.MaxTokens))
	}

	sysParts := []genai.Part{}
	if req.System != "" {
		sysParts = append(sysParts, genai.Text(req.System))
	}
	if req.Schema != nil {
		data, err := json.Marshal(req.Schema.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema: %w", err)
		}
		sysParts = append(sysParts, genai.Text(req.Schema.Name+".schema.json:\n"+string(data)))
	}
	if len(sysParts) > 0 {
		m.SystemInstruction = &genai.Content{Parts: sysParts}
	}

	parts := make([]genai.Part, 0, len(req.Messages))
	for _, msg := range req.Messages {
		parts = append(parts, genai.Text(msg.Content))
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, p.wrapError(err)
	}

	content := geminiText(resp)
	if content == "" {
		return nil, ErrEmptyResponse
	}

	out := &Response{
		Content:      content,
		FinishReason: mapGeminiFinishReason(resp),
		Model:        modelName,
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func (p *GeminiProvider) wrapError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return newAPIError(p.Name(), gErr.Code, "", gErr.Message)
	}
	var aErr *apierror.APIError
	if errors.As(err, &aErr) && aErr.HTTPCode() > 0 {
		return newAPIError(p.Name(), aErr.HTTPCode(), "", aErr.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return newAPIError(p.Name(), http.StatusBadGateway, "", err.Error())
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	return stripCodeFences(sb.String())
}

func mapGeminiFinishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return "unknown"
	}
	switch resp.Candidates[0].FinishReason {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return "content_filter"
	default:
		return "unknown"
	}
}

// stripCodeFences removes a surrounding ```json fence some models add even
// in JSON mode.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func ptrFloat32(v float32) *float32 { return &v }

func ptrInt32(v int32) *int32 { return &v }
