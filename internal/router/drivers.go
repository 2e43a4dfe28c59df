package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 120 * time.Second}
}

// analysisPrompt instructs the provider to answer with the structured
// payload the validator expects. Providers often wrap the JSON in a
// markdown code fence regardless; decodePayload tolerates that.
const analysisPrompt = `Analyze the attached aerial/street images of the property at the given address.
Respond with a single JSON object and nothing else, using these fields:
lawn_sqft (number), tree_count (number), shrub_count (number),
debris_piles (number), fence_length_ft (number), hedge_length_ft (number),
has_pool (boolean), has_deck (boolean), has_driveway (boolean),
overgrown_yard (boolean), confidence (number 0-1), notes (string),
detections (array of {type, x, y, width, height} with x/y/width/height
as percentages of image dimensions).`

// visionPayload is the typed wire form of a provider answer.
type visionPayload struct {
	models.PropertyFeatures
	Confidence float64                  `json:"confidence"`
	Detections []models.FeatureLocation `json:"detections,omitempty"`
}

// decodePayload strips an optional markdown code fence and decodes the
// provider's JSON answer. A decode failure is terminal for the attempt.
func decodePayload(content string) (*visionPayload, error) {
	content = stripCodeFence(content)
	var payload visionPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidResponse, err)
	}
	return &payload, nil
}

// stripCodeFence removes a wrapping ```...``` block, including a
// language tag on the opening fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// statusError classifies a non-200 provider response; 429 wraps
// ErrRateLimited so the orchestrator applies a cooldown.
func statusError(kind string, code int, body []byte) error {
	if code == http.StatusTooManyRequests {
		return fmt.Errorf("%s: HTTP 429: %w", kind, models.ErrRateLimited)
	}
	return fmt.Errorf("%s: status %d: %s", kind, code, string(body))
}

func toResult(payload *visionPayload, usage models.TokenUsage) *models.AnalysisResult {
	return &models.AnalysisResult{
		Features:   payload.PropertyFeatures,
		Detections: payload.Detections,
		Confidence: payload.Confidence,
		Usage:      usage,
	}
}

// ── OpenAI vision driver ────────────────────────────────────

type openAIDriver struct {
	client *http.Client
}

func (d *openAIDriver) Kind() string { return "openai" }

type openAIContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type openAIMessage struct {
	Role    string              `json:"role"`
	Content []openAIContentPart `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (d *openAIDriver) Analyze(ctx context.Context, provider *models.ProviderDescriptor, job *models.Job) (*models.AnalysisResult, error) {
	endpoint := provider.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	if provider.APIKey == "" {
		return nil, fmt.Errorf("openai: api key not configured for provider %s", provider.ID)
	}

	parts := []openAIContentPart{{
		Type: "text",
		Text: analysisPrompt + "\nAddress: " + job.Address,
	}}
	for _, img := range job.Images {
		url := fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
		parts = append(parts, openAIContentPart{
			Type:     "image_url",
			ImageURL: &struct {
				URL string `json:"url"`
			}{URL: url},
		})
	}

	body, _ := json.Marshal(openAIRequest{
		Model:    provider.Model,
		Messages: []openAIMessage{{Role: "user", Content: parts}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+provider.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, statusError("openai", resp.StatusCode, respBody)
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w: empty choices", models.ErrInvalidResponse)
	}

	payload, err := decodePayload(oaiResp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	return toResult(payload, models.TokenUsage{
		InputTokens:  oaiResp.Usage.PromptTokens,
		OutputTokens: oaiResp.Usage.CompletionTokens,
		TotalTokens:  oaiResp.Usage.TotalTokens,
	}), nil
}

// ── Anthropic vision driver ─────────────────────────────────

type anthropicDriver struct {
	client *http.Client
}

func (d *anthropicDriver) Kind() string { return "anthropic" }

type anthropicContentBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Source *struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"source,omitempty"`
}

type anthropicRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string                  `json:"role"`
		Content []anthropicContentBlock `json:"content"`
	} `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (d *anthropicDriver) Analyze(ctx context.Context, provider *models.ProviderDescriptor, job *models.Job) (*models.AnalysisResult, error) {
	endpoint := provider.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	if provider.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key not configured for provider %s", provider.ID)
	}

	blocks := make([]anthropicContentBlock, 0, len(job.Images)+1)
	for _, img := range job.Images {
		blocks = append(blocks, anthropicContentBlock{
			Type: "image",
			Source: &struct {
				Type      string `json:"type"`
				MediaType string `json:"media_type"`
				Data      string `json:"data"`
			}{
				Type:      "base64",
				MediaType: img.MimeType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	blocks = append(blocks, anthropicContentBlock{
		Type: "text",
		Text: analysisPrompt + "\nAddress: " + job.Address,
	})

	reqBody := anthropicRequest{Model: provider.Model, MaxTokens: 4096}
	reqBody.Messages = []struct {
		Role    string                  `json:"role"`
		Content []anthropicContentBlock `json:"content"`
	}{{Role: "user", Content: blocks}}

	body, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", provider.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, statusError("anthropic", resp.StatusCode, respBody)
	}

	var anthResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthResp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	content := ""
	for _, c := range anthResp.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}
	payload, err := decodePayload(content)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	return toResult(payload, models.TokenUsage{
		InputTokens:  anthResp.Usage.InputTokens,
		OutputTokens: anthResp.Usage.OutputTokens,
		TotalTokens:  anthResp.Usage.InputTokens + anthResp.Usage.OutputTokens,
	}), nil
}

// ── Ollama driver (OpenAI-compatible endpoint) ──────────────

type ollamaDriver struct {
	client *http.Client
}

func (d *ollamaDriver) Kind() string { return "ollama" }

func (d *ollamaDriver) Analyze(ctx context.Context, provider *models.ProviderDescriptor, job *models.Job) (*models.AnalysisResult, error) {
	endpoint := provider.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}

	parts := []openAIContentPart{{
		Type: "text",
		Text: analysisPrompt + "\nAddress: " + job.Address,
	}}
	for _, img := range job.Images {
		url := fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
		parts = append(parts, openAIContentPart{
			Type:     "image_url",
			ImageURL: &struct {
				URL string `json:"url"`
			}{URL: url},
		})
	}

	body, _ := json.Marshal(openAIRequest{
		Model:    provider.Model,
		Messages: []openAIMessage{{Role: "user", Content: parts}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, statusError("ollama", resp.StatusCode, respBody)
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("ollama: %w: empty choices", models.ErrInvalidResponse)
	}

	payload, err := decodePayload(oaiResp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}

	return toResult(payload, models.TokenUsage{
		InputTokens:  oaiResp.Usage.PromptTokens,
		OutputTokens: oaiResp.Usage.CompletionTokens,
		TotalTokens:  oaiResp.Usage.TotalTokens,
	}), nil
}
