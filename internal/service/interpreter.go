package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/dreamforge/internal/domain"
	"github.com/timmy/dreamforge/internal/prompts"
)

const interpreterProvider = "analysis"

// InterpreterService calls an OpenAI-compatible chat completion endpoint
// with a strict JSON schema for the dream analysis.
type InterpreterService struct {
	client    *resty.Client
	model     string
	endpoint  string
	maxTokens int
	version   string
	schema    map[string]interface{}
}

// InterpreterConfig holds configuration for the interpreter.
type InterpreterConfig struct {
	Model     string
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
	// Version overrides the prompt version tag.
	Version string
}

// NewInterpreterService creates a new interpreter client.
// Parameters:
//   - cfg: model, credentials and endpoint.
//
// Returns:
//   - *InterpreterService: initialized client wrapper.
func NewInterpreterService(cfg *InterpreterConfig) *InterpreterService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1200
	}
	version := cfg.Version
	if version == "" {
		version = prompts.Version
	}

	return &InterpreterService{
		client:    client,
		model:     cfg.Model,
		endpoint:  baseURL + "/chat/completions",
		maxTokens: maxTokens,
		version:   version,
		schema:    strictSchema[domain.Analysis](),
	}
}

// Version returns the model and prompt tag stored with each analysis.
func (s *InterpreterService) Version() string {
	return s.model + "/" + s.version
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaFormat `json:"json_schema"`
}

type jsonSchemaFormat struct {
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	// Error is an object for OpenAI and a bare boolean for some gateways.
	Error   json.RawMessage `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Interpret analyses a dream.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - dream: the journal entry to analyse.
//
// Returns:
//   - *domain.Analysis: parsed analysis with clamped sentiment.
//   - error: *domain.ProviderError on transport, HTTP, in-band or decode failure.
func (s *InterpreterService) Interpret(ctx context.Context, dream *domain.RawDream) (*domain.Analysis, error) {
	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompts.DreamSystemPrompt},
			{Role: "user", Content: buildDreamPrompt(dream)},
		},
		MaxTokens: s.maxTokens,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaFormat{
				Name:   "dream_analysis",
				Strict: true,
				Schema: s.schema,
			},
		},
	}

	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return nil, domain.NewProviderError(interpreterProvider, fmt.Errorf("failed to call chat API: %w", err))
	}

	if msg, ok := inBandError(resp.Error, resp.Message); ok {
		return nil, domain.NewProviderError(interpreterProvider, errors.New(msg))
	}
	if httpResp.IsError() {
		return nil, domain.NewProviderError(interpreterProvider,
			fmt.Errorf("HTTP %d: %s", httpResp.StatusCode(), truncate(string(httpResp.Body()), 300)))
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewProviderError(interpreterProvider, errors.New("no choices in response"))
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return nil, domain.NewProviderError(interpreterProvider, fmt.Errorf("model refused: %s", choice.Message.Refusal))
	}
	if choice.FinishReason == "length" {
		return nil, domain.NewProviderError(interpreterProvider, errors.New("response truncated at max_tokens"))
	}

	analysis, err := parseAnalysis(choice.Message.Content)
	if err != nil {
		return nil, domain.NewProviderError(interpreterProvider, err)
	}
	return analysis, nil
}

// parseAnalysis decodes the model output. A payload of the form
// {"error": true, "message": "..."} is reported as an error.
func parseAnalysis(content string) (*domain.Analysis, error) {
	content = stripCodeFence(content)
	if content == "" {
		return nil, errors.New("empty analysis content")
	}

	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	if msg, ok := inBandError(envelope.Error, envelope.Message); ok {
		return nil, errors.New(msg)
	}

	var analysis domain.Analysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	if strings.TrimSpace(analysis.Interpretation) == "" {
		return nil, errors.New("analysis has no interpretation")
	}
	analysis.Sentiment = analysis.Sentiment.Clamp()
	analysis.ImagePrompt = strings.TrimSpace(analysis.ImagePrompt)
	analysis.VideoPrompt = strings.TrimSpace(analysis.VideoPrompt)
	return &analysis, nil
}

// inBandError reads an "error" field that is either true or an object with
// a message.
func inBandError(raw json.RawMessage, message string) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "false" {
		return "", false
	}
	if string(raw) == "true" {
		if message == "" {
			message = "provider reported an error"
		}
		return message, true
	}
	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message, true
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return text, true
	}
	return "", false
}

func buildDreamPrompt(d *domain.RawDream) string {
	var b strings.Builder
	b.WriteString(prompts.DreamUserPromptHeader)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Title: %s\n", d.Title)
	if !d.Date.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", d.Date.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Mood on waking: %s (intensity %d/100)\n", d.Mood, d.Intensity)
	writeList(&b, "Symbols", d.Symbols)
	writeList(&b, "Themes", d.Themes)
	writeList(&b, "Characters", d.Characters)
	writeList(&b, "Settings", d.Settings)
	if d.RealLifeLink != "" {
		fmt.Fprintf(&b, "Real-life link: %s\n", d.RealLifeLink)
	}
	if d.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", d.Notes)
	}
	fmt.Fprintf(&b, "\nDream:\n%s\n\n", d.Description)
	b.WriteString(prompts.DreamUserPromptFooter)
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(items, ", "))
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
