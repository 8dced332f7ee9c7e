package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/timmy/dreamforge/internal/domain"
)

const imageProvider = "image"

// ImageGenerationService renders prompts through the OpenAI Images API.
type ImageGenerationService struct {
	client   openai.Client
	download *resty.Client
	model    string
	size     string
}

// ImageGenerationConfig holds configuration for the image provider.
type ImageGenerationConfig struct {
	Model   string
	APIKey  string
	BaseURL string
	Size    string
	Timeout time.Duration
}

// NewImageGenerationService creates the image provider client. The SDK's
// own retries are disabled; retries are a pipeline decision.
func NewImageGenerationService(cfg *ImageGenerationConfig) *ImageGenerationService {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	download := resty.New()
	if cfg.Timeout > 0 {
		download.SetTimeout(cfg.Timeout)
	}

	size := cfg.Size
	if size == "" {
		size = "1024x1024"
	}

	return &ImageGenerationService{
		client:   openai.NewClient(opts...),
		download: download,
		model:    cfg.Model,
		size:     size,
	}
}

// Generate renders prompt and returns the encoded image.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - prompt: image prompt from the analysis.
//
// Returns:
//   - []byte: encoded image bytes as returned by the provider.
//   - error: *domain.ProviderError on any failure.
func (s *ImageGenerationService) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.NewProviderError(imageProvider, errors.New("empty prompt"))
	}

	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(s.model),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize(s.size),
	}
	// gpt-image models always return base64 and reject response_format.
	if strings.HasPrefix(s.model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	resp, err := s.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, domain.NewProviderError(imageProvider, fmt.Errorf("failed to call images API: %w", err))
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, domain.NewProviderError(imageProvider, errors.New("no image in response"))
	}

	img := resp.Data[0]
	switch {
	case img.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, domain.NewProviderError(imageProvider, fmt.Errorf("failed to decode image: %w", err))
		}
		return data, nil
	case img.URL != "":
		return s.fetch(ctx, img.URL)
	default:
		return nil, domain.NewProviderError(imageProvider, errors.New("image has neither data nor URL"))
	}
}

// fetch downloads a provider-hosted image. Those URLs expire, so the bytes
// are copied into our own storage.
func (s *ImageGenerationService) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := s.download.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, domain.NewProviderError(imageProvider, fmt.Errorf("failed to download image: %w", err))
	}
	if resp.IsError() {
		return nil, domain.NewProviderError(imageProvider, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode()))
	}
	return resp.Body(), nil
}
