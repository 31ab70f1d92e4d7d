package translation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider translates keywords through the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("gemini model is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) TranslateTerm(ctx context.Context, req TermRequest) (Term, error) {
	req, err := req.normalize()
	if err != nil {
		return Term{}, err
	}

	started := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(termPrompt(req)), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: termSystemPrompt}},
		},
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: 64,
	})
	if err != nil {
		return Term{}, fmt.Errorf("gemini generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Term{}, fmt.Errorf("gemini response was empty")
	}
	return Term{
		Text:     text,
		Lang:     req.To,
		Provider: p.Name(),
		Took:     time.Since(started),
	}, nil
}
