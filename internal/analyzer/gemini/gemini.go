package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/pvcarvalho/avaria-api/internal/analyzer"
)

// Analyzer sends one image plus its message context to the Gemini API and
// parses the structured JSON reply.
type Analyzer struct {
	apiKey      string
	model       string
	temperature float32
	maxTokens   int32

	once    sync.Once
	client  *genai.Client
	initErr error
}

type Option func(*Analyzer)

func WithModel(model string) Option {
	return func(a *Analyzer) {
		if model != "" {
			a.model = model
		}
	}
}

func WithTemperature(t float64) Option {
	return func(a *Analyzer) { a.temperature = float32(t) }
}

func WithMaxTokens(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxTokens = int32(n)
		}
	}
}

func New(apiKey string, opts ...Option) *Analyzer {
	a := &Analyzer{
		apiKey:      strings.TrimSpace(apiKey),
		model:       "gemini-2.0-flash",
		temperature: 0.1,
		maxTokens:   1000,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Analyzer) Provider() string { return "gemini" }

// init creates the genai client on first use so a missing key surfaces as a
// job-level auth failure instead of crashing startup.
func (a *Analyzer) init(ctx context.Context) error {
	a.once.Do(func() {
		if a.apiKey == "" {
			a.initErr = fmt.Errorf("%w: gemini api key not configured", analyzer.ErrUnauthorized)
			return
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  a.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			a.initErr = fmt.Errorf("init gemini client: %w", err)
			return
		}
		a.client = client
	})
	return a.initErr
}

func (a *Analyzer) Analyze(ctx context.Context, req analyzer.Request) (*analyzer.Result, error) {
	if err := a.init(ctx); err != nil {
		return nil, err
	}

	parts := []*genai.Part{
		genai.NewPartFromText(analyzer.BuildPrompt(req)),
		genai.NewPartFromBytes(req.ImageBytes, req.MIMEType),
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}

	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(a.temperature),
		MaxOutputTokens:  a.maxTokens,
		ResponseMIMEType: "application/json",
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, analyzer.ClassifyHTTPStatus(apiErr.Code, fmt.Errorf("gemini generate: %w", err))
		}
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
		if text.Len() > 0 {
			break
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("gemini returned no text for %s", req.Name)
	}

	res, err := analyzer.ParseResponse(text.String())
	if err != nil {
		return nil, fmt.Errorf("gemini response for %s: %w", req.Name, err)
	}
	if resp.UsageMetadata != nil {
		res.TokensUsed = int64(resp.UsageMetadata.TotalTokenCount)
	}
	return res, nil
}
