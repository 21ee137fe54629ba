package claude

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pvcarvalho/avaria-api/internal/analyzer"
)

// Analyzer sends one image plus its message context to the Anthropic API and
// parses the structured JSON reply.
type Analyzer struct {
	apiKey      string
	model       string
	temperature float64
	maxTokens   int64
	client      *anthropic.Client
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
	return func(a *Analyzer) { a.temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxTokens = int64(n)
		}
	}
}

func New(apiKey string, opts ...Option) *Analyzer {
	a := &Analyzer{
		apiKey:      strings.TrimSpace(apiKey),
		model:       "claude-sonnet-4-5",
		temperature: 0.1,
		maxTokens:   1000,
	}
	for _, o := range opts {
		o(a)
	}
	if a.apiKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(a.apiKey))
		a.client = &client
	}
	return a
}

func (a *Analyzer) Provider() string { return "claude" }

func (a *Analyzer) Analyze(ctx context.Context, req analyzer.Request) (*analyzer.Result, error) {
	if a.client == nil {
		return nil, fmt.Errorf("%w: anthropic api key not configured", analyzer.ErrUnauthorized)
	}

	encoded := base64.StdEncoding.EncodeToString(req.ImageBytes)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(req.MIMEType, encoded),
				anthropic.NewTextBlock(analyzer.BuildPrompt(req)),
			),
		},
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, analyzer.ClassifyHTTPStatus(apiErr.StatusCode, fmt.Errorf("claude message: %w", err))
		}
		return nil, fmt.Errorf("claude message: %w", err)
	}

	text := textFromBlocks(resp.Content)
	if text == "" {
		return nil, fmt.Errorf("claude returned no text for %s", req.Name)
	}

	res, err := analyzer.ParseResponse(text)
	if err != nil {
		return nil, fmt.Errorf("claude response for %s: %w", req.Name, err)
	}
	res.TokensUsed = resp.Usage.InputTokens + resp.Usage.OutputTokens
	return res, nil
}

// textFromBlocks concatenates the text blocks of a reply, skipping tool-use
// and other block kinds.
func textFromBlocks(blocks []anthropic.ContentBlockUnion) string {
	var text strings.Builder
	for _, block := range blocks {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String()
}
