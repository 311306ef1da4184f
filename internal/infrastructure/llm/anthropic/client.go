package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/llm"
)

const defaultMaxTokens = 2048

// DocumentUnderstanding calls the Anthropic Messages API. Retries are left to the guard,
// so the SDK's own retry loop is disabled.
type DocumentUnderstanding struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

type Options struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int64
}

func New(opts Options) *DocumentUnderstanding {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &DocumentUnderstanding{
		client:    sdk.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: maxTokens,
	}
}

func (d *DocumentUnderstanding) Classify(ctx context.Context, req ports.ClassifyRequest) (ports.ClassifyResult, error) {
	text, err := d.complete(ctx, llm.BuildClassifyPrompt(req))
	if err != nil {
		return ports.ClassifyResult{}, wrapAPIError("anthropic classify", err)
	}
	return llm.ParseClassification(text)
}

func (d *DocumentUnderstanding) ExtractFields(ctx context.Context, req ports.ExtractRequest) ([]domain.CandidateField, error) {
	text, err := d.complete(ctx, llm.BuildExtractPrompt(req))
	if err != nil {
		return nil, wrapAPIError("anthropic extract", err)
	}
	candidates, err := llm.ParseCandidates(text)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", req.PageNumber, err)
	}
	return candidates, nil
}

func (d *DocumentUnderstanding) complete(ctx context.Context, prompt string) (string, error) {
	msg, err := d.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(d.model),
		MaxTokens:   d.maxTokens,
		Temperature: sdk.Float(0),
		System:      []sdk.TextBlockParam{{Text: llm.SystemPrompt}},
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic reply has no text (stop_reason=%s)", msg.StopReason)
	}
	return b.String(), nil
}

// wrapAPIError marks rate limiting, overload and transport failures as temporary.
func wrapAPIError(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.StatusCode) {
			return domain.WrapError(domain.ErrTemporary, operation, err)
		}
		return fmt.Errorf("%s: %w", operation, err)
	}
	return domain.WrapError(domain.ErrTemporary, operation, err)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	default:
		return code >= 500
	}
}
