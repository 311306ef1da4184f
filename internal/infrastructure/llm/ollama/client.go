package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
	"github.com/kirillkom/trade-evidence/internal/infrastructure/llm"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func New(baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// DocumentUnderstanding asks a local Ollama model for JSON classifications and field candidates.
type DocumentUnderstanding struct {
	client *Client
}

func NewDocumentUnderstanding(client *Client) *DocumentUnderstanding {
	return &DocumentUnderstanding{client: client}
}

func (d *DocumentUnderstanding) Classify(ctx context.Context, req ports.ClassifyRequest) (ports.ClassifyResult, error) {
	respText, err := d.client.generateJSON(ctx, llm.BuildClassifyPrompt(req))
	if err != nil {
		return ports.ClassifyResult{}, wrapTemporaryIfNeeded("ollama classify", err)
	}
	return llm.ParseClassification(respText)
}

func (d *DocumentUnderstanding) ExtractFields(ctx context.Context, req ports.ExtractRequest) ([]domain.CandidateField, error) {
	respText, err := d.client.generateJSON(ctx, llm.BuildExtractPrompt(req))
	if err != nil {
		return nil, wrapTemporaryIfNeeded("ollama extract", err)
	}
	candidates, err := llm.ParseCandidates(respText)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", req.PageNumber, err)
	}
	return candidates, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.model,
		"system": llm.SystemPrompt,
		"prompt": prompt,
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0,
		},
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
