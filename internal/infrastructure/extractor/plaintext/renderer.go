package plaintext

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

// Renderer splits UTF-8 text into pages on form feeds.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) Render(_ context.Context, body []byte) ([]domain.PageText, error) {
	if !utf8.Valid(body) {
		return nil, domain.WrapError(domain.ErrUnsupportedFile, "render text", fmt.Errorf("content is not valid utf-8"))
	}
	raw := strings.ReplaceAll(string(body), "\r\n", "\n")
	parts := strings.Split(raw, "\f")
	// A trailing form feed does not open a new page.
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}

	pages := make([]domain.PageText, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, domain.PageText{
			PageNumber: i + 1,
			Text:       strings.TrimRight(part, " \t\n"),
			Method:     domain.PageMethodNative,
		})
	}
	return pages, nil
}
