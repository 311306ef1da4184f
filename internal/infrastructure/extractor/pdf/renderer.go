package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

// Renderer reads the embedded text layer of each PDF page. Scanned pages come back empty.
type Renderer struct {
	maxPages int
}

func NewRenderer(maxPages int) *Renderer {
	if maxPages <= 0 {
		maxPages = 200
	}
	return &Renderer{maxPages: maxPages}
}

func (r *Renderer) Render(ctx context.Context, body []byte) (pages []domain.PageText, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = domain.WrapError(domain.ErrUnreadableDocument, "render pdf", fmt.Errorf("parser panic: %v", rec))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, domain.WrapError(domain.ErrEncryptedDocument, "render pdf", err)
		}
		return nil, domain.WrapError(domain.ErrUnreadableDocument, "render pdf", err)
	}

	total := reader.NumPage()
	if total == 0 {
		return nil, domain.WrapError(domain.ErrUnreadableDocument, "render pdf", errors.New("document has no pages"))
	}
	total = min(total, r.maxPages)

	pages = make([]domain.PageText, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		text := ""
		if !page.V.IsNull() {
			plain, err := page.GetPlainText(nil)
			if err != nil {
				return nil, domain.WrapError(domain.ErrUnreadableDocument, "render pdf", fmt.Errorf("page %d: %w", i, err))
			}
			text = strings.TrimSpace(plain)
		}
		pages = append(pages, domain.PageText{
			PageNumber: i,
			Text:       text,
			Method:     domain.PageMethodNative,
		})
	}
	return pages, nil
}
