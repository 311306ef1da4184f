package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

const xlsxMime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// PageSource renders one file format into per-page text.
type PageSource interface {
	Render(ctx context.Context, body []byte) ([]domain.PageText, error)
}

// Recognizer is an OCR backend.
type Recognizer interface {
	Recognize(ctx context.Context, mimeType string, body []byte) ([]domain.PageText, error)
}

// Router picks a page source by mime type and falls back to OCR for images and
// PDFs without a text layer.
type Router struct {
	pdf   PageSource
	sheet PageSource
	text  PageSource
	ocr   Recognizer
}

func NewRouter(pdf, sheet, text PageSource, ocr Recognizer) *Router {
	return &Router{pdf: pdf, sheet: sheet, text: text, ocr: ocr}
}

func (r *Router) RenderPages(ctx context.Context, doc *domain.Document, body []byte) ([]domain.PageText, error) {
	mime := strings.ToLower(strings.TrimSpace(doc.MimeType))
	switch {
	case mime == "application/pdf":
		pages, err := r.pdf.Render(ctx, body)
		if err != nil {
			return nil, err
		}
		if hasText(pages) || r.ocr == nil {
			return pages, nil
		}
		slog.Info("pdf_ocr_fallback", "document_id", doc.ID, "pages", len(pages))
		return r.recognize(ctx, mime, body)
	case mime == xlsxMime:
		return r.sheet.Render(ctx, body)
	case strings.HasPrefix(mime, "text/"):
		return r.text.Render(ctx, body)
	case strings.HasPrefix(mime, "image/"):
		return r.recognize(ctx, mime, body)
	default:
		return nil, domain.WrapError(domain.ErrUnsupportedFile, "render pages", fmt.Errorf("mime type %q", doc.MimeType))
	}
}

func (r *Router) recognize(ctx context.Context, mime string, body []byte) ([]domain.PageText, error) {
	if r.ocr == nil {
		return nil, domain.WrapError(domain.ErrTemporary, "render pages", errors.New("ocr service is not configured"))
	}
	return r.ocr.Recognize(ctx, mime, body)
}

func hasText(pages []domain.PageText) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}
