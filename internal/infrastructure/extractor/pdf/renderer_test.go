package pdf

import (
	"context"
	"testing"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

func TestRenderCorruptPDFIsUnreadable(t *testing.T) {
	_, err := NewRenderer(0).Render(context.Background(), []byte("%PDF-1.7\nthis is not a real pdf"))
	if !domain.IsKind(err, domain.ErrUnreadableDocument) {
		t.Fatalf("expected unreadable document, got %v", err)
	}
}

func TestRenderEmptyBodyIsUnreadable(t *testing.T) {
	_, err := NewRenderer(0).Render(context.Background(), nil)
	if !domain.IsKind(err, domain.ErrUnreadableDocument) {
		t.Fatalf("expected unreadable document, got %v", err)
	}
}
