package plaintext

import (
	"context"
	"testing"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

func TestRenderSplitsOnFormFeed(t *testing.T) {
	pages, err := NewRenderer().Render(context.Background(), []byte("Invoice No: INV-1\r\nTotal: 10\fPage two\n\f"))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if pages[0].PageNumber != 1 || pages[0].Text != "Invoice No: INV-1\nTotal: 10" {
		t.Fatalf("unexpected first page: %+v", pages[0])
	}
	if pages[1].PageNumber != 2 || pages[1].Text != "Page two" || pages[1].Method != domain.PageMethodNative {
		t.Fatalf("unexpected second page: %+v", pages[1])
	}
}

func TestRenderRejectsBinary(t *testing.T) {
	_, err := NewRenderer().Render(context.Background(), []byte{0xff, 0xfe, 0x00})
	if !domain.IsKind(err, domain.ErrUnsupportedFile) {
		t.Fatalf("expected unsupported file, got %v", err)
	}
}
