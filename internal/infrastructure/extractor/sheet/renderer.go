package sheet

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

// Renderer turns each worksheet into one page: rows on lines, cells separated by tabs.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) Render(ctx context.Context, body []byte) ([]domain.PageText, error) {
	book, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		if errors.Is(err, excelize.ErrWorkbookPassword) {
			return nil, domain.WrapError(domain.ErrEncryptedDocument, "render sheet", err)
		}
		return nil, domain.WrapError(domain.ErrUnreadableDocument, "render sheet", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.WrapError(domain.ErrUnreadableDocument, "render sheet", errors.New("workbook has no sheets"))
	}

	pages := make([]domain.PageText, 0, len(sheets))
	for i, name := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := book.GetRows(name)
		if err != nil {
			return nil, domain.WrapError(domain.ErrUnreadableDocument, "render sheet", err)
		}
		pages = append(pages, domain.PageText{
			PageNumber: i + 1,
			Text:       renderRows(name, rows),
			Method:     domain.PageMethodSheet,
		})
	}
	return pages, nil
}

func renderRows(sheet string, rows [][]string) string {
	var b strings.Builder
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
		if line == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Sheet: ")
			b.WriteString(sheet)
			b.WriteByte('\n')
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
