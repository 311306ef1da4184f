package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
	"github.com/kirillkom/trade-evidence/internal/core/ports"
)

const defaultMaxUploadBytes int64 = 50 << 20

var supportedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/tiff":      true,
	"text/plain":      true,
	"text/csv":        true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

type IngestDocumentUseCase struct {
	cases     ports.CaseRepository
	repo      ports.DocumentRepository
	storage   ports.ObjectStorage
	queue     ports.MessageQueue
	audit     ports.AuditLog
	evaluator *CaseEvaluatorService
	maxBytes  int64

	now   func() time.Time
	newID func() string
}

func NewIngestDocumentUseCase(
	cases ports.CaseRepository,
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	audit ports.AuditLog,
	evaluator *CaseEvaluatorService,
	maxBytes int64,
) *IngestDocumentUseCase {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	return &IngestDocumentUseCase{
		cases:     cases,
		repo:      repo,
		storage:   storage,
		queue:     queue,
		audit:     audit,
		evaluator: evaluator,
		maxBytes:  maxBytes,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Upload stores the bytes content-addressed and enqueues processing. A file
// already present in the case (same sha256) returns the existing document.
func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	caseID, filename, mimeType string,
	body io.Reader,
) (*domain.Document, error) {
	c, err := uc.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	switch {
	case c.Status == domain.CaseClosed:
		return nil, domain.WrapError(domain.ErrCaseClosed, "upload document", fmt.Errorf("case %s is closed", caseID))
	case !c.Status.AcceptsUploads():
		return nil, domain.WrapError(domain.ErrInvalidTransition, "upload document", fmt.Errorf("case %s is %s", caseID, c.Status))
	}

	mimeType = normalizeMimeType(mimeType, filename)
	if !supportedMimeTypes[mimeType] {
		return nil, domain.WrapError(domain.ErrUnsupportedFile, "upload document", fmt.Errorf("mime type %q", mimeType))
	}

	data, err := io.ReadAll(io.LimitReader(body, uc.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("empty file"))
	}
	if int64(len(data)) > uc.maxBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload document", fmt.Errorf("file exceeds %d bytes", uc.maxBytes))
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if existing, err := uc.repo.FindByHash(ctx, caseID, hash); err == nil {
		slog.Info("document_deduplicated", "case_id", caseID, "document_id", existing.ID, "content_hash", hash)
		return existing, nil
	} else if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		return nil, fmt.Errorf("lookup content hash: %w", err)
	}

	if err := uc.storage.Save(ctx, StorageKey(hash), bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	now := uc.now()
	doc := &domain.Document{
		ID:          uc.newID(),
		CaseID:      caseID,
		Filename:    cleanFilename(filename),
		MimeType:    mimeType,
		SizeBytes:   int64(len(data)),
		ContentHash: hash,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}
	uc.recordUpload(ctx, doc)

	if err := uc.queue.PublishDocumentUploaded(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish upload event: %w", err)
	}

	if uc.evaluator != nil {
		err := uc.evaluator.withCaseLock(ctx, caseID, func() error {
			return uc.evaluator.refreshStatusLocked(ctx, caseID)
		})
		if err != nil {
			slog.Warn("case_status_refresh_failed", "case_id", caseID, "error", err.Error())
		}
	}
	return doc, nil
}

func (uc *IngestDocumentUseCase) recordUpload(ctx context.Context, doc *domain.Document) {
	if uc.audit == nil {
		return
	}
	err := uc.audit.Record(ctx, domain.AuditEntry{
		ID:         uc.newID(),
		CaseID:     doc.CaseID,
		Actor:      "uploader",
		Action:     "document_uploaded",
		EntityType: "document",
		EntityID:   doc.ID,
		Details:    map[string]string{"filename": doc.Filename, "content_hash": doc.ContentHash},
		CreatedAt:  doc.CreatedAt,
	})
	if err != nil {
		slog.Warn("audit_record_failed", "action", "document_uploaded", "entity_id", doc.ID, "error", err.Error())
	}
}

// StorageKey is the content-addressed object key for a sha256 hex digest.
func StorageKey(hash string) string {
	if len(hash) < 2 {
		return "sha256/" + hash
	}
	return "sha256/" + hash[:2] + "/" + hash
}

func normalizeMimeType(mimeType, filename string) string {
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return mimeType
	}
}

func cleanFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	if base == "" || base == "." || base == "/" {
		return "document.bin"
	}
	return base
}
