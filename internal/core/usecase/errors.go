package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

// stageError pins a document error code to a pipeline failure.
type stageError struct {
	code domain.ErrorCode
	err  error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *stageError) Unwrap() error {
	return e.err
}

func withCode(code domain.ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{code: code, err: err}
}

// errorCodeOf maps a pipeline error to the code persisted on the document.
func errorCodeOf(err error) domain.ErrorCode {
	var staged *stageError
	switch {
	case errors.As(err, &staged):
		return staged.code
	case errors.Is(err, domain.ErrEncryptedDocument):
		return domain.ErrorEncryptedPDF
	case errors.Is(err, domain.ErrUnsupportedFile):
		return domain.ErrorUnsupportedFile
	case errors.Is(err, domain.ErrUnreadableDocument):
		return domain.ErrorUnreadable
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorExtractionTimeout
	case errors.Is(err, context.Canceled):
		return domain.ErrorExtractionFailed
	default:
		return domain.ErrorServiceUnavailable
	}
}
