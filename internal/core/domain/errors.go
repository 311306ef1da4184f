package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound      = errors.New("document not found")
	ErrCaseNotFound          = errors.New("case not found")
	ErrFieldNotFound         = errors.New("field not found")
	ErrChecklistItemNotFound = errors.New("checklist item not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrTemporary             = errors.New("temporary failure")
	ErrCaseClosed            = errors.New("case closed")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrEvidenceMissing       = errors.New("evidence missing")
	ErrUnsupportedFile       = errors.New("unsupported file")
	ErrEncryptedDocument     = errors.New("encrypted document")
	ErrUnreadableDocument    = errors.New("unreadable document")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsNotFound matches any of the not-found kinds.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrCaseNotFound) ||
		errors.Is(err, ErrFieldNotFound) ||
		errors.Is(err, ErrChecklistItemNotFound)
}
