package httpadapter

import (
	"net/http"

	"github.com/kirillkom/trade-evidence/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrEvidenceMissing),
		domain.IsKind(err, domain.ErrEncryptedDocument),
		domain.IsKind(err, domain.ErrUnreadableDocument):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnsupportedFile):
		return http.StatusUnsupportedMediaType
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrCaseClosed),
		domain.IsKind(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorLabel is a bounded metrics label for a failed request.
func errorLabel(err error) string {
	switch mapErrorToHTTPStatus(err) {
	case http.StatusBadRequest:
		return "invalid"
	case http.StatusUnsupportedMediaType:
		return "unsupported"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}
