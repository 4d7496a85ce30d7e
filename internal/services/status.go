package services

import (
	"errors"
	"net/http"

	"github.com/Lllllllleong/documentingest/internal/document"
)

// HTTPStatus maps a processing error to the status returned to callers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, document.ErrInvalidReference),
		errors.Is(err, document.ErrUnsupportedReference),
		errors.Is(err, document.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrExtractionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, document.ErrFetchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
