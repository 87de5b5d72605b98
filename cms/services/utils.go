package services

import (
	"errors"
	"log/slog"
	"net/http"

	"contro/cms/auth"
	"contro/cms/dynamic"
	"contro/cms/fieldtype"
	"contro/cms/schema"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

// entryErrorCode maps entry store errors to response codes. Every surface
// over the store reports the same codes for the same failures.
func entryErrorCode(err error) int {
	switch {
	case errors.Is(err, schema.ErrContentTypeNotFound), errors.Is(err, dynamic.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, schema.ErrValidation), errors.Is(err, fieldtype.ErrInvalidValue):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
