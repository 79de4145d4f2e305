package app

import (
	"errors"
	"net/http"

	"idealab/internal/store"
)

// mapError translates service-level failures into HTTP responses.
func mapError(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, store.ErrStaleWrite):
		return http.StatusConflict, "STALE_WRITE", "a newer save already replaced this board"
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal error"
	}
}
