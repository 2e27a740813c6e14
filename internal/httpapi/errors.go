package httpapi

import (
	"errors"
	"net/http"

	"github.com/roach88/parlapi/internal/querysql"
	"github.com/roach88/parlapi/internal/resource"
	"github.com/roach88/parlapi/internal/store"
)

// BodyError reports an unreadable request body.
type BodyError struct {
	Err error
}

func (e *BodyError) Error() string { return "invalid request body: " + e.Err.Error() }
func (e *BodyError) Unwrap() error { return e.Err }

// StatusOf maps an error onto an HTTP status. Errors caused by the request
// are 4xx, everything else is 500.
func StatusOf(err error) int {
	var (
		fe  *FormatError
		be  *BodyError
		die *querysql.DataIntegrityError
		qe  *store.QueryError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, resource.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, resource.ErrUnsupported):
		return http.StatusMethodNotAllowed
	case errors.As(err, &fe), errors.As(err, &be), errors.As(err, &die), errors.Is(err, querysql.ErrEmptyUpdate):
		return http.StatusBadRequest
	case errors.As(err, &qe):
		if qe.Client {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}
