package handlers

import (
	"errors"
	"net/http"

	"github.com/hypernova-labs/dgi-service/internal/httpx"
	"github.com/hypernova-labs/dgi-service/internal/invoicesvc"
	"github.com/hypernova-labs/dgi-service/internal/pac"
)

// writeServiceError maps the service error taxonomy onto HTTP statuses:
// validation 422, precondition 409, not found 404, everything else 500. PAC
// outcomes (rejection, transport failure) are invoice state, not HTTP errors.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *pac.ValidationError
	if errors.As(err, &verr) {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", verr.Violations)
		return
	}
	var perr *invoicesvc.PreconditionError
	if errors.As(err, &perr) {
		httpx.JSONError(w, http.StatusConflict, "precondition_failed", perr.Msg)
		return
	}
	if errors.Is(err, invoicesvc.ErrNotFound) {
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
		return
	}
	httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
}
