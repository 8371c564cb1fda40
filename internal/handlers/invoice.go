package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hypernova-labs/dgi-service/internal/httpx"
	"github.com/hypernova-labs/dgi-service/internal/invoicesvc"
	"github.com/hypernova-labs/dgi-service/internal/logger"
	"github.com/hypernova-labs/dgi-service/internal/models"
)

// EmitterIDResolver extracts the authenticated emitter from the request. The
// server's auth middleware provides the implementation.
type EmitterIDResolver func(r *http.Request) (uuid.UUID, bool)

type InvoiceHandler struct {
	svc       *invoicesvc.Service
	emitterID EmitterIDResolver
	log       zerolog.Logger
}

func NewInvoiceHandler(svc *invoicesvc.Service, resolve EmitterIDResolver) *InvoiceHandler {
	return &InvoiceHandler{svc: svc, emitterID: resolve, log: logger.WithComponent("handlers")}
}

// Create registers and submits an invoice. A replayed idempotency key returns
// the previously created invoice with 200 instead of 201.
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	emitterID, ok := h.emitterID(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var in invoicesvc.CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && in.IdempotencyKey == nil {
		in.IdempotencyKey = &key
	}

	inv, created, err := h.svc.Create(r.Context(), emitterID, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, inv)
}

func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	emitterID, ok := h.emitterID(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	inv, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if inv.EmitterID != emitterID {
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	emitterID, ok := h.emitterID(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	invs, total, err := h.svc.List(r.Context(), emitterID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"invoices": invs,
		"total":    total,
	})
}

func (h *InvoiceHandler) Files(w http.ResponseWriter, r *http.Request) {
	emitterID, ok := h.emitterID(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	_, id, done := h.ownedInvoice(w, r, emitterID)
	if done {
		return
	}
	files, err := h.svc.Files(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, files)
}

func (h *InvoiceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	emitterID, ok := h.emitterID(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	_, id, done := h.ownedInvoice(w, r, emitterID)
	if done {
		return
	}
	inv, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) Retry(w http.ResponseWriter, r *http.Request) {
	emitterID, ok := h.emitterID(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	_, id, done := h.ownedInvoice(w, r, emitterID)
	if done {
		return
	}
	inv, err := h.svc.Retry(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type resendRequest struct {
	To []string `json:"to,omitempty"`
	Cc []string `json:"cc,omitempty"`
}

func (h *InvoiceHandler) ResendEmail(w http.ResponseWriter, r *http.Request) {
	emitterID, ok := h.emitterID(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	_, id, done := h.ownedInvoice(w, r, emitterID)
	if done {
		return
	}
	var req resendRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.JSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}
	if err := h.svc.ResendEmail(r.Context(), id, req.To, req.Cc); err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"email_status": "SENT"})
}

// ownedInvoice parses the path id and checks the invoice belongs to the
// authenticated emitter. done=true means a response was already written.
func (h *InvoiceHandler) ownedInvoice(w http.ResponseWriter, r *http.Request, emitterID uuid.UUID) (inv *models.Invoice, id uuid.UUID, done bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return nil, uuid.Nil, true
	}
	inv, err = h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return nil, uuid.Nil, true
	}
	if inv.EmitterID != emitterID {
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
		return nil, uuid.Nil, true
	}
	return inv, id, false
}
