package handlers

import (
	"net/http"
	"strconv"

	"gorm.io/gorm"

	"github.com/hypernova-labs/dgi-service/internal/httpx"
	"github.com/hypernova-labs/dgi-service/internal/models"
	"github.com/hypernova-labs/dgi-service/internal/validation"
)

type CustomerHandler struct {
	db        *gorm.DB
	emitterID EmitterIDResolver
}

func NewCustomerHandler(db *gorm.DB, resolve EmitterIDResolver) *CustomerHandler {
	return &CustomerHandler{db: db, emitterID: resolve}
}

type createCustomerRequest struct {
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	Phone       *string `json:"phone,omitempty"`
	AddressLine *string `json:"address_line,omitempty"`
	UBICode     *string `json:"ubi_code,omitempty"`
	TaxID       *string `json:"tax_id,omitempty"`
}

func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	emitterID, ok := h.emitterID(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req createCustomerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	v := validation.Violations{}
	validation.Required("name", req.Name, v)
	validation.Email("email", req.Email, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", v)
		return
	}
	customer := models.Customer{
		EmitterID:   emitterID,
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		AddressLine: req.AddressLine,
		UBICode:     req.UBICode,
		TaxID:       req.TaxID,
		IsActive:    true,
	}
	if err := h.db.Create(&customer).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	httpx.JSON(w, http.StatusCreated, customer)
}

func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	emitterID, ok := h.emitterID(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	q := h.db.Where("emitter_id = ?", emitterID)
	if search := r.URL.Query().Get("q"); search != "" {
		q = q.Where("name LIKE ? OR email LIKE ?", "%"+search+"%", "%"+search+"%")
	}
	var customers []models.Customer
	if err := q.Order("name").Limit(limit).Offset(offset).Find(&customers).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, customers)
}
