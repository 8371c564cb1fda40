package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hypernova-labs/dgi-service/internal/httpx"
	"github.com/hypernova-labs/dgi-service/internal/models"
	"github.com/hypernova-labs/dgi-service/internal/validation"
)

// EmitterHandler manages emitter registration and API key issuance. These
// endpoints sit behind the admin token, not emitter API keys.
type EmitterHandler struct {
	db *gorm.DB
}

func NewEmitterHandler(db *gorm.DB) *EmitterHandler {
	return &EmitterHandler{db: db}
}

type createEmitterRequest struct {
	Name               string  `json:"name"`
	CompanyCode        string  `json:"company_code"`
	RUCTipo            string  `json:"ruc_tipo"`
	RUCNumero          string  `json:"ruc_numero"`
	RUCDV              string  `json:"ruc_dv"`
	SucEm              string  `json:"suc_em"`
	PtoFacDefault      string  `json:"pto_fac_default"`
	IAmb               int     `json:"iamb"`
	ITpEmisDefault     string  `json:"itpemis_default"`
	IDocDefault        string  `json:"idoc_default"`
	Email              string  `json:"email"`
	Phone              *string `json:"phone,omitempty"`
	AddressLine        *string `json:"address_line,omitempty"`
	UBICode            *string `json:"ubi_code,omitempty"`
	PACAPIKey          string  `json:"pac_api_key"`
	PACSubscriptionKey string  `json:"pac_subscription_key"`
}

// Create registers an emitter and issues its first API key. The raw key is
// returned exactly once; only its hash is stored.
func (h *EmitterHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEmitterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	v := validation.Violations{}
	validation.Required("name", req.Name, v)
	validation.Required("company_code", req.CompanyCode, v)
	validation.Required("ruc_tipo", req.RUCTipo, v)
	validation.Required("ruc_numero", req.RUCNumero, v)
	validation.Required("ruc_dv", req.RUCDV, v)
	validation.Required("suc_em", req.SucEm, v)
	validation.Required("pto_fac_default", req.PtoFacDefault, v)
	validation.Email("email", req.Email, v)
	validation.Required("pac_api_key", req.PACAPIKey, v)
	validation.Required("pac_subscription_key", req.PACSubscriptionKey, v)
	if req.IAmb != 1 && req.IAmb != 2 {
		v["iamb"] = "must_be_1_or_2"
	}
	if !v.Empty() {
		httpx.JSONError(w, http.StatusUnprocessableEntity, "validation_failed", v)
		return
	}

	emitter := models.Emitter{
		Name:               req.Name,
		CompanyCode:        req.CompanyCode,
		RUCTipo:            req.RUCTipo,
		RUCNumero:          req.RUCNumero,
		RUCDV:              req.RUCDV,
		SucEm:              req.SucEm,
		PtoFacDefault:      req.PtoFacDefault,
		IAmb:               req.IAmb,
		ITpEmisDefault:     defaultStr(req.ITpEmisDefault, "01"),
		IDocDefault:        defaultStr(req.IDocDefault, "01"),
		Email:              req.Email,
		Phone:              req.Phone,
		AddressLine:        req.AddressLine,
		UBICode:            req.UBICode,
		PACAPIKey:          req.PACAPIKey,
		PACSubscriptionKey: req.PACSubscriptionKey,
		IsActive:           true,
	}

	rawKey, err := newAPIKey()
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&emitter).Error; err != nil {
			return err
		}
		key := models.APIKey{
			EmitterID: emitter.ID,
			Name:      "default",
			KeyHash:   models.HashAPIKey(rawKey),
			IsActive:  true,
		}
		return tx.Create(&key).Error
	})
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{
		"emitter": emitter,
		"api_key": rawKey,
	})
}

func (h *EmitterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var emitter models.Emitter
	if err := h.db.First(&emitter, "id = ?", id).Error; err != nil {
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, emitter)
}

func (h *EmitterHandler) List(w http.ResponseWriter, r *http.Request) {
	var emitters []models.Emitter
	if err := h.db.Order("created_at DESC").Find(&emitters).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, emitters)
}

type createKeyRequest struct {
	Name string `json:"name"`
}

// CreateKey issues an additional API key for an emitter.
func (h *EmitterHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var emitter models.Emitter
	if err := h.db.First(&emitter, "id = ?", id).Error; err != nil {
		httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
		return
	}
	var req createKeyRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.JSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}
	rawKey, err := newAPIKey()
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	key := models.APIKey{
		EmitterID: emitter.ID,
		Name:      defaultStr(req.Name, "unnamed"),
		KeyHash:   models.HashAPIKey(rawKey),
		IsActive:  true,
	}
	if err := h.db.Create(&key).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":      key.ID,
		"name":    key.Name,
		"api_key": rawKey,
	})
}

func newAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "dgi_" + hex.EncodeToString(buf), nil
}

func defaultStr(s, def string) string {
	if s != "" {
		return s
	}
	return def
}
