package server

import (
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/hypernova-labs/dgi-service/internal/config"
	"github.com/hypernova-labs/dgi-service/internal/handlers"
	"github.com/hypernova-labs/dgi-service/internal/httpx"
	"github.com/hypernova-labs/dgi-service/internal/invoicesvc"
	"github.com/hypernova-labs/dgi-service/internal/storage"
)

// New builds the HTTP server with all routes wired. Invoice and customer
// routes require an emitter API key; emitter management requires the admin
// token; /healthz and /files are open.
func New(cfg *config.Config, db *gorm.DB, svc *invoicesvc.Service, store storage.ObjectStore) *http.Server {
	mux := http.NewServeMux()

	invoiceH := handlers.NewInvoiceHandler(svc, EmitterIDFromRequest)
	customerH := handlers.NewCustomerHandler(db, EmitterIDFromRequest)
	emitterH := handlers.NewEmitterHandler(db)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Emitter-facing API.
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/invoices", invoiceH.Create)
	api.HandleFunc("GET /v1/invoices", invoiceH.List)
	api.HandleFunc("GET /v1/invoices/{id}", invoiceH.Get)
	api.HandleFunc("GET /v1/invoices/{id}/files", invoiceH.Files)
	api.HandleFunc("POST /v1/invoices/{id}/cancel", invoiceH.Cancel)
	api.HandleFunc("POST /v1/invoices/{id}/retry", invoiceH.Retry)
	api.HandleFunc("POST /v1/invoices/{id}/resend-email", invoiceH.ResendEmail)
	api.HandleFunc("POST /v1/customers", customerH.Create)
	api.HandleFunc("GET /v1/customers", customerH.List)
	mux.Handle("/v1/", apiKeyAuth(db, api))

	// Emitter management.
	admin := http.NewServeMux()
	admin.HandleFunc("POST /admin/emitters", emitterH.Create)
	admin.HandleFunc("GET /admin/emitters", emitterH.List)
	admin.HandleFunc("GET /admin/emitters/{id}", emitterH.Get)
	admin.HandleFunc("POST /admin/emitters/{id}/keys", emitterH.CreateKey)
	mux.Handle("/admin/", adminAuth(cfg.AdminToken, admin))

	// Local storage backend serves its artifacts directly.
	if local, ok := store.(*storage.LocalStore); ok {
		mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(local.Dir()))))
	}

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      requestLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
