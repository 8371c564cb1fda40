package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hypernova-labs/dgi-service/internal/httpx"
	"github.com/hypernova-labs/dgi-service/internal/logger"
	"github.com/hypernova-labs/dgi-service/internal/models"
)

type contextKey string

const emitterIDKey contextKey = "emitter_id"

// EmitterIDFromRequest returns the emitter id placed in the context by the API
// key middleware.
func EmitterIDFromRequest(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(emitterIDKey).(uuid.UUID)
	return id, ok
}

// apiKeyAuth authenticates requests by bearer API key: the SHA-256 hash of the
// presented key is looked up; only active keys of active emitters pass.
func apiKeyAuth(db *gorm.DB, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			httpx.JSONError(w, http.StatusUnauthorized, "missing_api_key", nil)
			return
		}
		var key models.APIKey
		err := db.Where("key_hash = ? AND is_active = ?", models.HashAPIKey(raw), true).First(&key).Error
		if err != nil {
			httpx.JSONError(w, http.StatusUnauthorized, "invalid_api_key", nil)
			return
		}
		var active int64
		db.Model(&models.Emitter{}).Where("id = ? AND is_active = ?", key.EmitterID, true).Count(&active)
		if active == 0 {
			httpx.JSONError(w, http.StatusUnauthorized, "emitter_inactive", nil)
			return
		}
		now := time.Now()
		db.Model(&models.APIKey{}).Where("id = ?", key.ID).Update("last_used_at", now)

		ctx := context.WithValue(r.Context(), emitterIDKey, key.EmitterID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminAuth guards the emitter management surface with the shared admin token.
// An empty configured token disables the surface entirely.
func adminAuth(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			httpx.JSONError(w, http.StatusNotFound, "not_found", nil)
			return
		}
		presented := bearerToken(r)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// requestLogging logs each request with method, path, status, and latency.
func requestLogging(next http.Handler) http.Handler {
	log := logger.WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
