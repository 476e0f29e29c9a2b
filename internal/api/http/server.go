package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	appRefund "github.com/recon-engine/recon-engine/internal/application/refund"
	appScanner "github.com/recon-engine/recon-engine/internal/application/scanner"
	"github.com/recon-engine/recon-engine/internal/config"
	"github.com/recon-engine/recon-engine/internal/domain/chain"
	"github.com/recon-engine/recon-engine/internal/domain/order"
	"github.com/recon-engine/recon-engine/internal/domain/session"
)

// Server holds dependencies for the admin HTTP handlers.
type Server struct {
	scannerSvc *appScanner.Service
	refundSvc  *appRefund.Service
	sessions   session.Repository
	orders     order.Repository
	registry   *chain.Registry
	chains     *config.Chains
	apiKey     string
	logger     zerolog.Logger
}

func NewServer(
	scannerSvc *appScanner.Service,
	refundSvc *appRefund.Service,
	sessions session.Repository,
	orders order.Repository,
	registry *chain.Registry,
	chains *config.Chains,
	apiKey string,
	logger zerolog.Logger,
) *Server {
	return &Server{
		scannerSvc: scannerSvc,
		refundSvc:  refundSvc,
		sessions:   sessions,
		orders:     orders,
		registry:   registry,
		chains:     chains,
		apiKey:     apiKey,
		logger:     logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Refund handlers wait for on-chain confirmation, so the request
	// timeout must outlast the confirmation timeout.
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/healthz", s.health)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/scan", s.runScan)
		r.Post("/refund-failed-session", s.refundFailedSession)
		r.Post("/refund-unused-transaction", s.refundUnusedTransaction)
		r.Post("/orders/{externalOrderId}/fulfilled", s.setOrderFulfilled)
		r.Post("/refund-order", s.refundOrder)
	})

	return r
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			respondError(w, http.StatusForbidden, "FORBIDDEN", "admin API key not configured")
			return
		}
		provided := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.apiKey)) != 1 {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
