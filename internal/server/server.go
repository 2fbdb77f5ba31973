package server

import (
	"net/http"

	"github.com/wolfeidau/userpki/internal/certificate"
	httpmiddleware "github.com/wolfeidau/userpki/internal/http"
	"github.com/wolfeidau/userpki/internal/store"
)

// Server exposes certificate issuance and verification over JSON.
type Server struct {
	issuer       *certificate.Issuer
	verifier     *certificate.Verifier
	store        store.CertificateStore
	issueLimiter *httpmiddleware.RateLimiter
}

// NewServer creates a server around the issuer, verifier and the store they share.
// The store is only used for health checks.
func NewServer(issuer *certificate.Issuer, verifier *certificate.Verifier, certStore store.CertificateStore) *Server {
	return &Server{
		issuer:   issuer,
		verifier: verifier,
		store:    certStore,
	}
}

// WithIssueLimiter applies a per client IP limit to certificate generation.
func (s *Server) WithIssueLimiter(l *httpmiddleware.RateLimiter) *Server {
	s.issueLimiter = l
	return s
}

// Handler returns the HTTP handler for the API routes.
// Client IP and request logging middleware are applied by the caller.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("GET /health", s.health)

	mux.Handle("POST /generate-certificate",
		httpmiddleware.RateLimitMiddleware(s.issueLimiter)(http.HandlerFunc(s.generateCertificate)))
	mux.HandleFunc("POST /verify-certificate", s.verifyCertificate)
	mux.HandleFunc("POST /get-public-key", s.getPublicKey)

	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		logFrom(r).Error().Err(err).Msg("Store health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
