package server

import (
	"errors"
	"net/http"

	"github.com/wolfeidau/userpki/internal/certificate"
	"github.com/wolfeidau/userpki/internal/models"
)

type identityRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type publicKeyRequest struct {
	UserID string `json:"userId"`
}

type generateResponse struct {
	Message     string              `json:"message"`
	Certificate *models.Certificate `json:"certificate"`
	PrivateKey  string              `json:"privateKey"`
}

type publicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

func (s *Server) generateCertificate(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logFrom(r).Debug().Err(err).Msg("Invalid generate request body")
		writeError(w, http.StatusBadRequest, "User ID and email are required")
		return
	}

	cert, privateKey, err := s.issuer.Issue(r.Context(), req.UserID, req.Email)
	switch {
	case err == nil:
	case errors.Is(err, certificate.ErrValidation):
		writeError(w, http.StatusBadRequest, "User ID and email are required")
		return
	default:
		logFrom(r).Error().Err(err).Str("user_id", req.UserID).Msg("Certificate generation failed")
		writeError(w, http.StatusInternalServerError, "Certificate generation failed")
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		Message:     "Certificate generated successfully",
		Certificate: cert,
		PrivateKey:  privateKey,
	})
}

func (s *Server) verifyCertificate(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logFrom(r).Debug().Err(err).Msg("Invalid verify request body")
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	result, err := s.verifier.Verify(r.Context(), req.UserID, req.Email)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, certificate.ErrValidation):
		writeError(w, http.StatusBadRequest, "Missing required fields")
	case errors.Is(err, certificate.ErrNotFound):
		writeError(w, http.StatusNotFound, "Certificate not found")
	case errors.Is(err, certificate.ErrExpired):
		writeError(w, http.StatusUnauthorized, "Certificate expired")
	case errors.Is(err, certificate.ErrInvalidSignature):
		logFrom(r).Warn().Err(err).Str("user_id", req.UserID).Msg("Certificate signature rejected")
		writeError(w, http.StatusUnauthorized, "Certificate signature invalid")
	case errors.Is(err, certificate.ErrStorage):
		logFrom(r).Error().Err(err).Msg("Certificate lookup failed")
		writeError(w, http.StatusInternalServerError, "Database error")
	default:
		logFrom(r).Error().Err(err).Msg("Certificate verification failed")
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
	}
}

func (s *Server) getPublicKey(w http.ResponseWriter, r *http.Request) {
	var req publicKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logFrom(r).Debug().Err(err).Msg("Invalid public key request body")
		writeError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	publicKey, err := s.verifier.GetPublicKey(r.Context(), req.UserID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, publicKeyResponse{PublicKey: publicKey})
	case errors.Is(err, certificate.ErrValidation):
		writeError(w, http.StatusBadRequest, "User ID is required")
	case errors.Is(err, certificate.ErrNotFound):
		writeError(w, http.StatusNotFound, "Public key not found for the user")
	default:
		logFrom(r).Error().Err(err).Msg("Public key lookup failed")
		writeError(w, http.StatusInternalServerError, "Failed to fetch public key")
	}
}
