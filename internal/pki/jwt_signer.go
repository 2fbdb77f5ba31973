package pki

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
	"github.com/wolfeidau/userpki/internal/models"
)

// certificateClaims binds every field of a certificate except the signature itself.
type certificateClaims struct {
	Email          string `json:"email"`
	KeyFingerprint string `json:"key_fp"`
	jwt.RegisteredClaims
}

// JWTSigner signs certificates as ES256 compact JWS tokens using a CA private key.
// The kid header is the Base58 SHA-256 of the CA public key DER bytes.
type JWTSigner struct {
	caKey *ecdsa.PrivateKey
	kid   string
}

// NewJWTSigner creates a JWTSigner from an ECDSA P-256 private key.
func NewJWTSigner(caKey *ecdsa.PrivateKey) (*JWTSigner, error) {
	if caKey == nil {
		return nil, errors.New("CA key is required")
	}
	if caKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("CA key must use P-256, got %s", caKey.Curve.Params().Name)
	}

	pubKeyDER, err := x509.MarshalPKIXPublicKey(&caKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CA public key: %w", err)
	}
	hash := sha256.Sum256(pubKeyDER)

	return &JWTSigner{
		caKey: caKey,
		kid:   base58.Encode(hash[:]),
	}, nil
}

// GenerateJWTSigner creates a JWTSigner with a fresh, process-lifetime CA key.
// Certificates it signs stop verifying once the process restarts.
func GenerateJWTSigner() (*JWTSigner, error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}
	return NewJWTSigner(caKey)
}

// ParseJWTSigner creates a JWTSigner from a PEM encoded EC private key (SEC1 or PKCS#8).
func ParseJWTSigner(keyData []byte) (*JWTSigner, error) {
	var err error

	keyBlock, _ := pem.Decode(keyData)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode CA key PEM")
	}

	var caKey *ecdsa.PrivateKey
	switch keyBlock.Type {
	case "EC PRIVATE KEY":
		caKey, err = x509.ParseECPrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CA private key: %w", err)
		}
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CA private key: %w", err)
		}
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("CA private key is not ECDSA")
		}
		caKey = ecKey
	default:
		return nil, fmt.Errorf("unsupported CA key PEM type %q", keyBlock.Type)
	}

	return NewJWTSigner(caKey)
}

// Kid returns the key ID placed in token headers.
func (s *JWTSigner) Kid() string {
	return s.kid
}

// Sign returns an ES256 token over the certificate fields.
func (s *JWTSigner) Sign(ctx context.Context, cert *models.Certificate) (string, error) {
	claims, err := claimsFor(cert)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.kid

	tokenString, err := token.SignedString(s.caKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign certificate: %w", err)
	}

	return tokenString, nil
}

// Verify checks the token signature and that every claim matches the certificate.
// Time based claims are compared, not validated; expiry is the verifier's call.
func (s *JWTSigner) Verify(ctx context.Context, cert *models.Certificate) error {
	var claims certificateClaims
	_, err := jwt.ParseWithClaims(cert.Signature, &claims, func(token *jwt.Token) (any, error) {
		if kid, _ := token.Header["kid"].(string); kid != s.kid {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return &s.caKey.PublicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	want, err := claimsFor(cert)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	if !claimsMatch(&claims, want) {
		return fmt.Errorf("%w: claims do not match certificate", ErrSignatureInvalid)
	}

	return nil
}

// Authentic returns true.
func (s *JWTSigner) Authentic() bool {
	return true
}

func claimsFor(cert *models.Certificate) (*certificateClaims, error) {
	fingerprint, err := Fingerprint(cert.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint public key: %w", err)
	}

	return &certificateClaims{
		Email:          cert.Email,
		KeyFingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        cert.SerialNumber,
			Issuer:    cert.Issuer,
			Subject:   cert.UserID,
			NotBefore: jwt.NewNumericDate(cert.ValidFrom),
			ExpiresAt: jwt.NewNumericDate(cert.ValidTo),
		},
	}, nil
}

func claimsMatch(got, want *certificateClaims) bool {
	if got.NotBefore == nil || got.ExpiresAt == nil {
		return false
	}
	return got.ID == want.ID &&
		got.Issuer == want.Issuer &&
		got.Subject == want.Subject &&
		got.Email == want.Email &&
		got.KeyFingerprint == want.KeyFingerprint &&
		got.NotBefore.Unix() == want.NotBefore.Unix() &&
		got.ExpiresAt.Unix() == want.ExpiresAt.Unix()
}
