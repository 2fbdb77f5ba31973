package models

import "time"

// IssuerName is the fixed name of the issuing authority stamped on every certificate.
const IssuerName = "COO Certifying Authority"

// ValidityPeriod is how long an issued certificate stays current.
const ValidityPeriod = 365 * 24 * time.Hour

// KeyPair holds PEM encoded key material for a single issuance.
// The private key is handed back to the caller once and is never persisted.
type KeyPair struct {
	PublicKey  string // PEM, SubjectPublicKeyInfo
	PrivateKey string // PEM, PKCS#8
}

// Certificate binds a public key to a (userId, email) identity for a validity window.
// The JSON layout is both the wire format and the persisted document layout.
type Certificate struct {
	SerialNumber string    `json:"serialNumber"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	PublicKey    string    `json:"publicKey"`
	Issuer       string    `json:"issuer"`
	ValidFrom    time.Time `json:"validFrom"`
	ValidTo      time.Time `json:"validTo"`
	Signature    string    `json:"signature"`
	CreatedAt    time.Time `json:"createdAt,omitzero"`
}

// IsExpiredAt returns true if t is past the end of the validity window.
// A certificate is still current at exactly ValidTo.
func (c *Certificate) IsExpiredAt(t time.Time) bool {
	return t.After(c.ValidTo)
}
