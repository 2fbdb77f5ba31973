package memory

import (
	"context"
	"sync"

	"github.com/wolfeidau/userpki/internal/models"
	"github.com/wolfeidau/userpki/internal/store"
)

type identityKey struct {
	userID string
	email  string
}

// CertificateStore is an in-memory implementation of store.CertificateStore for development and testing
type CertificateStore struct {
	mu              sync.RWMutex
	certs           map[string]*models.Certificate        // indexed by serial number
	certsByIdentity map[identityKey][]*models.Certificate // indexed by (user ID, email), insertion order
	certsByUser     map[string][]*models.Certificate      // indexed by user ID, insertion order
}

// NewCertificateStore creates a new in-memory certificate store
func NewCertificateStore() *CertificateStore {
	return &CertificateStore{
		certs:           make(map[string]*models.Certificate),
		certsByIdentity: make(map[identityKey][]*models.Certificate),
		certsByUser:     make(map[string][]*models.Certificate),
	}
}

// Insert stores a certificate
func (s *CertificateStore) Insert(ctx context.Context, cert *models.Certificate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.certs[cert.SerialNumber]; exists {
		return store.ErrCertAlreadyExists
	}

	// Store a copy
	copy := *cert

	s.certs[cert.SerialNumber] = &copy

	key := identityKey{userID: cert.UserID, email: cert.Email}
	s.certsByIdentity[key] = append(s.certsByIdentity[key], &copy)

	s.certsByUser[cert.UserID] = append(s.certsByUser[cert.UserID], &copy)

	return nil
}

// FindByIdentity returns one certificate matching the user ID and email
func (s *CertificateStore) FindByIdentity(ctx context.Context, userID, email string, sel store.Selection) (*models.Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return pick(s.certsByIdentity[identityKey{userID: userID, email: email}], sel)
}

// FindByUserID returns one certificate issued to the user ID
func (s *CertificateStore) FindByUserID(ctx context.Context, userID string, sel store.Selection) (*models.Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return pick(s.certsByUser[userID], sel)
}

// Ping always succeeds for the memory store
func (s *CertificateStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored certificates
func (s *CertificateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.certs)
}

// pick selects a certificate by creation time, falling back to insertion order on ties.
// Returns a copy to avoid external modifications.
func pick(certs []*models.Certificate, sel store.Selection) (*models.Certificate, error) {
	if len(certs) == 0 {
		return nil, store.ErrCertNotFound
	}

	chosen := certs[0]
	for _, cert := range certs[1:] {
		if sel.Newest() {
			if !cert.CreatedAt.Before(chosen.CreatedAt) {
				chosen = cert
			}
			continue
		}
		if cert.CreatedAt.Before(chosen.CreatedAt) {
			chosen = cert
		}
	}

	copy := *chosen
	return &copy, nil
}
