package certificate

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/userpki/internal/models"
	"github.com/wolfeidau/userpki/internal/pki"
	"github.com/wolfeidau/userpki/internal/store"
	"github.com/wolfeidau/userpki/internal/store/memory"
)

// fakeClock is a settable time source shared by issuer and verifier
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingKeys wraps a KeyGenerator and records how often it was called
type countingKeys struct {
	pki.KeyGenerator
	mu    sync.Mutex
	calls int
}

func (k *countingKeys) Generate(ctx context.Context) (*models.KeyPair, error) {
	k.mu.Lock()
	k.calls++
	k.mu.Unlock()
	return k.KeyGenerator.Generate(ctx)
}

type failingKeys struct{}

func (failingKeys) Generate(ctx context.Context) (*models.KeyPair, error) {
	return nil, errors.New("entropy exhausted")
}

// failingStore fails every operation
type failingStore struct{}

var errBackend = errors.New("connection refused")

func (failingStore) Insert(ctx context.Context, cert *models.Certificate) error { return errBackend }
func (failingStore) FindByIdentity(ctx context.Context, userID, email string, sel store.Selection) (*models.Certificate, error) {
	return nil, errBackend
}
func (failingStore) FindByUserID(ctx context.Context, userID string, sel store.Selection) (*models.Certificate, error) {
	return nil, errBackend
}
func (failingStore) Ping(ctx context.Context) error { return errBackend }

type fixture struct {
	clock    *fakeClock
	keys     *countingKeys
	store    *memory.CertificateStore
	issuer   *Issuer
	verifier *Verifier
}

func newFixture(t *testing.T, signer pki.Signer, sel store.Selection) *fixture {
	t.Helper()

	gen, err := pki.NewRSAKeyGenerator(0)
	require.NoError(t, err)

	f := &fixture{
		clock: newFakeClock(),
		keys:  &countingKeys{KeyGenerator: gen},
		store: memory.NewCertificateStore(),
	}
	f.issuer = NewIssuer(f.keys, signer, f.store).WithClock(f.clock.Now)
	f.verifier = NewVerifier(f.store, signer, sel).WithClock(f.clock.Now)
	return f
}

func TestIssuer_Issue(t *testing.T) {
	f := newFixture(t, pki.NewPlaceholderSigner(), store.SelectLatest)
	ctx := context.Background()

	cert, privateKey, err := f.issuer.Issue(ctx, "u1", "u1@x.com")
	require.NoError(t, err)

	require.Equal(t, "u1", cert.UserID)
	require.Equal(t, "u1@x.com", cert.Email)
	require.Equal(t, models.IssuerName, cert.Issuer)
	require.Len(t, cert.SerialNumber, 32)
	require.Len(t, cert.Signature, 64)
	require.Equal(t, f.clock.Now(), cert.ValidFrom)
	require.Equal(t, 365*24*time.Hour, cert.ValidTo.Sub(cert.ValidFrom))
	require.True(t, cert.ValidFrom.Before(cert.ValidTo))
	require.False(t, cert.CreatedAt.IsZero())
	require.NotEmpty(t, privateKey)
	require.Equal(t, 1, f.store.Len())

	stored, err := f.store.FindByUserID(ctx, "u1", store.SelectLatest)
	require.NoError(t, err)
	require.Equal(t, *cert, *stored)
}

func TestIssuer_IssueKeyPairMatches(t *testing.T) {
	f := newFixture(t, pki.NewPlaceholderSigner(), store.SelectLatest)
	ctx := context.Background()

	_, privateKeyPEM, err := f.issuer.Issue(ctx, "u1", "u1@x.com")
	require.NoError(t, err)

	publicKeyPEM, err := f.verifier.GetPublicKey(ctx, "u1")
	require.NoError(t, err)

	pub, _, err := pki.ParsePublicKeyPEM(publicKeyPEM)
	require.NoError(t, err)
	priv, err := pki.ParsePrivateKeyPEM(privateKeyPEM)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("hello"))
	sig, err := rsa.SignPSS(rand.Reader, priv.(*rsa.PrivateKey), crypto.SHA256, digest[:], nil)
	require.NoError(t, err)
	require.NoError(t, rsa.VerifyPSS(pub.(*rsa.PublicKey), crypto.SHA256, digest[:], sig, nil))
}

func TestIssuer_IssueValidation(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		email  string
	}{
		{name: "missing user id", userID: "", email: "u1@x.com"},
		{name: "missing email", userID: "u1", email: ""},
		{name: "missing both", userID: "", email: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, pki.NewPlaceholderSigner(), store.SelectLatest)

			cert, privateKey, err := f.issuer.Issue(context.Background(), tt.userID, tt.email)
			require.ErrorIs(t, err, ErrValidation)
			require.Nil(t, cert)
			require.Empty(t, privateKey)
			require.Equal(t, 0, f.store.Len(), "no store write on validation failure")
			require.Equal(t, 0, f.keys.calls, "no key generation on validation failure")
		})
	}
}

func TestIssuer_IssueStorageError(t *testing.T) {
	gen, err := pki.NewRSAKeyGenerator(0)
	require.NoError(t, err)

	issuer := NewIssuer(gen, pki.NewPlaceholderSigner(), failingStore{})

	cert, privateKey, err := issuer.Issue(context.Background(), "u1", "u1@x.com")
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, errBackend)
	require.Nil(t, cert)
	require.Empty(t, privateKey)
}

func TestIssuer_IssueKeyGenerationError(t *testing.T) {
	st := memory.NewCertificateStore()
	issuer := NewIssuer(failingKeys{}, pki.NewPlaceholderSigner(), st)

	_, _, err := issuer.Issue(context.Background(), "u1", "u1@x.com")
	require.ErrorIs(t, err, ErrInternal)
	require.Equal(t, 0, st.Len())
}

func TestIssuer_IssueRepeatedIdentity(t *testing.T) {
	f := newFixture(t, pki.NewPlaceholderSigner(), store.SelectLatest)
	ctx := context.Background()

	first, _, err := f.issuer.Issue(ctx, "u1", "u1@x.com")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, _, err := f.issuer.Issue(ctx, "u1", "u1@x.com")
	require.NoError(t, err)

	require.NotEqual(t, first.SerialNumber, second.SerialNumber)
	require.Equal(t, 2, f.store.Len())

	result, err := f.verifier.Verify(ctx, "u1", "u1@x.com")
	require.NoError(t, err)
	require.Equal(t, second.SerialNumber, result.Certificate.SerialNumber)

	firstWins := NewVerifier(f.store, pki.NewPlaceholderSigner(), store.SelectFirst).WithClock(f.clock.Now)
	result, err = firstWins.Verify(ctx, "u1", "u1@x.com")
	require.NoError(t, err)
	require.Equal(t, first.SerialNumber, result.Certificate.SerialNumber)
}

func TestVerifier_Verify(t *testing.T) {
	f := newFixture(t, pki.NewPlaceholderSigner(), store.SelectLatest)
	ctx := context.Background()

	cert, _, err := f.issuer.Issue(ctx, "u1", "u1@x.com")
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		result, err := f.verifier.Verify(ctx, "u1", "u1@x.com")
		require.NoError(t, err)
		require.True(t, result.Valid)
		require.Equal(t, cert.SerialNumber, result.Certificate.SerialNumber)
	})

	t.Run("not found", func(t *testing.T) {
		result, err := f.verifier.Verify(ctx, "u2", "u2@x.com")
		require.ErrorIs(t, err, ErrNotFound)
		require.NotErrorIs(t, err, ErrExpired)
		require.Nil(t, result)
	})

	t.Run("wrong email is not found", func(t *testing.T) {
		_, err := f.verifier.Verify(ctx, "u1", "other@x.com")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := f.verifier.Verify(ctx, "", "u1@x.com")
		require.ErrorIs(t, err, ErrValidation)

		_, err = f.verifier.Verify(ctx, "u1", "")
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("storage error", func(t *testing.T) {
		v := NewVerifier(failingStore{}, pki.NewPlaceholderSigner(), store.SelectLatest)
		_, err := v.Verify(ctx, "u1", "u1@x.com")
		require.ErrorIs(t, err, ErrStorage)
		require.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestVerifier_VerifyExpiry(t *testing.T) {
	f := newFixture(t, pki.NewPlaceholderSigner(), store.SelectLatest)
	ctx := context.Background()

	cert, _, err := f.issuer.Issue(ctx, "u1", "u1@x.com")
	require.NoError(t, err)
	require.Equal(t, "u1", cert.UserID)

	result, err := f.verifier.Verify(ctx, "u1", "u1@x.com")
	require.NoError(t, err)
	require.True(t, result.Valid)

	// exactly at validTo the certificate is still current
	f.clock.Advance(models.ValidityPeriod)
	_, err = f.verifier.Verify(ctx, "u1", "u1@x.com")
	require.NoError(t, err)

	f.clock.Advance(time.Millisecond)
	_, err = f.verifier.Verify(ctx, "u1", "u1@x.com")
	require.ErrorIs(t, err, ErrExpired)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestVerifier_VerifyExpiredWellFormedRecord(t *testing.T) {
	st := memory.NewCertificateStore()
	ctx := context.Background()
	past := time.Now().Add(-2 * models.ValidityPeriod)

	require.NoError(t, st.Insert(ctx, &models.Certificate{
		SerialNumber: "00112233445566778899aabbccddeeff",
		UserID:       "u1",
		Email:        "u1@x.com",
		PublicKey:    "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n",
		Issuer:       models.IssuerName,
		ValidFrom:    past,
		ValidTo:      past.Add(models.ValidityPeriod),
		Signature:    "ff",
		CreatedAt:    past,
	}))

	_, err := NewVerifier(st, pki.NewPlaceholderSigner(), store.SelectLatest).Verify(ctx, "u1", "u1@x.com")
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifier_VerifySignature(t *testing.T) {
	signer, err := pki.GenerateJWTSigner()
	require.NoError(t, err)

	f := newFixture(t, signer, store.SelectLatest)
	ctx := context.Background()

	_, _, err = f.issuer.Issue(ctx, "u1", "u1@x.com")
	require.NoError(t, err)

	result, err := f.verifier.Verify(ctx, "u1", "u1@x.com")
	require.NoError(t, err)
	require.True(t, result.Valid)

	// A record whose signature came from another CA key is rejected
	other, err := pki.GenerateJWTSigner()
	require.NoError(t, err)
	foreign := NewIssuer(f.keys, other, f.store).WithClock(f.clock.Now)
	f.clock.Advance(time.Second)
	_, _, err = foreign.Issue(ctx, "u2", "u2@x.com")
	require.NoError(t, err)

	_, err = f.verifier.Verify(ctx, "u2", "u2@x.com")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifier_GetPublicKey(t *testing.T) {
	f := newFixture(t, pki.NewPlaceholderSigner(), store.SelectLatest)
	ctx := context.Background()

	cert, _, err := f.issuer.Issue(ctx, "u1", "u1@x.com")
	require.NoError(t, err)

	publicKey, err := f.verifier.GetPublicKey(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, cert.PublicKey, publicKey)

	_, err = f.verifier.GetPublicKey(ctx, "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.verifier.GetPublicKey(ctx, "u2")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = NewVerifier(failingStore{}, pki.NewPlaceholderSigner(), store.SelectLatest).GetPublicKey(ctx, "u1")
	require.ErrorIs(t, err, ErrStorage)
}

func TestVerifier_GetPublicKeyMissingField(t *testing.T) {
	st := memory.NewCertificateStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.Insert(ctx, &models.Certificate{
		SerialNumber: "00112233445566778899aabbccddeeff",
		UserID:       "u1",
		Email:        "u1@x.com",
		Issuer:       models.IssuerName,
		ValidFrom:    now,
		ValidTo:      now.Add(models.ValidityPeriod),
		CreatedAt:    now,
	}))

	_, err := NewVerifier(st, pki.NewPlaceholderSigner(), store.SelectLatest).GetPublicKey(ctx, "u1")
	require.ErrorIs(t, err, ErrNotFound)
}
